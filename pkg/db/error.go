package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports whether err is a unique-constraint violation
// on any supported driver. The ledger relies on this to turn duplicate
// idempotency keys and account codes into domain errors instead of 500s.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// Not every driver maps onto gorm.ErrDuplicatedKey, so fall back to
	// the driver messages: postgres 23505, mysql 1062, sqlite 2067.
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}
