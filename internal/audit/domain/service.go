package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	AuditLog(ctx context.Context, tenantID snowflake.ID, actorID, action, targetType, targetID string, metadata map[string]any) error
}

var (
	ErrInvalidAction = errors.New("invalid_action")
)
