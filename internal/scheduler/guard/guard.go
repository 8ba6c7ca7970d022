package guard

import (
	"errors"
	"strings"
	"time"

	fixedassetdomain "github.com/smallbiznis/glcore/internal/fixedasset/domain"
)

var (
	ErrScheduleNotActive = errors.New("schedule_not_active")
	ErrLineAlreadyPosted = errors.New("line_already_posted")
	ErrInvalidPeriodKey  = errors.New("invalid_period_key")
	ErrPeriodNotDue      = errors.New("period_not_due")
)

// EnsureScheduleActive rejects work against invalid schedules; they must
// be rebuilt before any further posting.
func EnsureScheduleActive(status fixedassetdomain.ScheduleStatus) error {
	if status != fixedassetdomain.ScheduleStatusActive {
		return ErrScheduleNotActive
	}
	return nil
}

// EnsureLineCanPost checks that a schedule line is unposted and its
// period has elapsed relative to now.
func EnsureLineCanPost(posted bool, periodKey string, now time.Time) error {
	if posted {
		return ErrLineAlreadyPosted
	}
	periodKey = strings.TrimSpace(periodKey)
	start, err := time.Parse("2006-01", periodKey)
	if err != nil {
		return ErrInvalidPeriodKey
	}
	if now.Before(start.AddDate(0, 1, 0)) {
		return ErrPeriodNotDue
	}
	return nil
}
