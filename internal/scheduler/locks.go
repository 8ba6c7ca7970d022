package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	fixedassetdomain "github.com/smallbiznis/glcore/internal/fixedasset/domain"
	"gorm.io/gorm"
)

// WorkLine is one due, unposted schedule line claimed for posting.
type WorkLine struct {
	LineID     snowflake.ID
	ScheduleID snowflake.ID
	TenantID   snowflake.ID
	PeriodKey  string
	Kind       fixedassetdomain.ScheduleKind
	Status     fixedassetdomain.ScheduleStatus
	Posted     bool
}

// fetchDueLines claims up to limit due lines across all tenants,
// skipping any line in exclude. The SKIP LOCKED claim lets multiple
// scheduler nodes run concurrently without double-posting; the engine's
// idempotent PostPeriod covers the remaining races.
func (s *Scheduler) fetchDueLines(ctx context.Context, tx *gorm.DB, now time.Time, limit int, exclude []snowflake.ID) ([]WorkLine, error) {
	currentPeriod := now.UTC().Format("2006-01")

	// sqlite has no row locks; single-node test setups do not need the
	// claim anyway.
	lock := "FOR UPDATE SKIP LOCKED"
	if tx.Dialector.Name() == "sqlite" {
		lock = ""
	}

	query := `SELECT l.id AS line_id, l.schedule_id, d.tenant_id, l.period_key, d.kind, d.status, l.posted
	 FROM depr_schedule_lines l
	 JOIN depr_schedules d ON d.id = l.schedule_id
	 WHERE l.posted = ? AND d.status = ? AND l.period_key < ?`
	args := []any{false, fixedassetdomain.ScheduleStatusActive, currentPeriod}
	if len(exclude) > 0 {
		query += ` AND l.id NOT IN (?)`
		args = append(args, exclude)
	}
	query += fmt.Sprintf(` ORDER BY l.period_key, l.id LIMIT ? %s`, lock)
	args = append(args, limit)

	var lines []WorkLine
	err := tx.WithContext(ctx).Raw(query, args...).Scan(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}
