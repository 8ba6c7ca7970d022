package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/glcore/internal/clock"
	fixedassetdomain "github.com/smallbiznis/glcore/internal/fixedasset/domain"
	"github.com/smallbiznis/glcore/internal/scheduler/guard"
	"github.com/smallbiznis/glcore/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	FixedAssetSvc fixedassetdomain.Service
	Config        Config `optional:"true"`
}

// Scheduler posts due depreciation and accretion periods on a timer. It
// is safe to run on multiple nodes: lines are claimed with SKIP LOCKED
// and the engine's posting path is idempotent.
type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	fixedAssetSvc fixedassetdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.FixedAssetSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		fixedAssetSvc: p.FixedAssetSvc,
	}, nil
}

// RunOnce drains all currently due lines, batch by batch. A line whose
// posting fails is set aside for the rest of the run and retried on the
// next tick, so a poisoned line cannot monopolize the batch or starve
// due lines sorted behind it.
func (s *Scheduler) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	runID := ulid.Make().String()
	log := s.log.With(zap.String("job", "post_due_periods"), zap.String("run_id", runID))
	now := s.clock.Now()

	var jobErr error
	var failed []snowflake.ID
	processed := 0
	for {
		if ctx.Err() != nil {
			jobErr = errors.Join(jobErr, ctx.Err())
			break
		}

		var lines []WorkLine
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			lines, err = s.fetchDueLines(ctx, tx, now, s.cfg.BatchSize, failed)
			return err
		})
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			break
		}
		if len(lines) == 0 {
			break
		}

		for _, line := range lines {
			if ctx.Err() != nil {
				jobErr = errors.Join(jobErr, ctx.Err())
				break
			}
			if err := s.postLine(ctx, line, now); err != nil {
				failed = append(failed, line.LineID)
				jobErr = errors.Join(jobErr, fmt.Errorf("line %s period %s: %w", line.LineID, line.PeriodKey, err))
				log.Warn("failed to post due period",
					zap.String("schedule_id", line.ScheduleID.String()),
					zap.String("period_key", line.PeriodKey),
					zap.Error(err),
				)
				continue
			}
			processed++
		}
	}

	if processed > 0 {
		log.Info("posted due periods", zap.Int("processed", processed))
	}
	return jobErr
}

func (s *Scheduler) postLine(ctx context.Context, line WorkLine, now time.Time) error {
	if err := guard.EnsureScheduleActive(line.Status); err != nil {
		return err
	}
	if err := guard.EnsureLineCanPost(line.Posted, line.PeriodKey, now); err != nil {
		return err
	}

	ctx = tenantctx.WithTenantID(ctx, int64(line.TenantID))
	ctx = tenantctx.WithActor(ctx, "scheduler")

	var err error
	switch line.Kind {
	case fixedassetdomain.ScheduleKindAccretion:
		_, err = s.fixedAssetSvc.PostAccretion(ctx, line.ScheduleID, line.PeriodKey)
	default:
		_, err = s.fixedAssetSvc.PostPeriod(ctx, line.ScheduleID, line.PeriodKey)
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
