package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/glcore/internal/audit/domain"
	"github.com/smallbiznis/glcore/internal/clock"
	"github.com/smallbiznis/glcore/internal/config"
	fixedassetdomain "github.com/smallbiznis/glcore/internal/fixedasset/domain"
	fixedassetservice "github.com/smallbiznis/glcore/internal/fixedasset/service"
	ledgerdomain "github.com/smallbiznis/glcore/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/glcore/internal/ledger/service"
	"github.com/smallbiznis/glcore/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type schedulerEnv struct {
	sched     *Scheduler
	assetSvc  fixedassetdomain.Service
	ledgerSvc ledgerdomain.Service
	db        *gorm.DB
	clock     *clock.FakeClock
	ctx       context.Context

	expense snowflake.ID
	accum   snowflake.ID
}

func newSchedulerEnv(t *testing.T, now time.Time) *schedulerEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.Posting{},
		&ledgerdomain.PostingLine{},
		&auditdomain.AuditLog{},
		&fixedassetdomain.Asset{},
		&fixedassetdomain.AssetGroup{},
		&fixedassetdomain.AssetGroupMember{},
		&fixedassetdomain.Schedule{},
		&fixedassetdomain.ScheduleLine{},
		&fixedassetdomain.ARO{},
		&fixedassetdomain.ImpairmentTest{},
	)
	require.NoError(t, err)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})

	fakeClock := clock.NewFakeClock(now)
	assetSvc, err := fixedassetservice.NewService(fixedassetservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Cfg:       config.Config{Depreciation: config.DepreciationConfig{DecliningBalanceRatePct: 200}},
		Clock:     fakeClock,
		LedgerSvc: ledgerSvc,
	})
	require.NoError(t, err)

	sched, err := New(Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         fakeClock,
		FixedAssetSvc: assetSvc,
		Config:        Config{BatchSize: 2},
	})
	require.NoError(t, err)

	ctx := tenantctx.WithTenantID(context.Background(), int64(node.Generate()))
	env := &schedulerEnv{
		sched:     sched,
		assetSvc:  assetSvc,
		ledgerSvc: ledgerSvc,
		db:        db,
		clock:     fakeClock,
		ctx:       ctx,
	}
	env.expense = env.mustAccount(t, ledgerSvc, "depr_expense", ledgerdomain.NormalSideDebit)
	env.accum = env.mustAccount(t, ledgerSvc, "accum_depr", ledgerdomain.NormalSideCredit)
	return env
}

func (e *schedulerEnv) mustAccount(t *testing.T, svc ledgerdomain.Service, code string, side ledgerdomain.NormalSide) snowflake.ID {
	t.Helper()
	account, err := svc.CreateAccount(e.ctx, ledgerdomain.CreateAccountRequest{
		Book:       "main",
		Entity:     "acme",
		Currency:   "USD",
		Code:       code,
		Name:       code,
		NormalSide: side,
	})
	require.NoError(t, err)
	return account.ID
}

func (e *schedulerEnv) mustSchedule(t *testing.T) fixedassetdomain.Schedule {
	t.Helper()
	_, err := e.assetSvc.UpsertAsset(e.ctx, fixedassetdomain.UpsertAssetRequest{
		AssetID:          "truck-1",
		Book:             "main",
		Entity:           "acme",
		Currency:         "USD",
		CostMinor:        7200000,
		SalvageMinor:     0,
		StartDate:        time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		LifeMonths:       60,
		Method:           fixedassetdomain.MethodStraightLine,
		ExpenseAccountID: e.expense,
		AccumAccountID:   e.accum,
	})
	require.NoError(t, err)

	sched, err := e.assetSvc.BuildSchedule(e.ctx, fixedassetdomain.BuildScheduleRequest{AssetID: "truck-1"})
	require.NoError(t, err)
	return sched
}

func (e *schedulerEnv) postedCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&fixedassetdomain.ScheduleLine{}).Where("posted = ?", true).Count(&n).Error)
	return n
}

func TestRunOncePostsAllDuePeriods(t *testing.T) {
	// Mid-April: January through March have fully elapsed.
	env := newSchedulerEnv(t, time.Date(2025, time.April, 15, 9, 0, 0, 0, time.UTC))
	sched := env.mustSchedule(t)

	require.NoError(t, env.sched.RunOnce(context.Background()))
	assert.EqualValues(t, 3, env.postedCount(t))

	got, err := env.assetSvc.GetSchedule(env.ctx, sched.ID)
	require.NoError(t, err)
	for _, line := range got.Lines {
		if line.PeriodKey < "2025-04" {
			assert.True(t, line.Posted, "period %s should be posted", line.PeriodKey)
			assert.NotZero(t, line.PostingID)
		} else {
			assert.False(t, line.Posted, "period %s should not be posted", line.PeriodKey)
		}
	}
}

func TestRunOnceIsIdempotent(t *testing.T) {
	env := newSchedulerEnv(t, time.Date(2025, time.April, 15, 9, 0, 0, 0, time.UTC))
	env.mustSchedule(t)

	require.NoError(t, env.sched.RunOnce(context.Background()))
	first := env.postedCount(t)

	require.NoError(t, env.sched.RunOnce(context.Background()))
	assert.Equal(t, first, env.postedCount(t))

	var postings int64
	require.NoError(t, env.db.Model(&ledgerdomain.Posting{}).Count(&postings).Error)
	assert.EqualValues(t, first, postings)
}

func TestRunOncePicksUpNewlyDuePeriods(t *testing.T) {
	env := newSchedulerEnv(t, time.Date(2025, time.February, 5, 0, 0, 0, 0, time.UTC))
	env.mustSchedule(t)

	require.NoError(t, env.sched.RunOnce(context.Background()))
	assert.EqualValues(t, 1, env.postedCount(t))

	env.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, env.sched.RunOnce(context.Background()))
	assert.EqualValues(t, 2, env.postedCount(t))
}

func TestRunOnceSkipsRetiredSchedules(t *testing.T) {
	env := newSchedulerEnv(t, time.Date(2025, time.April, 15, 9, 0, 0, 0, time.UTC))
	stale := env.mustSchedule(t)

	// Rebuilding retires the prior schedule; only the fresh one posts.
	fresh, err := env.assetSvc.BuildSchedule(env.ctx, fixedassetdomain.BuildScheduleRequest{AssetID: "truck-1"})
	require.NoError(t, err)
	require.NotEqual(t, stale.ID, fresh.ID)

	require.NoError(t, env.sched.RunOnce(context.Background()))

	var staleLines []fixedassetdomain.ScheduleLine
	require.NoError(t, env.db.Where("schedule_id = ? AND posted = ?", stale.ID, true).Find(&staleLines).Error)
	assert.Empty(t, staleLines)
	assert.EqualValues(t, 3, env.postedCount(t))
}

func TestRunOnceFailingLineDoesNotStarveOthers(t *testing.T) {
	env := newSchedulerEnv(t, time.Date(2025, time.April, 15, 9, 0, 0, 0, time.UTC))

	// gen-1 is created first, so its lines sort ahead of truck-1's in
	// every due period.
	badExpense := env.mustAccount(t, env.ledgerSvc, "bad_expense", ledgerdomain.NormalSideDebit)
	_, err := env.assetSvc.UpsertAsset(env.ctx, fixedassetdomain.UpsertAssetRequest{
		AssetID:          "gen-1",
		Book:             "main",
		Entity:           "acme",
		Currency:         "USD",
		CostMinor:        3600000,
		StartDate:        time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		LifeMonths:       60,
		Method:           fixedassetdomain.MethodStraightLine,
		ExpenseAccountID: badExpense,
		AccumAccountID:   env.accum,
	})
	require.NoError(t, err)
	poisoned, err := env.assetSvc.BuildSchedule(env.ctx, fixedassetdomain.BuildScheduleRequest{AssetID: "gen-1"})
	require.NoError(t, err)

	healthy := env.mustSchedule(t)

	// Deactivating the expense account makes every gen-1 post fail.
	require.NoError(t, env.db.Model(&ledgerdomain.Account{}).
		Where("id = ?", badExpense).Update("active", false).Error)

	err = env.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ledgerdomain.ErrInactiveAccount)

	// truck-1's due periods all post despite batch size 2 and the
	// failing lines sorting first.
	got, err := env.assetSvc.GetSchedule(env.ctx, healthy.ID)
	require.NoError(t, err)
	posted := 0
	for _, line := range got.Lines {
		if line.Posted {
			posted++
		}
	}
	assert.Equal(t, 3, posted)
	assert.EqualValues(t, 3, env.postedCount(t))

	bad, err := env.assetSvc.GetSchedule(env.ctx, poisoned.ID)
	require.NoError(t, err)
	for _, line := range bad.Lines {
		assert.False(t, line.Posted)
	}
}

func TestRunOncePostsAccretion(t *testing.T) {
	env := newSchedulerEnv(t, time.Date(2025, time.April, 15, 9, 0, 0, 0, time.UTC))

	_, err := env.assetSvc.UpsertARO(env.ctx, fixedassetdomain.UpsertARORequest{
		AroID:              "aro-1",
		AssetID:            "truck-1",
		Book:               "main",
		Entity:             "acme",
		Currency:           "USD",
		PresentValueMinor:  1000000,
		DiscountRate:       "0.06",
		StartDate:          time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		SettlementDate:     time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		LiabilityAccountID: env.accum,
		AccretionAccountID: env.expense,
	})
	require.NoError(t, err)

	sched, err := env.assetSvc.BuildAroAccretion(env.ctx, "aro-1")
	require.NoError(t, err)

	require.NoError(t, env.sched.RunOnce(context.Background()))

	got, err := env.assetSvc.GetSchedule(env.ctx, sched.ID)
	require.NoError(t, err)
	posted := 0
	for _, line := range got.Lines {
		if line.Posted {
			posted++
			require.Less(t, line.PeriodKey, "2025-04")
		}
	}
	assert.Equal(t, 3, posted)
}
