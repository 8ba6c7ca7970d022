package service

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
	"github.com/smallbiznis/glcore/internal/fixedasset/domain"
	ledgerdomain "github.com/smallbiznis/glcore/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/glcore/internal/ledger/service"
	"github.com/smallbiznis/glcore/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	svc       *Service
	ledgerSvc ledgerdomain.Service
	db        *gorm.DB
	clock     *clock.FakeClock
	ctx       context.Context

	expense snowflake.ID
	accum   snowflake.ID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.Posting{},
		&ledgerdomain.PostingLine{},
		&auditdomain.AuditLog{},
		&domain.Asset{},
		&domain.AssetGroup{},
		&domain.AssetGroupMember{},
		&domain.Schedule{},
		&domain.ScheduleLine{},
		&domain.ARO{},
		&domain.ImpairmentTest{},
	)
	require.NoError(t, err)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})

	fakeClock := clock.NewFakeClock(time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC))
	svc, err := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Cfg:       config.Config{Depreciation: config.DepreciationConfig{DecliningBalanceRatePct: 200}},
		Clock:     fakeClock,
		LedgerSvc: ledgerSvc,
	})
	require.NoError(t, err)

	ctx := tenantctx.WithTenantID(context.Background(), int64(node.Generate()))
	env := &testEnv{
		svc:       svc.(*Service),
		ledgerSvc: ledgerSvc,
		db:        db,
		clock:     fakeClock,
		ctx:       ctx,
	}
	env.expense = env.mustAccount(t, "depr_expense", ledgerdomain.NormalSideDebit)
	env.accum = env.mustAccount(t, "accum_depr", ledgerdomain.NormalSideCredit)
	return env
}

func (e *testEnv) mustAccount(t *testing.T, code string, side ledgerdomain.NormalSide) snowflake.ID {
	t.Helper()
	account, err := e.ledgerSvc.CreateAccount(e.ctx, ledgerdomain.CreateAccountRequest{
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

func (e *testEnv) mustAsset(t *testing.T, assetID string, method domain.Method) domain.Asset {
	t.Helper()
	asset, err := e.svc.UpsertAsset(e.ctx, domain.UpsertAssetRequest{
		AssetID:          assetID,
		Book:             "main",
		Entity:           "acme",
		Currency:         "USD",
		CostMinor:        8500000,
		SalvageMinor:     1500000,
		StartDate:        time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		LifeMonths:       60,
		Method:           method,
		ExpenseAccountID: e.expense,
		AccumAccountID:   e.accum,
	})
	require.NoError(t, err)
	return asset
}

func TestUpsertAssetValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.UpsertAsset(env.ctx, domain.UpsertAssetRequest{AssetID: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidAssetID)

	_, err = env.svc.UpsertAsset(env.ctx, domain.UpsertAssetRequest{AssetID: "a", CostMinor: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidCost)

	_, err = env.svc.UpsertAsset(env.ctx, domain.UpsertAssetRequest{AssetID: "a", CostMinor: 100, SalvageMinor: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidSalvage)

	_, err = env.svc.UpsertAsset(env.ctx, domain.UpsertAssetRequest{AssetID: "a", CostMinor: 100, LifeMonths: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidLife)

	_, err = env.svc.UpsertAsset(env.ctx, domain.UpsertAssetRequest{
		AssetID: "a", CostMinor: 100, LifeMonths: 12, Method: "sum_of_years",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidMethod)
}

func TestUpsertAssetAppendsVersions(t *testing.T) {
	env := newTestEnv(t)

	first := env.mustAsset(t, "truck-1", domain.MethodStraightLine)
	assert.Equal(t, 1, first.Version)

	env.clock.Advance(time.Hour)
	second := env.mustAsset(t, "truck-1", domain.MethodStraightLine)
	assert.Equal(t, 2, second.Version)

	history, err := env.svc.AssetHistory(env.ctx, "truck-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.NotNil(t, history[0].ValidTo)
	assert.Nil(t, history[1].ValidTo)

	current, err := env.svc.GetAsset(env.ctx, "truck-1")
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
}

func TestBuildScheduleStraightLine(t *testing.T) {
	env := newTestEnv(t)
	env.mustAsset(t, "truck-1", domain.MethodStraightLine)

	schedule, err := env.svc.BuildSchedule(env.ctx, domain.BuildScheduleRequest{AssetID: "truck-1"})
	require.NoError(t, err)
	require.Len(t, schedule.Lines, 60)

	assert.Equal(t, domain.ScheduleStatusActive, schedule.Status)
	assert.Equal(t, int64(7000000), schedule.TotalMinor)
	assert.Equal(t, "2025-01", schedule.Lines[0].PeriodKey)
	assert.Equal(t, "2029-12", schedule.Lines[59].PeriodKey)
	assert.Equal(t, int64(116667), schedule.Lines[0].AmountMinor)
	assert.Equal(t, int64(116647), schedule.Lines[59].AmountMinor)
}

func TestBuildScheduleRetiresPriorActive(t *testing.T) {
	env := newTestEnv(t)
	env.mustAsset(t, "truck-1", domain.MethodStraightLine)

	first, err := env.svc.BuildSchedule(env.ctx, domain.BuildScheduleRequest{AssetID: "truck-1"})
	require.NoError(t, err)
	second, err := env.svc.BuildSchedule(env.ctx, domain.BuildScheduleRequest{AssetID: "truck-1"})
	require.NoError(t, err)

	stale, err := env.svc.GetSchedule(env.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusInvalid, stale.Status)

	_, err = env.svc.PostPeriod(env.ctx, first.ID, "2025-01")
	assert.ErrorIs(t, err, domain.ErrScheduleInvalid)

	_, err = env.svc.PostPeriod(env.ctx, second.ID, "2025-01")
	require.NoError(t, err)
}

func TestBuildScheduleDecliningBalance(t *testing.T) {
	env := newTestEnv(t)
	env.mustAsset(t, "press-1", domain.MethodDecliningBalance)

	schedule, err := env.svc.BuildSchedule(env.ctx, domain.BuildScheduleRequest{AssetID: "press-1"})
	require.NoError(t, err)
	require.Len(t, schedule.Lines, 60)
	assert.Equal(t, int64(7000000), schedule.TotalMinor)
	assert.Greater(t, schedule.Lines[0].AmountMinor, schedule.Lines[30].AmountMinor)
}

func TestBuildScheduleMacrsNeedsTable(t *testing.T) {
	env := newTestEnv(t)
	env.mustAsset(t, "server-1", domain.MethodMACRS)

	_, err := env.svc.BuildSchedule(env.ctx, domain.BuildScheduleRequest{AssetID: "server-1"})
	assert.ErrorIs(t, err, domain.ErrMethodNotConfigured)
}

func TestBuildScheduleMacrsStopsAtSalvage(t *testing.T) {
	env := newTestEnv(t)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	svcIface, err := NewService(Params{
		DB:    env.db,
		Log:   zap.NewNop(),
		GenID: node,
		Cfg: config.Config{Depreciation: config.DepreciationConfig{
			DecliningBalanceRatePct: 200,
			MACRSTables:             map[int][]string{5: {"20", "32", "19.2", "11.52", "11.52", "5.76"}},
		}},
		Clock:     env.clock,
		LedgerSvc: env.ledgerSvc,
	})
	require.NoError(t, err)
	svc := svcIface.(*Service)

	_, err = svc.UpsertAsset(env.ctx, domain.UpsertAssetRequest{
		AssetID:          "server-1",
		Book:             "main",
		Entity:           "acme",
		Currency:         "USD",
		CostMinor:        1000000,
		SalvageMinor:     100000,
		StartDate:        time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		LifeMonths:       60,
		Method:           domain.MethodMACRS,
		ExpenseAccountID: env.expense,
		AccumAccountID:   env.accum,
	})
	require.NoError(t, err)

	schedule, err := svc.BuildSchedule(env.ctx, domain.BuildScheduleRequest{AssetID: "server-1"})
	require.NoError(t, err)
	require.Len(t, schedule.Lines, 72)
	assert.Equal(t, domain.ScheduleStatusActive, schedule.Status)

	// The table applies to cost-salvage, never the full cost.
	assert.Equal(t, int64(900000), schedule.TotalMinor)

	var yearOne int64
	for _, line := range schedule.Lines[:12] {
		yearOne += line.AmountMinor
	}
	assert.Equal(t, int64(180000), yearOne)
}

func TestPostPeriodIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.mustAsset(t, "truck-1", domain.MethodStraightLine)

	schedule, err := env.svc.BuildSchedule(env.ctx, domain.BuildScheduleRequest{AssetID: "truck-1"})
	require.NoError(t, err)

	first, err := env.svc.PostPeriod(env.ctx, schedule.ID, "2025-01")
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.NotZero(t, first.PostingID)

	second, err := env.svc.PostPeriod(env.ctx, schedule.ID, "2025-01")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.PostingID, second.PostingID)

	// Exactly one period landed in the ledger.
	balance, err := env.ledgerSvc.Balance(env.ctx, ledgerdomain.BalanceRequest{
		AccountID: env.expense,
		AsOf:      time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(116667), balance)
}

func TestPostPeriodUnknownPeriod(t *testing.T) {
	env := newTestEnv(t)
	env.mustAsset(t, "truck-1", domain.MethodStraightLine)

	schedule, err := env.svc.BuildSchedule(env.ctx, domain.BuildScheduleRequest{AssetID: "truck-1"})
	require.NoError(t, err)

	_, err = env.svc.PostPeriod(env.ctx, schedule.ID, "2031-01")
	assert.ErrorIs(t, err, domain.ErrPeriodNotFound)
}

func TestGroupSchedulePoolsMemberBases(t *testing.T) {
	env := newTestEnv(t)
	env.mustAsset(t, "truck-1", domain.MethodStraightLine)
	env.mustAsset(t, "truck-2", domain.MethodStraightLine)

	_, err := env.svc.UpsertGroup(env.ctx, domain.UpsertGroupRequest{
		GroupID:          "fleet",
		Book:             "main",
		Entity:           "acme",
		Currency:         "USD",
		StartDate:        time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		LifeMonths:       60,
		Method:           domain.MethodStraightLine,
		ExpenseAccountID: env.expense,
		AccumAccountID:   env.accum,
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.AddGroupMember(env.ctx, "fleet", "truck-1"))
	require.NoError(t, env.svc.AddGroupMember(env.ctx, "fleet", "truck-2"))
	// Re-adding is a no-op.
	require.NoError(t, env.svc.AddGroupMember(env.ctx, "fleet", "truck-1"))

	schedule, err := env.svc.BuildGroupSchedule(env.ctx, "fleet")
	require.NoError(t, err)
	assert.Equal(t, int64(14000000), schedule.TotalMinor)
	require.Len(t, schedule.Lines, 60)

	result, err := env.svc.PostPeriod(env.ctx, schedule.ID, "2025-01")
	require.NoError(t, err)
	assert.NotZero(t, result.PostingID)
}

func TestGroupScheduleRequiresMembers(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.UpsertGroup(env.ctx, domain.UpsertGroupRequest{
		GroupID:          "empty",
		Book:             "main",
		Entity:           "acme",
		Currency:         "USD",
		StartDate:        time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		LifeMonths:       12,
		Method:           domain.MethodStraightLine,
		ExpenseAccountID: env.expense,
		AccumAccountID:   env.accum,
	})
	require.NoError(t, err)

	_, err = env.svc.BuildGroupSchedule(env.ctx, "empty")
	assert.ErrorIs(t, err, domain.ErrGroupEmpty)
}

func TestAroAccretionBuildAndPost(t *testing.T) {
	env := newTestEnv(t)
	liability := env.mustAccount(t, "aro_liability", ledgerdomain.NormalSideCredit)
	accretion := env.mustAccount(t, "accretion_expense", ledgerdomain.NormalSideDebit)

	_, err := env.svc.UpsertARO(env.ctx, domain.UpsertARORequest{
		AroID:              "aro-1",
		AssetID:            "site-1",
		Book:               "main",
		Entity:             "acme",
		Currency:           "USD",
		PresentValueMinor:  1000000,
		DiscountRate:       "0.06",
		StartDate:          time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		SettlementDate:     time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		LiabilityAccountID: liability,
		AccretionAccountID: accretion,
	})
	require.NoError(t, err)

	schedule, err := env.svc.BuildAroAccretion(env.ctx, "aro-1")
	require.NoError(t, err)
	require.Len(t, schedule.Lines, 12)
	assert.Equal(t, domain.ScheduleKindAccretion, schedule.Kind)
	// Ending liability is pv*(1+0.06/12)^12 = 1061678.
	assert.Equal(t, int64(61678), schedule.TotalMinor)

	result, err := env.svc.PostAccretion(env.ctx, schedule.ID, "2025-01")
	require.NoError(t, err)
	assert.NotZero(t, result.PostingID)
	assert.False(t, result.Replayed)

	// A depreciation post against an accretion schedule is refused.
	_, err = env.svc.PostPeriod(env.ctx, schedule.ID, "2025-02")
	assert.ErrorIs(t, err, domain.ErrScheduleKindWrong)
}

func TestImpairmentPreviewAndPost(t *testing.T) {
	env := newTestEnv(t)
	env.mustAsset(t, "plant-1", domain.MethodStraightLine)

	preview, err := env.svc.PreviewImpairment(env.ctx, domain.ImpairmentRequest{
		AssetID:          "plant-1",
		RecoverableMinor: 8000000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8500000), preview.CarryingMinor)
	assert.Equal(t, int64(500000), preview.LossMinor)
	assert.Zero(t, preview.PostingID)

	posted, err := env.svc.PostImpairment(env.ctx, domain.ImpairmentRequest{
		AssetID:          "plant-1",
		TestDate:         time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC),
		RecoverableMinor: 8000000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500000), posted.LossMinor)
	assert.NotZero(t, posted.PostingID)

	asset, err := env.svc.GetAsset(env.ctx, "plant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500000), asset.ImpairedMinor)
	assert.Equal(t, 2, asset.Version)

	// Carrying already equals recoverable; a second test is a no-op.
	again, err := env.svc.PostImpairment(env.ctx, domain.ImpairmentRequest{
		AssetID:          "plant-1",
		TestDate:         time.Date(2025, time.July, 31, 0, 0, 0, 0, time.UTC),
		RecoverableMinor: 8000000,
	})
	require.NoError(t, err)
	assert.Zero(t, again.LossMinor)
	assert.Zero(t, again.PostingID)

	// A higher recoverable value never reverses the write-down.
	higher, err := env.svc.PostImpairment(env.ctx, domain.ImpairmentRequest{
		AssetID:          "plant-1",
		TestDate:         time.Date(2025, time.August, 31, 0, 0, 0, 0, time.UTC),
		RecoverableMinor: 9000000,
	})
	require.NoError(t, err)
	assert.Zero(t, higher.LossMinor)

	// Rebuilt schedules depreciate the reduced basis.
	schedule, err := env.svc.BuildSchedule(env.ctx, domain.BuildScheduleRequest{AssetID: "plant-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(6500000), schedule.TotalMinor)
}

func TestUnitsScheduleFollowsUsage(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.UpsertAsset(env.ctx, domain.UpsertAssetRequest{
		AssetID:          "drill-1",
		Book:             "main",
		Entity:           "acme",
		Currency:         "USD",
		CostMinor:        120000,
		SalvageMinor:     20000,
		StartDate:        time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		LifeMonths:       36,
		Method:           domain.MethodUnits,
		ExpenseAccountID: env.expense,
		AccumAccountID:   env.accum,
	})
	require.NoError(t, err)

	schedule, err := env.svc.BuildSchedule(env.ctx, domain.BuildScheduleRequest{
		AssetID:    "drill-1",
		TotalUnits: 1000,
		Usage: []domain.PeriodUnits{
			{PeriodKey: "2025-01", Units: 400},
			{PeriodKey: "2025-02", Units: 350},
			{PeriodKey: "2025-03", Units: 250},
		},
	})
	require.NoError(t, err)
	require.Len(t, schedule.Lines, 3)
	assert.Equal(t, int64(40000), schedule.Lines[0].AmountMinor)
	assert.Equal(t, int64(100000), schedule.TotalMinor)

	_, err = env.svc.BuildSchedule(env.ctx, domain.BuildScheduleRequest{AssetID: "drill-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidUsage)
}
