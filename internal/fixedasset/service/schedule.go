package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/glcore/internal/fixedasset/domain"
	ledgerdomain "github.com/smallbiznis/glcore/internal/ledger/domain"
	"github.com/smallbiznis/glcore/internal/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BuildSchedule generates the full period plan for one asset. Rebuilding
// marks earlier active schedules for the asset invalid; posted lines are
// history and stay with their old schedule.
func (s *Service) BuildSchedule(ctx context.Context, req domain.BuildScheduleRequest) (domain.Schedule, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Schedule{}, ledgerdomain.ErrInvalidTenant
	}
	assetID := strings.TrimSpace(req.AssetID)

	unlock := s.lockAsset(tenantID, assetID)
	defer unlock()

	asset, err := s.currentAsset(ctx, s.db, tenantID, assetID)
	if err != nil {
		return domain.Schedule{}, err
	}

	// Impairments reduce the remaining depreciable basis.
	cost := asset.CostMinor - asset.ImpairedMinor
	base := cost - asset.SalvageMinor
	if base < 0 {
		base = 0
	}

	var amounts []int64
	var keys []string
	expected := base
	switch asset.Method {
	case domain.MethodStraightLine:
		amounts = straightLineAmounts(base, asset.LifeMonths)
		keys = monthlyPeriodKeys(asset.StartDate, asset.LifeMonths)
	case domain.MethodDecliningBalance:
		amounts = decliningBalanceAmounts(cost, asset.SalvageMinor, asset.LifeMonths, s.decliningRatePct)
		keys = monthlyPeriodKeys(asset.StartDate, asset.LifeMonths)
	case domain.MethodUnits:
		if req.TotalUnits <= 0 || len(req.Usage) == 0 {
			return domain.Schedule{}, domain.ErrInvalidUsage
		}
		usage := make([]int64, 0, len(req.Usage))
		keys = make([]string, 0, len(req.Usage))
		for _, period := range req.Usage {
			if period.Units < 0 || strings.TrimSpace(period.PeriodKey) == "" {
				return domain.Schedule{}, domain.ErrInvalidUsage
			}
			usage = append(usage, period.Units)
			keys = append(keys, strings.TrimSpace(period.PeriodKey))
		}
		amounts = unitsAmounts(base, req.TotalUnits, usage)
		expected = sumAmounts(amounts)
	case domain.MethodMACRS:
		years := asset.LifeMonths / 12
		rates, ok := s.macrsTables[years]
		if !ok {
			return domain.Schedule{}, fmt.Errorf("%w: no MACRS table for %d-year life", domain.ErrMethodNotConfigured, years)
		}
		// Rates apply to the depreciable basis so the asset still stops
		// at salvage value.
		amounts = macrsAmounts(base, rates)
		keys = monthlyPeriodKeys(asset.StartDate, len(amounts))
	default:
		return domain.Schedule{}, domain.ErrInvalidMethod
	}

	schedule := domain.Schedule{
		TenantID:     tenantID,
		Kind:         domain.ScheduleKindDepreciation,
		AssetID:      asset.AssetID,
		Method:       asset.Method,
		Book:         asset.Book,
		Entity:       asset.Entity,
		Currency:     asset.Currency,
		DebitAcctID:  asset.ExpenseAccountID,
		CreditAcctID: asset.AccumAccountID,
	}
	return s.persistSchedule(ctx, schedule, keys, amounts, expected)
}

// BuildGroupSchedule pools the member bases into a single plan posted
// against the group's accounts.
func (s *Service) BuildGroupSchedule(ctx context.Context, groupID string) (domain.Schedule, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Schedule{}, ledgerdomain.ErrInvalidTenant
	}
	groupID = strings.TrimSpace(groupID)

	var group domain.AssetGroup
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND group_id = ?", tenantID, groupID).
		First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Schedule{}, domain.ErrGroupNotFound
	}
	if err != nil {
		return domain.Schedule{}, err
	}

	var members []domain.AssetGroupMember
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND group_id = ?", tenantID, groupID).
		Order("asset_id").
		Find(&members).Error
	if err != nil {
		return domain.Schedule{}, err
	}
	if len(members) == 0 {
		return domain.Schedule{}, domain.ErrGroupEmpty
	}

	var cost, salvage int64
	for _, member := range members {
		asset, err := s.currentAsset(ctx, s.db, tenantID, member.AssetID)
		if err != nil {
			return domain.Schedule{}, err
		}
		cost += asset.CostMinor - asset.ImpairedMinor
		salvage += asset.SalvageMinor
	}
	base := cost - salvage
	if base < 0 {
		base = 0
	}

	var amounts []int64
	switch group.Method {
	case domain.MethodStraightLine:
		amounts = straightLineAmounts(base, group.LifeMonths)
	case domain.MethodDecliningBalance:
		amounts = decliningBalanceAmounts(cost, salvage, group.LifeMonths, s.decliningRatePct)
	default:
		return domain.Schedule{}, domain.ErrInvalidMethod
	}
	keys := monthlyPeriodKeys(group.StartDate, group.LifeMonths)

	schedule := domain.Schedule{
		TenantID:     tenantID,
		Kind:         domain.ScheduleKindDepreciation,
		GroupID:      group.GroupID,
		Method:       group.Method,
		Book:         group.Book,
		Entity:       group.Entity,
		Currency:     group.Currency,
		DebitAcctID:  group.ExpenseAccountID,
		CreditAcctID: group.AccumAccountID,
	}
	return s.persistSchedule(ctx, schedule, keys, amounts, base)
}

// BuildAroAccretion plans the monthly accretion of an obligation from
// present value to settlement value.
func (s *Service) BuildAroAccretion(ctx context.Context, aroID string) (domain.Schedule, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Schedule{}, ledgerdomain.ErrInvalidTenant
	}
	aroID = strings.TrimSpace(aroID)

	var aro domain.ARO
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND aro_id = ?", tenantID, aroID).
		First(&aro).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Schedule{}, domain.ErrAroNotFound
	}
	if err != nil {
		return domain.Schedule{}, err
	}

	rate, err := parseRate(aro.DiscountRate)
	if err != nil {
		return domain.Schedule{}, domain.ErrInvalidDiscountRate
	}
	months := monthsBetween(aro.StartDate, aro.SettlementDate)
	amounts := accretionAmounts(aro.PresentValueMinor, rate, months)
	keys := monthlyPeriodKeys(aro.StartDate, months)

	schedule := domain.Schedule{
		TenantID:     tenantID,
		Kind:         domain.ScheduleKindAccretion,
		AroID:        aro.AroID,
		Book:         aro.Book,
		Entity:       aro.Entity,
		Currency:     aro.Currency,
		DebitAcctID:  aro.AccretionAccountID,
		CreditAcctID: aro.LiabilityAccountID,
	}
	return s.persistSchedule(ctx, schedule, keys, amounts, sumAmounts(amounts))
}

func (s *Service) GetSchedule(ctx context.Context, id snowflake.ID) (domain.Schedule, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Schedule{}, ledgerdomain.ErrInvalidTenant
	}

	var schedule domain.Schedule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&schedule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Schedule{}, domain.ErrScheduleNotFound
	}
	if err != nil {
		return domain.Schedule{}, err
	}

	err = s.db.WithContext(ctx).
		Where("schedule_id = ?", schedule.ID).
		Order("period_key").
		Find(&schedule.Lines).Error
	if err != nil {
		return domain.Schedule{}, err
	}
	return schedule, nil
}

// PostPeriod commits one depreciation period to the ledger: debit
// expense, credit accumulated. Re-invoking for a posted period returns
// the stored posting id with no ledger effect.
func (s *Service) PostPeriod(ctx context.Context, scheduleID snowflake.ID, periodKey string) (domain.PostPeriodResult, error) {
	return s.postLine(ctx, scheduleID, periodKey, domain.ScheduleKindDepreciation, "depr")
}

// PostAccretion commits one accretion period: debit accretion expense,
// credit the retirement obligation liability.
func (s *Service) PostAccretion(ctx context.Context, scheduleID snowflake.ID, periodKey string) (domain.PostPeriodResult, error) {
	return s.postLine(ctx, scheduleID, periodKey, domain.ScheduleKindAccretion, "aro")
}

func (s *Service) postLine(ctx context.Context, scheduleID snowflake.ID, periodKey string, kind domain.ScheduleKind, keyPrefix string) (domain.PostPeriodResult, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.PostPeriodResult{}, ledgerdomain.ErrInvalidTenant
	}
	periodKey = strings.TrimSpace(periodKey)

	var schedule domain.Schedule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, scheduleID).
		First(&schedule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.PostPeriodResult{}, domain.ErrScheduleNotFound
	}
	if err != nil {
		return domain.PostPeriodResult{}, err
	}
	if schedule.Kind != kind {
		return domain.PostPeriodResult{}, domain.ErrScheduleKindWrong
	}
	if schedule.Status != domain.ScheduleStatusActive {
		return domain.PostPeriodResult{}, domain.ErrScheduleInvalid
	}

	var line domain.ScheduleLine
	err = s.db.WithContext(ctx).
		Where("schedule_id = ? AND period_key = ?", schedule.ID, periodKey).
		First(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.PostPeriodResult{}, domain.ErrPeriodNotFound
	}
	if err != nil {
		return domain.PostPeriodResult{}, err
	}

	result := domain.PostPeriodResult{ScheduleID: schedule.ID, PeriodKey: periodKey}
	if line.Posted {
		result.PostingID = line.PostingID
		result.Replayed = true
		return result, nil
	}

	var postingID snowflake.ID
	if line.AmountMinor != 0 {
		effective, err := periodEnd(periodKey)
		if err != nil {
			return domain.PostPeriodResult{}, domain.ErrPeriodNotFound
		}
		posted, err := s.ledgerSvc.Post(ctx, ledgerdomain.PostRequest{
			Book:           schedule.Book,
			Entity:         schedule.Entity,
			Currency:       schedule.Currency,
			EffectiveDate:  effective,
			IdempotencyKey: fmt.Sprintf("%s:%d:%s", keyPrefix, schedule.ID, periodKey),
			Narrative:      fmt.Sprintf("%s %s period %s", kind, scheduleRef(schedule), periodKey),
			Lines: []ledgerdomain.LineInput{
				{AccountID: schedule.DebitAcctID, Direction: ledgerdomain.EntryDirectionDebit, Amount: line.AmountMinor},
				{AccountID: schedule.CreditAcctID, Direction: ledgerdomain.EntryDirectionCredit, Amount: line.AmountMinor},
			},
		})
		if err != nil {
			return domain.PostPeriodResult{}, err
		}
		postingID = posted.PostingID
	}

	// First writer wins; a concurrent poster loses the CAS and replays.
	res := s.db.WithContext(ctx).Exec(
		`UPDATE depr_schedule_lines SET posted = ?, posting_id = ? WHERE id = ? AND posted = ?`,
		true, postingID, line.ID, false,
	)
	if res.Error != nil {
		return domain.PostPeriodResult{}, res.Error
	}
	if res.RowsAffected == 0 {
		if err := s.db.WithContext(ctx).First(&line, "id = ?", line.ID).Error; err != nil {
			return domain.PostPeriodResult{}, err
		}
		result.PostingID = line.PostingID
		result.Replayed = true
		return result, nil
	}

	result.PostingID = postingID
	s.audit(ctx, tenantID, "fixedasset.period_posted", scheduleRef(schedule), map[string]any{
		"schedule_id": schedule.ID.String(),
		"period_key":  periodKey,
		"amount":      line.AmountMinor,
	})
	if s.obsMetrics != nil {
		s.obsMetrics.RecordDepreciationPost(ctx, string(kind))
	}
	return result, nil
}

// persistSchedule writes the schedule and its lines atomically, retiring
// any earlier active schedule for the same target. A sum mismatch marks
// the schedule invalid and poisons posting until it is rebuilt.
func (s *Service) persistSchedule(ctx context.Context, schedule domain.Schedule, keys []string, amounts []int64, expected int64) (domain.Schedule, error) {
	now := s.clock.Now()
	schedule.ID = s.genID.Generate()
	schedule.Status = domain.ScheduleStatusActive
	schedule.TotalMinor = sumAmounts(amounts)
	schedule.CreatedAt = now
	if schedule.TotalMinor != expected {
		schedule.Status = domain.ScheduleStatusInvalid
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Model(&domain.Schedule{}).
			Where("tenant_id = ? AND kind = ? AND asset_id = ? AND group_id = ? AND aro_id = ? AND status = ?",
				schedule.TenantID, schedule.Kind, schedule.AssetID, schedule.GroupID, schedule.AroID,
				domain.ScheduleStatusActive).
			Update("status", domain.ScheduleStatusInvalid).Error; err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Create(&schedule).Error; err != nil {
			return err
		}
		for i := range amounts {
			line := domain.ScheduleLine{
				ID:          s.genID.Generate(),
				ScheduleID:  schedule.ID,
				PeriodKey:   keys[i],
				AmountMinor: amounts[i],
				CreatedAt:   now,
			}
			if err := tx.WithContext(ctx).Create(&line).Error; err != nil {
				return err
			}
			schedule.Lines = append(schedule.Lines, line)
		}
		return nil
	})
	if err != nil {
		return domain.Schedule{}, err
	}

	if schedule.Status == domain.ScheduleStatusInvalid {
		s.log.Error("schedule sum mismatch",
			zap.String("schedule_id", schedule.ID.String()),
			zap.Int64("total", schedule.TotalMinor),
			zap.Int64("expected", expected),
		)
		return schedule, domain.ErrScheduleSumMismatch
	}

	if s.obsMetrics != nil {
		method := string(schedule.Method)
		if method == "" {
			method = string(schedule.Kind)
		}
		s.obsMetrics.RecordScheduleBuild(ctx, method)
	}
	s.audit(ctx, schedule.TenantID, "fixedasset.schedule_built", scheduleRef(schedule), map[string]any{
		"schedule_id": schedule.ID.String(),
		"kind":        string(schedule.Kind),
		"total_minor": schedule.TotalMinor,
	})
	return schedule, nil
}

func scheduleRef(schedule domain.Schedule) string {
	switch {
	case schedule.AssetID != "":
		return schedule.AssetID
	case schedule.GroupID != "":
		return schedule.GroupID
	default:
		return schedule.AroID
	}
}

func parseRate(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(raw))
}
