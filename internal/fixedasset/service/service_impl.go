package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/glcore/internal/audit/domain"
	"github.com/smallbiznis/glcore/internal/clock"
	"github.com/smallbiznis/glcore/internal/config"
	"github.com/smallbiznis/glcore/internal/fixedasset/domain"
	ledgerdomain "github.com/smallbiznis/glcore/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/glcore/internal/observability/metrics"
	"github.com/smallbiznis/glcore/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Clock      clock.Clock
	LedgerSvc  ledgerdomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	ledgerSvc  ledgerdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics

	decliningRatePct int64
	macrsTables      map[int][]decimal.Decimal

	// Asset mutations and schedule builds are serialized per asset id.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(p Params) (domain.Service, error) {
	ratePct := p.Cfg.Depreciation.DecliningBalanceRatePct
	if ratePct <= 0 {
		ratePct = 200
	}

	macrsTables := make(map[int][]decimal.Decimal, len(p.Cfg.Depreciation.MACRSTables))
	for years, rates := range p.Cfg.Depreciation.MACRSTables {
		parsed := make([]decimal.Decimal, 0, len(rates))
		for _, raw := range rates {
			rate, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid MACRS rate %q for %d-year table: %w", raw, years, err)
			}
			parsed = append(parsed, rate)
		}
		macrsTables[years] = parsed
	}

	return &Service{
		db:               p.DB,
		log:              p.Log.Named("fixedasset.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		ledgerSvc:        p.LedgerSvc,
		auditSvc:         p.AuditSvc,
		obsMetrics:       p.ObsMetrics,
		decliningRatePct: ratePct,
		macrsTables:      macrsTables,
		locks:            map[string]*sync.Mutex{},
	}, nil
}

func (s *Service) lockAsset(tenantID snowflake.ID, assetID string) func() {
	key := fmt.Sprintf("%d|%s", tenantID, assetID)
	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (s *Service) UpsertAsset(ctx context.Context, req domain.UpsertAssetRequest) (domain.Asset, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Asset{}, ledgerdomain.ErrInvalidTenant
	}

	assetID := strings.TrimSpace(req.AssetID)
	if assetID == "" {
		return domain.Asset{}, domain.ErrInvalidAssetID
	}
	if req.CostMinor <= 0 {
		return domain.Asset{}, domain.ErrInvalidCost
	}
	if req.SalvageMinor < 0 || req.SalvageMinor >= req.CostMinor {
		return domain.Asset{}, domain.ErrInvalidSalvage
	}
	if req.LifeMonths <= 0 {
		return domain.Asset{}, domain.ErrInvalidLife
	}
	switch req.Method {
	case domain.MethodStraightLine, domain.MethodDecliningBalance, domain.MethodUnits, domain.MethodMACRS:
	default:
		return domain.Asset{}, domain.ErrInvalidMethod
	}

	unlock := s.lockAsset(tenantID, assetID)
	defer unlock()

	now := s.clock.Now()
	next := domain.Asset{
		ID:               s.genID.Generate(),
		TenantID:         tenantID,
		AssetID:          assetID,
		Version:          1,
		ValidFrom:        now,
		Book:             strings.TrimSpace(req.Book),
		Entity:           strings.TrimSpace(req.Entity),
		Currency:         strings.ToUpper(strings.TrimSpace(req.Currency)),
		Category:         strings.TrimSpace(req.Category),
		ParentAssetID:    strings.TrimSpace(req.ParentAssetID),
		CostMinor:        req.CostMinor,
		SalvageMinor:     req.SalvageMinor,
		StartDate:        req.StartDate.UTC(),
		LifeMonths:       req.LifeMonths,
		Method:           req.Method,
		ExpenseAccountID: req.ExpenseAccountID,
		AccumAccountID:   req.AccumAccountID,
		CreatedAt:        now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.currentAsset(ctx, tx, tenantID, assetID)
		switch {
		case err == nil:
			res := tx.WithContext(ctx).Model(&domain.Asset{}).
				Where("id = ? AND valid_to IS NULL", current.ID).
				Update("valid_to", now)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ledgerdomain.ErrConcurrentModification
			}
			next.Version = current.Version + 1
			next.ImpairedMinor = current.ImpairedMinor
		case errors.Is(err, domain.ErrAssetNotFound):
		default:
			return err
		}
		return tx.WithContext(ctx).Create(&next).Error
	})
	if err != nil {
		return domain.Asset{}, err
	}

	s.audit(ctx, tenantID, "fixedasset.asset_upserted", assetID, map[string]any{
		"version": next.Version,
		"method":  string(next.Method),
	})
	return next, nil
}

func (s *Service) GetAsset(ctx context.Context, assetID string) (domain.Asset, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Asset{}, ledgerdomain.ErrInvalidTenant
	}
	return s.currentAsset(ctx, s.db, tenantID, strings.TrimSpace(assetID))
}

func (s *Service) ListAssets(ctx context.Context, book string) ([]domain.Asset, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}

	stmt := s.db.WithContext(ctx).Where("tenant_id = ? AND valid_to IS NULL", tenantID)
	if book = strings.TrimSpace(book); book != "" {
		stmt = stmt.Where("book = ?", book)
	}

	var assets []domain.Asset
	if err := stmt.Order("asset_id").Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

func (s *Service) AssetHistory(ctx context.Context, assetID string) ([]domain.Asset, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}

	var versions []domain.Asset
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND asset_id = ?", tenantID, strings.TrimSpace(assetID)).
		Order("version").
		Find(&versions).Error
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, domain.ErrAssetNotFound
	}
	return versions, nil
}

func (s *Service) UpsertGroup(ctx context.Context, req domain.UpsertGroupRequest) (domain.AssetGroup, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.AssetGroup{}, ledgerdomain.ErrInvalidTenant
	}

	groupID := strings.TrimSpace(req.GroupID)
	if groupID == "" {
		return domain.AssetGroup{}, domain.ErrInvalidAssetID
	}
	if req.LifeMonths <= 0 {
		return domain.AssetGroup{}, domain.ErrInvalidLife
	}
	switch req.Method {
	case domain.MethodStraightLine, domain.MethodDecliningBalance:
	default:
		return domain.AssetGroup{}, domain.ErrInvalidMethod
	}

	group := domain.AssetGroup{
		ID:               s.genID.Generate(),
		TenantID:         tenantID,
		GroupID:          groupID,
		Book:             strings.TrimSpace(req.Book),
		Entity:           strings.TrimSpace(req.Entity),
		Currency:         strings.ToUpper(strings.TrimSpace(req.Currency)),
		StartDate:        req.StartDate.UTC(),
		LifeMonths:       req.LifeMonths,
		Method:           req.Method,
		ExpenseAccountID: req.ExpenseAccountID,
		AccumAccountID:   req.AccumAccountID,
		CreatedAt:        s.clock.Now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.AssetGroup
		err := tx.WithContext(ctx).
			Where("tenant_id = ? AND group_id = ?", tenantID, groupID).
			First(&existing).Error
		switch {
		case err == nil:
			group.ID = existing.ID
			group.CreatedAt = existing.CreatedAt
			return tx.WithContext(ctx).Save(&group).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.WithContext(ctx).Create(&group).Error
		default:
			return err
		}
	})
	if err != nil {
		return domain.AssetGroup{}, err
	}

	s.audit(ctx, tenantID, "fixedasset.group_upserted", groupID, nil)
	return group, nil
}

func (s *Service) AddGroupMember(ctx context.Context, groupID, assetID string) error {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return ledgerdomain.ErrInvalidTenant
	}
	groupID = strings.TrimSpace(groupID)
	assetID = strings.TrimSpace(assetID)

	var group domain.AssetGroup
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND group_id = ?", tenantID, groupID).
		First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrGroupNotFound
	}
	if err != nil {
		return err
	}
	if _, err := s.currentAsset(ctx, s.db, tenantID, assetID); err != nil {
		return err
	}

	member := domain.AssetGroupMember{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		GroupID:   groupID,
		AssetID:   assetID,
		CreatedAt: s.clock.Now(),
	}
	// Membership is idempotent.
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO asset_group_members (id, tenant_id, group_id, asset_id, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, group_id, asset_id) DO NOTHING`,
		member.ID, member.TenantID, member.GroupID, member.AssetID, member.CreatedAt,
	).Error
}

func (s *Service) UpsertARO(ctx context.Context, req domain.UpsertARORequest) (domain.ARO, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.ARO{}, ledgerdomain.ErrInvalidTenant
	}

	aroID := strings.TrimSpace(req.AroID)
	if aroID == "" {
		return domain.ARO{}, domain.ErrInvalidAssetID
	}
	if req.PresentValueMinor <= 0 {
		return domain.ARO{}, domain.ErrInvalidCost
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(req.DiscountRate))
	if err != nil || rate.Sign() <= 0 {
		return domain.ARO{}, domain.ErrInvalidDiscountRate
	}
	if !req.SettlementDate.After(req.StartDate) {
		return domain.ARO{}, domain.ErrInvalidLife
	}

	aro := domain.ARO{
		ID:                 s.genID.Generate(),
		TenantID:           tenantID,
		AroID:              aroID,
		AssetID:            strings.TrimSpace(req.AssetID),
		Book:               strings.TrimSpace(req.Book),
		Entity:             strings.TrimSpace(req.Entity),
		Currency:           strings.ToUpper(strings.TrimSpace(req.Currency)),
		PresentValueMinor:  req.PresentValueMinor,
		DiscountRate:       rate.String(),
		StartDate:          req.StartDate.UTC(),
		SettlementDate:     req.SettlementDate.UTC(),
		LiabilityAccountID: req.LiabilityAccountID,
		AccretionAccountID: req.AccretionAccountID,
		CreatedAt:          s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.ARO
		err := tx.WithContext(ctx).
			Where("tenant_id = ? AND aro_id = ?", tenantID, aroID).
			First(&existing).Error
		switch {
		case err == nil:
			aro.ID = existing.ID
			aro.CreatedAt = existing.CreatedAt
			return tx.WithContext(ctx).Save(&aro).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.WithContext(ctx).Create(&aro).Error
		default:
			return err
		}
	})
	if err != nil {
		return domain.ARO{}, err
	}

	s.audit(ctx, tenantID, "fixedasset.aro_upserted", aroID, nil)
	return aro, nil
}

// PreviewImpairment computes the write-down without touching any state.
// Carrying value is cost less posted depreciation less prior impairments.
func (s *Service) PreviewImpairment(ctx context.Context, req domain.ImpairmentRequest) (domain.ImpairmentResult, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.ImpairmentResult{}, ledgerdomain.ErrInvalidTenant
	}
	if req.RecoverableMinor < 0 {
		return domain.ImpairmentResult{}, domain.ErrInvalidRecoverable
	}

	asset, err := s.currentAsset(ctx, s.db, tenantID, strings.TrimSpace(req.AssetID))
	if err != nil {
		return domain.ImpairmentResult{}, err
	}

	carrying, err := s.carryingValue(ctx, asset)
	if err != nil {
		return domain.ImpairmentResult{}, err
	}

	loss := carrying - req.RecoverableMinor
	if loss < 0 {
		loss = 0
	}
	return domain.ImpairmentResult{
		AssetID:          asset.AssetID,
		CarryingMinor:    carrying,
		RecoverableMinor: req.RecoverableMinor,
		LossMinor:        loss,
	}, nil
}

// PostImpairment records the write-down: a two-line posting (debit
// impairment expense, credit accumulated depreciation), an append-only
// test row, and a new asset version carrying the raised impairment total.
// A zero loss is a no-op. Impairments never reverse upward.
func (s *Service) PostImpairment(ctx context.Context, req domain.ImpairmentRequest) (domain.ImpairmentResult, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.ImpairmentResult{}, ledgerdomain.ErrInvalidTenant
	}
	assetID := strings.TrimSpace(req.AssetID)

	unlock := s.lockAsset(tenantID, assetID)
	defer unlock()

	result, err := s.PreviewImpairment(ctx, req)
	if err != nil {
		return domain.ImpairmentResult{}, err
	}
	if result.LossMinor == 0 {
		return result, nil
	}

	asset, err := s.currentAsset(ctx, s.db, tenantID, assetID)
	if err != nil {
		return domain.ImpairmentResult{}, err
	}

	expenseAccount := req.ExpenseAccountID
	if expenseAccount == 0 {
		expenseAccount = asset.ExpenseAccountID
	}
	testDate := req.TestDate.UTC()
	if testDate.IsZero() {
		testDate = s.clock.Now().UTC()
	}

	posted, err := s.ledgerSvc.Post(ctx, ledgerdomain.PostRequest{
		Book:           asset.Book,
		Entity:         asset.Entity,
		Currency:       asset.Currency,
		EffectiveDate:  testDate,
		IdempotencyKey: fmt.Sprintf("imp:%s:%s", asset.AssetID, testDate.Format("2006-01-02")),
		Narrative:      fmt.Sprintf("impairment loss %s", asset.AssetID),
		Lines: []ledgerdomain.LineInput{
			{AccountID: expenseAccount, Direction: ledgerdomain.EntryDirectionDebit, Amount: result.LossMinor},
			{AccountID: asset.AccumAccountID, Direction: ledgerdomain.EntryDirectionCredit, Amount: result.LossMinor},
		},
	})
	if err != nil {
		return domain.ImpairmentResult{}, err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		test := domain.ImpairmentTest{
			ID:               s.genID.Generate(),
			TenantID:         tenantID,
			AssetID:          asset.AssetID,
			TestDate:         testDate,
			CarryingMinor:    result.CarryingMinor,
			RecoverableMinor: result.RecoverableMinor,
			LossMinor:        result.LossMinor,
			PostingID:        posted.PostingID,
			CreatedAt:        now,
		}
		if err := tx.WithContext(ctx).Create(&test).Error; err != nil {
			return err
		}

		res := tx.WithContext(ctx).Model(&domain.Asset{}).
			Where("id = ? AND valid_to IS NULL", asset.ID).
			Update("valid_to", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ledgerdomain.ErrConcurrentModification
		}

		next := asset
		next.ID = s.genID.Generate()
		next.Version = asset.Version + 1
		next.ValidFrom = now
		next.ValidTo = nil
		next.ImpairedMinor = asset.ImpairedMinor + result.LossMinor
		return tx.WithContext(ctx).Create(&next).Error
	})
	if err != nil {
		return domain.ImpairmentResult{}, err
	}

	result.PostingID = posted.PostingID
	s.audit(ctx, tenantID, "fixedasset.impairment_posted", asset.AssetID, map[string]any{
		"loss_minor": result.LossMinor,
	})
	return result, nil
}

func (s *Service) currentAsset(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, assetID string) (domain.Asset, error) {
	if assetID == "" {
		return domain.Asset{}, domain.ErrInvalidAssetID
	}

	var asset domain.Asset
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND asset_id = ? AND valid_to IS NULL", tenantID, assetID).
		First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Asset{}, domain.ErrAssetNotFound
	}
	if err != nil {
		return domain.Asset{}, err
	}
	return asset, nil
}

// carryingValue is cost less posted depreciation less accumulated
// impairment.
func (s *Service) carryingValue(ctx context.Context, asset domain.Asset) (int64, error) {
	var posted struct{ Total int64 }
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(l.amount_minor), 0) AS total
		 FROM depr_schedule_lines l
		 JOIN depr_schedules s ON s.id = l.schedule_id
		 WHERE s.tenant_id = ? AND s.asset_id = ? AND s.kind = ? AND l.posted = ?`,
		asset.TenantID, asset.AssetID, domain.ScheduleKindDepreciation, true,
	).Scan(&posted).Error
	if err != nil {
		return 0, err
	}
	return asset.CostMinor - posted.Total - asset.ImpairedMinor, nil
}

func (s *Service) audit(ctx context.Context, tenantID snowflake.ID, action, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actor, _ := tenantctx.ActorFromContext(ctx)
	if err := s.auditSvc.AuditLog(ctx, tenantID, actor, action, "fixed_asset", targetID, metadata); err != nil {
		s.log.Warn("failed to write fixed asset audit log", zap.String("action", action), zap.Error(err))
	}
}
