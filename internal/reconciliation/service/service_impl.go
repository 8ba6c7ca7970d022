package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/glcore/internal/audit/domain"
	"github.com/smallbiznis/glcore/internal/clock"
	"github.com/smallbiznis/glcore/internal/config"
	ledgerdomain "github.com/smallbiznis/glcore/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/glcore/internal/observability/metrics"
	"github.com/smallbiznis/glcore/internal/reconciliation/domain"
	"github.com/smallbiznis/glcore/internal/sod"
	"github.com/smallbiznis/glcore/internal/tenantctx"
	"github.com/smallbiznis/glcore/pkg/db/pagination"
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
	Feed       domain.SubledgerFeed `optional:"true"`
	AuditSvc   auditdomain.Service  `optional:"true"`
	ObsMetrics *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	ledgerSvc  ledgerdomain.Service
	feed       domain.SubledgerFeed
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics

	tolerance   MatchTolerance
	feedTimeout time.Duration
	policy      sod.Policy

	// Transitions are serialized per workspace; different workspaces run
	// concurrently.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(p Params) domain.Service {
	policy := sod.DefaultPolicy()
	if p.Cfg.Reconciliation.MinDistinctActors > 0 {
		policy.MinDistinctActors = p.Cfg.Reconciliation.MinDistinctActors
	}

	feedTimeout := time.Duration(p.Cfg.Reconciliation.FeedTimeoutSeconds) * time.Second
	if feedTimeout <= 0 {
		feedTimeout = 30 * time.Second
	}

	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconciliation.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		ledgerSvc:  p.LedgerSvc,
		feed:       p.Feed,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		tolerance: MatchTolerance{
			AmountMinor: p.Cfg.Reconciliation.AmountToleranceMinor,
			DateDays:    p.Cfg.Reconciliation.DateToleranceDays,
		},
		feedTimeout: feedTimeout,
		policy:      policy,
		locks:       map[string]*sync.Mutex{},
	}
}

func (s *Service) lockWorkspace(tenantID snowflake.ID, workspaceID string) func() {
	key := fmt.Sprintf("%d|%s", tenantID, workspaceID)
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

func (s *Service) Create(ctx context.Context, req domain.CreateWorkspaceRequest) (domain.Workspace, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Workspace{}, domain.ErrInvalidTenant
	}

	workspaceID := strings.TrimSpace(req.WorkspaceID)
	if workspaceID == "" {
		return domain.Workspace{}, domain.ErrInvalidWorkspaceID
	}
	switch req.Kind {
	case domain.KindCustomer, domain.KindSupplier, domain.KindSalesOrder, domain.KindBookToBook, domain.KindBank:
	default:
		return domain.Workspace{}, domain.ErrInvalidKind
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return domain.Workspace{}, domain.ErrInvalidCurrency
	}
	if req.AsOfDate.IsZero() {
		return domain.Workspace{}, domain.ErrInvalidAsOfDate
	}

	unlock := s.lockWorkspace(tenantID, workspaceID)
	defer unlock()

	if _, err := s.currentVersion(ctx, s.db, tenantID, workspaceID); err == nil {
		return domain.Workspace{}, domain.ErrWorkspaceExists
	} else if !errors.Is(err, domain.ErrWorkspaceNotFound) {
		return domain.Workspace{}, err
	}

	now := s.clock.Now()
	workspace := domain.Workspace{
		ID:               s.genID.Generate(),
		TenantID:         tenantID,
		WorkspaceID:      workspaceID,
		Version:          1,
		ValidFrom:        now,
		Kind:             req.Kind,
		LegalEntity:      strings.TrimSpace(req.LegalEntity),
		Currency:         currency,
		AsOfDate:         req.AsOfDate.UTC(),
		FromBook:         strings.TrimSpace(req.FromBook),
		ToBook:           strings.TrimSpace(req.ToBook),
		CounterpartyID:   strings.TrimSpace(req.CounterpartyID),
		ControlAccountID: snowflake.ID(req.ControlAccountID),
		Status:           domain.StatusOpen,
		CreatedAt:        now,
	}

	if err := s.db.WithContext(ctx).Create(&workspace).Error; err != nil {
		return domain.Workspace{}, err
	}

	s.audit(ctx, tenantID, "", "reconciliation.workspace_created", workspaceID, map[string]any{
		"kind": string(req.Kind),
	})
	return workspace, nil
}

func (s *Service) Get(ctx context.Context, workspaceID string) (domain.Workspace, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Workspace{}, domain.ErrInvalidTenant
	}
	return s.currentVersion(ctx, s.db, tenantID, strings.TrimSpace(workspaceID))
}

func (s *Service) List(ctx context.Context, req domain.ListWorkspacesRequest) ([]domain.Workspace, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}

	stmt := s.db.WithContext(ctx).
		Where("tenant_id = ? AND valid_to IS NULL", tenantID)
	if req.Kind != "" {
		stmt = stmt.Where("kind = ?", req.Kind)
	}
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil || cursor.ID == "" {
			return nil, domain.ErrInvalidPageToken
		}
		stmt = stmt.Where("workspace_id > ?", cursor.ID)
	}

	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 250 {
		pageSize = 50
	}

	var workspaces []domain.Workspace
	if err := stmt.Order("workspace_id").Limit(int(pageSize)).Find(&workspaces).Error; err != nil {
		return nil, err
	}
	return workspaces, nil
}

func (s *Service) History(ctx context.Context, workspaceID string) ([]domain.Workspace, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}

	var versions []domain.Workspace
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND workspace_id = ?", tenantID, strings.TrimSpace(workspaceID)).
		Order("version").
		Find(&versions).Error
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, domain.ErrWorkspaceNotFound
	}
	return versions, nil
}

// Check recomputes both balances and the matched/unmatched partition from
// scratch. It is idempotent: re-running with no intervening postings
// yields identical results and never double-counts items.
func (s *Service) Check(ctx context.Context, workspaceID string) (domain.CheckResult, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.CheckResult{}, domain.ErrInvalidTenant
	}
	workspaceID = strings.TrimSpace(workspaceID)

	unlock := s.lockWorkspace(tenantID, workspaceID)
	defer unlock()

	current, err := s.currentVersion(ctx, s.db, tenantID, workspaceID)
	if err != nil {
		return domain.CheckResult{}, err
	}
	if current.Status != domain.StatusOpen && current.Status != domain.StatusChecked {
		return domain.CheckResult{}, &domain.TransitionError{Current: current.Status, Requested: "check"}
	}

	// Gather both sides before touching any state, so a feed failure or
	// cancellation leaves the workspace exactly as it was.
	controlItems, controlBalance, err := s.controlSide(ctx, current)
	if err != nil {
		return domain.CheckResult{}, err
	}
	subItems, subledgerSum, err := s.subledgerSide(ctx, tenantID, current)
	if err != nil {
		return domain.CheckResult{}, err
	}

	matchItems(controlItems, subItems, s.tolerance, s.genID.Generate)

	items := append(append([]domain.WorkspaceItem{}, controlItems...), subItems...)
	residual := controlBalance - subledgerSum
	now := s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Exec(
			`DELETE FROM recon_workspace_items WHERE tenant_id = ? AND workspace_id = ? AND locked = ?`,
			tenantID, workspaceID, false,
		).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].ID = s.genID.Generate()
			items[i].TenantID = tenantID
			items[i].WorkspaceID = workspaceID
			items[i].CreatedAt = now
			if err := tx.WithContext(ctx).Create(&items[i]).Error; err != nil {
				return err
			}
		}
		_, err := s.appendVersion(ctx, tx, current, func(next *domain.Workspace) {
			next.Status = domain.StatusChecked
			next.ControlBalance = controlBalance
			next.SubledgerSum = subledgerSum
			next.Residual = residual
		})
		return err
	})
	if err != nil {
		return domain.CheckResult{}, err
	}

	result := domain.CheckResult{
		ControlBalance: controlBalance,
		SubledgerSum:   subledgerSum,
		Residual:       residual,
	}
	for _, item := range items {
		if item.Matched {
			result.MatchedItems = append(result.MatchedItems, item)
		} else {
			result.UnmatchedItems = append(result.UnmatchedItems, item)
		}
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordReconciliationTransition(ctx, "check")
	}
	return result, nil
}

func (s *Service) Prepare(ctx context.Context, workspaceID, actor string) (domain.Workspace, error) {
	return s.transition(ctx, workspaceID, actor, "prepare", domain.StatusPrepared)
}

func (s *Service) Review(ctx context.Context, workspaceID, actor string) (domain.Workspace, error) {
	return s.transition(ctx, workspaceID, actor, "review", domain.StatusReviewed)
}

func (s *Service) Certify(ctx context.Context, workspaceID, actor string) (domain.Workspace, error) {
	return s.transition(ctx, workspaceID, actor, "certify", domain.StatusCertified)
}

func (s *Service) transition(ctx context.Context, workspaceID, actor string, name string, target domain.WorkspaceStatus) (domain.Workspace, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Workspace{}, domain.ErrInvalidTenant
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return domain.Workspace{}, domain.ErrInvalidActor
	}
	workspaceID = strings.TrimSpace(workspaceID)

	unlock := s.lockWorkspace(tenantID, workspaceID)
	defer unlock()

	current, err := s.currentVersion(ctx, s.db, tenantID, workspaceID)
	if err != nil {
		return domain.Workspace{}, err
	}

	var required domain.WorkspaceStatus
	var sodTransition sod.Transition
	switch name {
	case "prepare":
		required, sodTransition = domain.StatusChecked, sod.TransitionPrepare
	case "review":
		required, sodTransition = domain.StatusPrepared, sod.TransitionReview
	case "certify":
		required, sodTransition = domain.StatusReviewed, sod.TransitionCertify
	}
	if current.Status != required {
		return domain.Workspace{}, &domain.TransitionError{Current: current.Status, Requested: name}
	}

	decision := sod.Explain(sod.ActorLog{
		PreparedBy:  current.PreparedBy,
		ReviewedBy:  current.ReviewedBy,
		CertifiedBy: current.CertifiedBy,
	}, sodTransition, actor, s.policy)
	if !decision.Allowed {
		return domain.Workspace{}, &domain.SoDError{
			Reason:     decision.Reason,
			PreparedBy: current.PreparedBy,
			ReviewedBy: current.ReviewedBy,
		}
	}

	if target == domain.StatusCertified && current.Residual != 0 {
		explained, err := s.hasExplanation(ctx, tenantID, workspaceID)
		if err != nil {
			return domain.Workspace{}, err
		}
		if !explained {
			return domain.Workspace{}, domain.ErrUncertifiedResidual
		}
	}

	now := s.clock.Now()
	var next domain.Workspace
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if target == domain.StatusPrepared {
			// Lock the unmatched set the preparer signs off on.
			if err := tx.WithContext(ctx).Exec(
				`UPDATE recon_workspace_items SET locked = ? WHERE tenant_id = ? AND workspace_id = ? AND matched = ?`,
				true, tenantID, workspaceID, false,
			).Error; err != nil {
				return err
			}
		}
		var err error
		next, err = s.appendVersion(ctx, tx, current, func(w *domain.Workspace) {
			w.Status = target
			switch target {
			case domain.StatusPrepared:
				w.PreparedBy, w.PreparedAt = actor, &now
			case domain.StatusReviewed:
				w.ReviewedBy, w.ReviewedAt = actor, &now
			case domain.StatusCertified:
				w.CertifiedBy, w.CertifiedAt = actor, &now
			}
		})
		return err
	})
	if err != nil {
		return domain.Workspace{}, err
	}

	s.audit(ctx, tenantID, actor, "reconciliation."+name, workspaceID, map[string]any{
		"status": string(target),
	})
	if s.obsMetrics != nil {
		s.obsMetrics.RecordReconciliationTransition(ctx, name)
	}
	return next, nil
}

func (s *Service) Reject(ctx context.Context, workspaceID, actor, reason string) (domain.Workspace, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Workspace{}, domain.ErrInvalidTenant
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return domain.Workspace{}, domain.ErrInvalidActor
	}
	workspaceID = strings.TrimSpace(workspaceID)

	unlock := s.lockWorkspace(tenantID, workspaceID)
	defer unlock()

	current, err := s.currentVersion(ctx, s.db, tenantID, workspaceID)
	if err != nil {
		return domain.Workspace{}, err
	}
	switch current.Status {
	case domain.StatusChecked, domain.StatusPrepared, domain.StatusReviewed:
	default:
		return domain.Workspace{}, &domain.TransitionError{Current: current.Status, Requested: "reject"}
	}

	var next domain.Workspace
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Unlock items so the next cycle recomputes from scratch.
		if err := tx.WithContext(ctx).Exec(
			`UPDATE recon_workspace_items SET locked = ? WHERE tenant_id = ? AND workspace_id = ?`,
			false, tenantID, workspaceID,
		).Error; err != nil {
			return err
		}
		var err error
		next, err = s.appendVersion(ctx, tx, current, func(w *domain.Workspace) {
			w.Status = domain.StatusOpen
			w.RejectReason = strings.TrimSpace(reason)
			w.PreparedBy, w.PreparedAt = "", nil
			w.ReviewedBy, w.ReviewedAt = "", nil
			w.CertifiedBy, w.CertifiedAt = "", nil
		})
		return err
	})
	if err != nil {
		return domain.Workspace{}, err
	}

	s.audit(ctx, tenantID, actor, "reconciliation.reject", workspaceID, map[string]any{
		"reason": strings.TrimSpace(reason),
	})
	if s.obsMetrics != nil {
		s.obsMetrics.RecordReconciliationTransition(ctx, "reject")
	}
	return next, nil
}

func (s *Service) Attach(ctx context.Context, req domain.AttachRequest) (domain.Attachment, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return domain.Attachment{}, domain.ErrInvalidTenant
	}
	workspaceID := strings.TrimSpace(req.WorkspaceID)
	if strings.TrimSpace(req.AttachmentID) == "" || strings.TrimSpace(req.URI) == "" || strings.TrimSpace(req.Kind) == "" {
		return domain.Attachment{}, domain.ErrInvalidAttachment
	}

	unlock := s.lockWorkspace(tenantID, workspaceID)
	defer unlock()

	current, err := s.currentVersion(ctx, s.db, tenantID, workspaceID)
	if err != nil {
		return domain.Attachment{}, err
	}
	if current.Status == domain.StatusCertified {
		return domain.Attachment{}, domain.ErrWorkspaceFrozen
	}

	attachment := domain.Attachment{
		ID:           s.genID.Generate(),
		TenantID:     tenantID,
		WorkspaceID:  workspaceID,
		AttachmentID: strings.TrimSpace(req.AttachmentID),
		URI:          strings.TrimSpace(req.URI),
		Kind:         strings.TrimSpace(req.Kind),
		Note:         strings.TrimSpace(req.Note),
		CreatedAt:    s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&attachment).Error; err != nil {
		return domain.Attachment{}, err
	}

	s.audit(ctx, tenantID, "", "reconciliation.attachment_added", workspaceID, map[string]any{
		"attachment_id": attachment.AttachmentID,
		"kind":          attachment.Kind,
	})
	return attachment, nil
}

func (s *Service) currentVersion(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, workspaceID string) (domain.Workspace, error) {
	if workspaceID == "" {
		return domain.Workspace{}, domain.ErrInvalidWorkspaceID
	}

	var workspace domain.Workspace
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND workspace_id = ? AND valid_to IS NULL", tenantID, workspaceID).
		First(&workspace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Workspace{}, domain.ErrWorkspaceNotFound
	}
	if err != nil {
		return domain.Workspace{}, err
	}
	return workspace, nil
}

// appendVersion closes the current row and inserts the successor, keeping
// full history for audit.
func (s *Service) appendVersion(ctx context.Context, tx *gorm.DB, current domain.Workspace, mutate func(*domain.Workspace)) (domain.Workspace, error) {
	now := s.clock.Now()

	res := tx.WithContext(ctx).Model(&domain.Workspace{}).
		Where("id = ? AND valid_to IS NULL", current.ID).
		Update("valid_to", now)
	if res.Error != nil {
		return domain.Workspace{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Workspace{}, domain.ErrWorkspaceNotFound
	}

	next := current
	next.ID = s.genID.Generate()
	next.Version = current.Version + 1
	next.ValidFrom = now
	next.ValidTo = nil
	mutate(&next)

	if err := tx.WithContext(ctx).Create(&next).Error; err != nil {
		return domain.Workspace{}, err
	}
	return next, nil
}

func (s *Service) controlSide(ctx context.Context, workspace domain.Workspace) ([]domain.WorkspaceItem, int64, error) {
	if workspace.ControlAccountID == 0 {
		return nil, 0, nil
	}

	balance, err := s.ledgerSvc.Balance(ctx, ledgerdomain.BalanceRequest{
		AccountID: workspace.ControlAccountID,
		AsOf:      workspace.AsOfDate,
	})
	if err != nil {
		return nil, 0, err
	}

	var rows []struct {
		ID            snowflake.ID
		Direction     string
		Amount        int64
		Narrative     string
		EffectiveDate time.Time
	}
	err = s.db.WithContext(ctx).Raw(
		`SELECT l.id, l.direction, l.amount, l.narrative, p.effective_date
		 FROM posting_lines l
		 JOIN postings p ON p.id = l.posting_id
		 WHERE p.tenant_id = ? AND l.account_id = ? AND p.effective_date <= ?
		 ORDER BY l.account_seq`,
		workspace.TenantID, workspace.ControlAccountID, workspace.AsOfDate.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	items := make([]domain.WorkspaceItem, 0, len(rows))
	for _, row := range rows {
		amount := row.Amount
		if row.Direction == string(ledgerdomain.EntryDirectionCredit) {
			amount = -amount
		}
		items = append(items, domain.WorkspaceItem{
			Source:      domain.ItemSourceControl,
			ExternalRef: row.ID.String(),
			Amount:      amount,
			ItemDate:    row.EffectiveDate,
			Narrative:   row.Narrative,
		})
	}
	return items, balance, nil
}

func (s *Service) subledgerSide(ctx context.Context, tenantID snowflake.ID, workspace domain.Workspace) ([]domain.WorkspaceItem, int64, error) {
	if s.feed == nil {
		return nil, 0, nil
	}

	feedCtx, cancel := context.WithTimeout(ctx, s.feedTimeout)
	defer cancel()

	feedItems, err := s.feed.Items(feedCtx, domain.FeedRef{
		TenantID:       tenantID,
		Kind:           workspace.Kind,
		CounterpartyID: workspace.CounterpartyID,
		ToBook:         workspace.ToBook,
		Currency:       workspace.Currency,
		AsOf:           workspace.AsOfDate,
	})
	if err != nil {
		s.log.Warn("subledger feed failed",
			zap.String("workspace_id", workspace.WorkspaceID),
			zap.Error(err),
		)
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err)
	}

	items := make([]domain.WorkspaceItem, 0, len(feedItems))
	var sum int64
	for _, feedItem := range feedItems {
		sum += feedItem.Amount
		items = append(items, domain.WorkspaceItem{
			Source:      domain.ItemSourceSubledger,
			ExternalRef: feedItem.ExternalRef,
			Amount:      feedItem.Amount,
			ItemDate:    feedItem.ItemDate,
			Narrative:   feedItem.Narrative,
		})
	}
	return items, sum, nil
}

func (s *Service) hasExplanation(ctx context.Context, tenantID snowflake.ID, workspaceID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Attachment{}).
		Where("tenant_id = ? AND workspace_id = ? AND kind = ?", tenantID, workspaceID, domain.AttachmentKindExplanation).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) audit(ctx context.Context, tenantID snowflake.ID, actor, action, workspaceID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, tenantID, actor, action, "recon_workspace", workspaceID, metadata); err != nil {
		s.log.Warn("failed to write reconciliation audit log", zap.String("action", action), zap.Error(err))
	}
}
