package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/glcore/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/glcore/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/glcore/internal/observability/metrics"
	"github.com/smallbiznis/glcore/internal/tenantctx"
	"github.com/smallbiznis/glcore/pkg/db"
	"github.com/smallbiznis/glcore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxPostRetries bounds the optimistic-sequencing retry loop before a
// conflict is surfaced to the caller.
const maxPostRetries = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateAccount(ctx context.Context, req ledgerdomain.CreateAccountRequest) (ledgerdomain.Account, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidTenant
	}

	book := strings.TrimSpace(req.Book)
	if book == "" {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidBook
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidCurrency
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidCode
	}
	switch req.NormalSide {
	case ledgerdomain.NormalSideDebit, ledgerdomain.NormalSideCredit:
	default:
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidNormalSide
	}

	account := ledgerdomain.Account{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		Book:       book,
		Entity:     strings.TrimSpace(req.Entity),
		Currency:   currency,
		Code:       code,
		Name:       strings.TrimSpace(req.Name),
		NormalSide: req.NormalSide,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return ledgerdomain.Account{}, ledgerdomain.ErrAccountExists
		}
		return ledgerdomain.Account{}, err
	}
	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, id snowflake.ID) (ledgerdomain.Account, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidTenant
	}

	var account ledgerdomain.Account
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledgerdomain.Account{}, ledgerdomain.ErrUnknownAccount
	}
	if err != nil {
		return ledgerdomain.Account{}, err
	}
	return account, nil
}

func (s *Service) FindAccount(ctx context.Context, book, entity, currency, code string) (ledgerdomain.Account, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidTenant
	}

	var account ledgerdomain.Account
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND book = ? AND entity = ? AND currency = ? AND code = ?",
			tenantID, strings.TrimSpace(book), strings.TrimSpace(entity),
			strings.ToUpper(strings.TrimSpace(currency)), strings.TrimSpace(code)).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledgerdomain.Account{}, ledgerdomain.ErrUnknownAccount
	}
	if err != nil {
		return ledgerdomain.Account{}, err
	}
	return account, nil
}

func (s *Service) ListAccounts(ctx context.Context, book string) ([]ledgerdomain.Account, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}

	stmt := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if book = strings.TrimSpace(book); book != "" {
		stmt = stmt.Where("book = ?", book)
	}

	var accounts []ledgerdomain.Account
	if err := stmt.Order("book, code").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// Post validates and atomically commits a balanced posting. The caller's
// idempotency key makes retries safe: a repeated key returns the original
// posting id without re-posting.
func (s *Service) Post(ctx context.Context, req ledgerdomain.PostRequest) (ledgerdomain.PostResult, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return ledgerdomain.PostResult{}, ledgerdomain.ErrInvalidTenant
	}

	book := strings.TrimSpace(req.Book)
	if book == "" {
		return ledgerdomain.PostResult{}, ledgerdomain.ErrInvalidBook
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return ledgerdomain.PostResult{}, ledgerdomain.ErrInvalidCurrency
	}
	if req.EffectiveDate.IsZero() {
		return ledgerdomain.PostResult{}, ledgerdomain.ErrInvalidEffectiveDate
	}
	idemKey := strings.TrimSpace(req.IdempotencyKey)
	if idemKey == "" {
		return ledgerdomain.PostResult{}, ledgerdomain.ErrInvalidIdempotencyKey
	}

	lines := make([]ledgerdomain.PostingLine, 0, len(req.Lines))
	for _, input := range req.Lines {
		if input.AccountID == 0 {
			return ledgerdomain.PostResult{}, ledgerdomain.ErrUnknownAccount
		}
		lines = append(lines, ledgerdomain.PostingLine{
			AccountID: input.AccountID,
			Direction: input.Direction,
			Amount:    input.Amount,
			Narrative: strings.TrimSpace(input.Narrative),
		})
	}
	if err := ledgerdomain.ValidateBalanced(lines); err != nil {
		return ledgerdomain.PostResult{}, err
	}

	var (
		result  ledgerdomain.PostResult
		lastErr error
	)
	for attempt := 0; attempt < maxPostRetries; attempt++ {
		result, lastErr = s.tryPost(ctx, tenantID, book, currency, idemKey, req, lines)
		if !errors.Is(lastErr, ledgerdomain.ErrConcurrentModification) {
			break
		}
		s.log.Debug("posting sequence conflict, retrying",
			zap.String("idempotency_key", idemKey),
			zap.Int("attempt", attempt+1),
		)
	}
	if lastErr != nil {
		return ledgerdomain.PostResult{}, lastErr
	}

	if !result.Replayed && s.obsMetrics != nil {
		s.obsMetrics.RecordPosting(ctx, book)
	}
	return result, nil
}

func (s *Service) tryPost(
	ctx context.Context,
	tenantID snowflake.ID,
	book, currency, idemKey string,
	req ledgerdomain.PostRequest,
	lines []ledgerdomain.PostingLine,
) (ledgerdomain.PostResult, error) {
	var result ledgerdomain.PostResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existingID snowflake.ID
		if err := tx.WithContext(ctx).Raw(
			`SELECT id FROM postings WHERE tenant_id = ? AND idempotency_key = ?`,
			tenantID, idemKey,
		).Scan(&existingID).Error; err != nil {
			return err
		}
		if existingID != 0 {
			result = ledgerdomain.PostResult{PostingID: existingID, Replayed: true}
			return nil
		}

		accountIDs := distinctAccountIDs(lines)
		var accounts []ledgerdomain.Account
		if err := tx.WithContext(ctx).
			Where("tenant_id = ? AND id IN ?", tenantID, accountIDs).
			Find(&accounts).Error; err != nil {
			return err
		}
		byID := make(map[snowflake.ID]ledgerdomain.Account, len(accounts))
		for _, account := range accounts {
			byID[account.ID] = account
		}
		for _, line := range lines {
			account, ok := byID[line.AccountID]
			if !ok {
				return ledgerdomain.ErrUnknownAccount
			}
			if !account.Active {
				return ledgerdomain.ErrInactiveAccount
			}
			if account.Currency != currency {
				return ledgerdomain.ErrCurrencyMismatch
			}
		}

		// Advance each touched account's sequence with a compare-and-swap.
		// A concurrent commit on the same account makes the CAS miss and the
		// whole posting retries from scratch. Accounts are visited in id
		// order so two concurrent multi-account postings cannot deadlock.
		nextSeq := make(map[snowflake.ID]int64, len(accountIDs))
		for _, accountID := range accountIDs {
			account := byID[accountID]
			res := tx.WithContext(ctx).Exec(
				`UPDATE accounts SET seq = seq + 1 WHERE id = ? AND seq = ?`,
				accountID, account.Seq,
			)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ledgerdomain.ErrConcurrentModification
			}
			nextSeq[accountID] = account.Seq + 1
		}

		postingID := s.genID.Generate()
		now := time.Now().UTC()
		res := tx.WithContext(ctx).Exec(
			`INSERT INTO postings (
				id, tenant_id, book, entity, currency, effective_date, idempotency_key, narrative, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`,
			postingID,
			tenantID,
			book,
			strings.TrimSpace(req.Entity),
			currency,
			req.EffectiveDate.UTC(),
			idemKey,
			strings.TrimSpace(req.Narrative),
			now,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost a race on the same key; retry and take the replay path.
			return ledgerdomain.ErrConcurrentModification
		}

		for _, line := range lines {
			if err := tx.WithContext(ctx).Exec(
				`INSERT INTO posting_lines (
					id, posting_id, account_id, direction, amount, narrative, account_seq, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				s.genID.Generate(),
				postingID,
				line.AccountID,
				string(line.Direction),
				line.Amount,
				line.Narrative,
				nextSeq[line.AccountID],
				now,
			).Error; err != nil {
				return err
			}
		}

		result = ledgerdomain.PostResult{PostingID: postingID}
		return nil
	})
	if err != nil {
		return ledgerdomain.PostResult{}, err
	}

	if !result.Replayed && s.auditSvc != nil {
		_ = s.auditSvc.AuditLog(ctx, tenantID, "", "ledger.posting_created", "posting", result.PostingID.String(), map[string]any{
			"book":            book,
			"idempotency_key": idemKey,
		})
	}
	return result, nil
}

func (s *Service) GetPosting(ctx context.Context, id snowflake.ID) (ledgerdomain.Posting, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return ledgerdomain.Posting{}, ledgerdomain.ErrInvalidTenant
	}

	var posting ledgerdomain.Posting
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&posting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledgerdomain.Posting{}, ledgerdomain.ErrPostingNotFound
	}
	if err != nil {
		return ledgerdomain.Posting{}, err
	}

	if err := s.db.WithContext(ctx).
		Where("posting_id = ?", id).
		Order("id").
		Find(&posting.Lines).Error; err != nil {
		return ledgerdomain.Posting{}, err
	}
	return posting, nil
}

// ListPostings pages through posting headers newest-last, cursored on
// the snowflake id.
func (s *Service) ListPostings(ctx context.Context, req ledgerdomain.ListPostingsRequest) ([]ledgerdomain.Posting, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}

	stmt := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if book := strings.TrimSpace(req.Book); book != "" {
		stmt = stmt.Where("book = ?", book)
	}
	if req.AccountID != 0 {
		stmt = stmt.Where("id IN (SELECT posting_id FROM posting_lines WHERE account_id = ?)", req.AccountID)
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil || cursor.ID == "" {
			return nil, ledgerdomain.ErrInvalidPageToken
		}
		after, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, ledgerdomain.ErrInvalidPageToken
		}
		stmt = stmt.Where("id > ?", after)
	}

	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 250 {
		pageSize = 50
	}

	var postings []ledgerdomain.Posting
	if err := stmt.Order("id").Limit(int(pageSize)).Find(&postings).Error; err != nil {
		return nil, err
	}
	return postings, nil
}

// Balance sums the account's posting lines with effective date <= asOf.
// The query is indexed by account and never scans unrelated accounts.
func (s *Service) Balance(ctx context.Context, req ledgerdomain.BalanceRequest) (int64, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return 0, ledgerdomain.ErrInvalidTenant
	}
	if req.AccountID == 0 {
		return 0, ledgerdomain.ErrUnknownAccount
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	var balance int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(CASE WHEN l.direction = 'debit' THEN l.amount ELSE -l.amount END), 0)
		 FROM posting_lines l
		 JOIN postings p ON p.id = l.posting_id
		 WHERE p.tenant_id = ? AND l.account_id = ? AND p.effective_date <= ?`,
		tenantID, req.AccountID, asOf.UTC(),
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) TrialBalance(ctx context.Context, req ledgerdomain.TrialBalanceRequest) (ledgerdomain.TrialBalance, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return ledgerdomain.TrialBalance{}, ledgerdomain.ErrInvalidTenant
	}
	book := strings.TrimSpace(req.Book)
	if book == "" {
		return ledgerdomain.TrialBalance{}, ledgerdomain.ErrInvalidBook
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	var rows []struct {
		AccountID snowflake.ID
		Code      string
		Currency  string
		Debits    int64
		Credits   int64
	}
	// Lines join through their posting so entries effective after asOf
	// are excluded, matching Balance. Accounts with no activity still
	// appear with zero balances.
	err := s.db.WithContext(ctx).Raw(
		`SELECT a.id AS account_id, a.code AS code, a.currency AS currency,
			COALESCE(SUM(CASE WHEN l.direction = 'debit' THEN l.amount ELSE 0 END), 0) AS debits,
			COALESCE(SUM(CASE WHEN l.direction = 'credit' THEN l.amount ELSE 0 END), 0) AS credits
		 FROM accounts a
		 LEFT JOIN (
			SELECT pl.account_id, pl.direction, pl.amount
			FROM posting_lines pl
			JOIN postings p ON p.id = pl.posting_id
			WHERE p.tenant_id = ? AND p.effective_date <= ?
		 ) l ON l.account_id = a.id
		 WHERE a.tenant_id = ? AND a.book = ?
		 GROUP BY a.id, a.code, a.currency
		 ORDER BY a.code`,
		tenantID, asOf.UTC(), tenantID, book,
	).Scan(&rows).Error
	if err != nil {
		return ledgerdomain.TrialBalance{}, err
	}

	tb := ledgerdomain.TrialBalance{Book: book, AsOf: asOf.UTC()}
	for _, row := range rows {
		tb.Rows = append(tb.Rows, ledgerdomain.TrialBalanceRow{
			AccountID: row.AccountID,
			Code:      row.Code,
			Currency:  row.Currency,
			Balance:   row.Debits - row.Credits,
		})
		tb.TotalDebits += row.Debits
		tb.TotalCredits += row.Credits
	}
	return tb, nil
}

func distinctAccountIDs(lines []ledgerdomain.PostingLine) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(lines))
	ids := make([]snowflake.ID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		ids = append(ids, line.AccountID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
