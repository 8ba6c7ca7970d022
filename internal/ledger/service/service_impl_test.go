package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/glcore/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/glcore/internal/ledger/domain"
	"github.com/smallbiznis/glcore/internal/tenantctx"
	"github.com/smallbiznis/glcore/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, context.Context) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.Posting{},
		&ledgerdomain.PostingLine{},
		&auditdomain.AuditLog{},
	)
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	}).(*Service)

	ctx := tenantctx.WithTenantID(context.Background(), int64(node.Generate()))
	return svc, db, ctx
}

func mustAccount(t *testing.T, svc *Service, ctx context.Context, code string, side ledgerdomain.NormalSide) ledgerdomain.Account {
	t.Helper()
	account, err := svc.CreateAccount(ctx, ledgerdomain.CreateAccountRequest{
		Book:       "main",
		Entity:     "acme",
		Currency:   "USD",
		Code:       code,
		Name:       code,
		NormalSide: side,
	})
	require.NoError(t, err)
	return account
}

func TestPostRejectsImbalanced(t *testing.T) {
	svc, _, ctx := newTestService(t)
	cash := mustAccount(t, svc, ctx, "cash", ledgerdomain.NormalSideDebit)
	revenue := mustAccount(t, svc, ctx, "revenue", ledgerdomain.NormalSideCredit)

	_, err := svc.Post(ctx, ledgerdomain.PostRequest{
		Book:           "main",
		Currency:       "USD",
		EffectiveDate:  time.Now(),
		IdempotencyKey: "imbalanced-1",
		Lines: []ledgerdomain.LineInput{
			{AccountID: cash.ID, Direction: ledgerdomain.EntryDirectionDebit, Amount: 1000},
			{AccountID: revenue.ID, Direction: ledgerdomain.EntryDirectionCredit, Amount: 900},
		},
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrImbalancedPosting)
}

func TestPostRejectsEmptyAndSingleLine(t *testing.T) {
	svc, _, ctx := newTestService(t)
	cash := mustAccount(t, svc, ctx, "cash", ledgerdomain.NormalSideDebit)

	_, err := svc.Post(ctx, ledgerdomain.PostRequest{
		Book: "main", Currency: "USD", EffectiveDate: time.Now(), IdempotencyKey: "empty-1",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrEmptyLines)

	_, err = svc.Post(ctx, ledgerdomain.PostRequest{
		Book: "main", Currency: "USD", EffectiveDate: time.Now(), IdempotencyKey: "single-1",
		Lines: []ledgerdomain.LineInput{
			{AccountID: cash.ID, Direction: ledgerdomain.EntryDirectionDebit, Amount: 0},
		},
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrEmptyLines)
}

func TestPostUnknownAccount(t *testing.T) {
	svc, _, ctx := newTestService(t)
	cash := mustAccount(t, svc, ctx, "cash", ledgerdomain.NormalSideDebit)

	_, err := svc.Post(ctx, ledgerdomain.PostRequest{
		Book: "main", Currency: "USD", EffectiveDate: time.Now(), IdempotencyKey: "unknown-1",
		Lines: []ledgerdomain.LineInput{
			{AccountID: cash.ID, Direction: ledgerdomain.EntryDirectionDebit, Amount: 500},
			{AccountID: snowflake.ID(42), Direction: ledgerdomain.EntryDirectionCredit, Amount: 500},
		},
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrUnknownAccount)
}

func TestPostCurrencyMismatch(t *testing.T) {
	svc, _, ctx := newTestService(t)
	cash := mustAccount(t, svc, ctx, "cash", ledgerdomain.NormalSideDebit)

	eur, err := svc.CreateAccount(ctx, ledgerdomain.CreateAccountRequest{
		Book: "main", Entity: "acme", Currency: "EUR", Code: "cash_eur", Name: "cash eur",
		NormalSide: ledgerdomain.NormalSideDebit,
	})
	require.NoError(t, err)

	_, err = svc.Post(ctx, ledgerdomain.PostRequest{
		Book: "main", Currency: "USD", EffectiveDate: time.Now(), IdempotencyKey: "fx-1",
		Lines: []ledgerdomain.LineInput{
			{AccountID: cash.ID, Direction: ledgerdomain.EntryDirectionDebit, Amount: 500},
			{AccountID: eur.ID, Direction: ledgerdomain.EntryDirectionCredit, Amount: 500},
		},
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrCurrencyMismatch)
}

func TestPostIdempotentReplay(t *testing.T) {
	svc, _, ctx := newTestService(t)
	cash := mustAccount(t, svc, ctx, "cash", ledgerdomain.NormalSideDebit)
	revenue := mustAccount(t, svc, ctx, "revenue", ledgerdomain.NormalSideCredit)

	req := ledgerdomain.PostRequest{
		Book: "main", Currency: "USD", EffectiveDate: time.Now(), IdempotencyKey: "sale-001",
		Lines: []ledgerdomain.LineInput{
			{AccountID: cash.ID, Direction: ledgerdomain.EntryDirectionDebit, Amount: 1500},
			{AccountID: revenue.ID, Direction: ledgerdomain.EntryDirectionCredit, Amount: 1500},
		},
	}

	first, err := svc.Post(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.Post(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.PostingID, second.PostingID)

	balance, err := svc.Balance(ctx, ledgerdomain.BalanceRequest{AccountID: cash.ID, AsOf: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance)
}

func TestBalanceIsTemporal(t *testing.T) {
	svc, _, ctx := newTestService(t)
	cash := mustAccount(t, svc, ctx, "cash", ledgerdomain.NormalSideDebit)
	revenue := mustAccount(t, svc, ctx, "revenue", ledgerdomain.NormalSideCredit)

	post := func(key string, amount int64, effective time.Time) {
		_, err := svc.Post(ctx, ledgerdomain.PostRequest{
			Book: "main", Currency: "USD", EffectiveDate: effective, IdempotencyKey: key,
			Lines: []ledgerdomain.LineInput{
				{AccountID: cash.ID, Direction: ledgerdomain.EntryDirectionDebit, Amount: amount},
				{AccountID: revenue.ID, Direction: ledgerdomain.EntryDirectionCredit, Amount: amount},
			},
		})
		require.NoError(t, err)
	}

	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	post("jan", 1000, jan)
	post("mar", 2500, mar)

	asOfFeb, err := svc.Balance(ctx, ledgerdomain.BalanceRequest{
		AccountID: cash.ID,
		AsOf:      time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), asOfFeb)

	asOfApr, err := svc.Balance(ctx, ledgerdomain.BalanceRequest{
		AccountID: cash.ID,
		AsOf:      time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3500), asOfApr)
}

func TestTrialBalanceAlwaysBalanced(t *testing.T) {
	svc, _, ctx := newTestService(t)
	cash := mustAccount(t, svc, ctx, "cash", ledgerdomain.NormalSideDebit)
	ar := mustAccount(t, svc, ctx, "accounts_receivable", ledgerdomain.NormalSideDebit)
	revenue := mustAccount(t, svc, ctx, "revenue", ledgerdomain.NormalSideCredit)

	_, err := svc.Post(ctx, ledgerdomain.PostRequest{
		Book: "main", Currency: "USD", EffectiveDate: time.Now(), IdempotencyKey: "tb-1",
		Lines: []ledgerdomain.LineInput{
			{AccountID: cash.ID, Direction: ledgerdomain.EntryDirectionDebit, Amount: 400},
			{AccountID: ar.ID, Direction: ledgerdomain.EntryDirectionDebit, Amount: 600},
			{AccountID: revenue.ID, Direction: ledgerdomain.EntryDirectionCredit, Amount: 1000},
		},
	})
	require.NoError(t, err)

	tb, err := svc.TrialBalance(ctx, ledgerdomain.TrialBalanceRequest{Book: "main", AsOf: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, tb.TotalDebits, tb.TotalCredits)
	assert.Len(t, tb.Rows, 3)

	var net int64
	for _, row := range tb.Rows {
		net += row.Balance
	}
	assert.Zero(t, net)
}

func TestTrialBalanceIsTemporal(t *testing.T) {
	svc, _, ctx := newTestService(t)
	cash := mustAccount(t, svc, ctx, "cash", ledgerdomain.NormalSideDebit)
	revenue := mustAccount(t, svc, ctx, "revenue", ledgerdomain.NormalSideCredit)

	post := func(key string, amount int64, effective time.Time) {
		_, err := svc.Post(ctx, ledgerdomain.PostRequest{
			Book: "main", Currency: "USD", EffectiveDate: effective, IdempotencyKey: key,
			Lines: []ledgerdomain.LineInput{
				{AccountID: cash.ID, Direction: ledgerdomain.EntryDirectionDebit, Amount: amount},
				{AccountID: revenue.ID, Direction: ledgerdomain.EntryDirectionCredit, Amount: amount},
			},
		})
		require.NoError(t, err)
	}

	post("jan", 1000, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	post("mar", 2500, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))

	asOfFeb, err := svc.TrialBalance(ctx, ledgerdomain.TrialBalanceRequest{
		Book: "main",
		AsOf: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), asOfFeb.TotalDebits)
	assert.Equal(t, int64(1000), asOfFeb.TotalCredits)

	// The trial balance must agree with per-account balances at the same
	// instant, not just balance internally.
	cashBalance, err := svc.Balance(ctx, ledgerdomain.BalanceRequest{
		AccountID: cash.ID,
		AsOf:      time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	for _, row := range asOfFeb.Rows {
		if row.AccountID == cash.ID {
			assert.Equal(t, cashBalance, row.Balance)
		}
	}

	asOfApr, err := svc.TrialBalance(ctx, ledgerdomain.TrialBalanceRequest{
		Book: "main",
		AsOf: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3500), asOfApr.TotalDebits)
	assert.Equal(t, int64(3500), asOfApr.TotalCredits)
}

func TestPostAdvancesAccountSequence(t *testing.T) {
	svc, db, ctx := newTestService(t)
	cash := mustAccount(t, svc, ctx, "cash", ledgerdomain.NormalSideDebit)
	revenue := mustAccount(t, svc, ctx, "revenue", ledgerdomain.NormalSideCredit)

	for i := 0; i < 3; i++ {
		_, err := svc.Post(ctx, ledgerdomain.PostRequest{
			Book: "main", Currency: "USD", EffectiveDate: time.Now(),
			IdempotencyKey: fmt.Sprintf("seq-%d", i),
			Lines: []ledgerdomain.LineInput{
				{AccountID: cash.ID, Direction: ledgerdomain.EntryDirectionDebit, Amount: 100},
				{AccountID: revenue.ID, Direction: ledgerdomain.EntryDirectionCredit, Amount: 100},
			},
		})
		require.NoError(t, err)
	}

	var reloaded ledgerdomain.Account
	require.NoError(t, db.First(&reloaded, "id = ?", cash.ID).Error)
	assert.Equal(t, int64(3), reloaded.Seq)

	var seqs []int64
	require.NoError(t, db.Model(&ledgerdomain.PostingLine{}).
		Where("account_id = ?", cash.ID).
		Order("account_seq").
		Pluck("account_seq", &seqs).Error)
	assert.Equal(t, []int64{1, 2, 3}, seqs)
}

func TestCreateAccountDuplicateKey(t *testing.T) {
	svc, _, ctx := newTestService(t)
	mustAccount(t, svc, ctx, "cash", ledgerdomain.NormalSideDebit)

	_, err := svc.CreateAccount(ctx, ledgerdomain.CreateAccountRequest{
		Book: "main", Entity: "acme", Currency: "USD", Code: "cash", Name: "cash again",
		NormalSide: ledgerdomain.NormalSideDebit,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountExists)
}

func TestPostRequiresIdempotencyKey(t *testing.T) {
	svc, _, ctx := newTestService(t)
	cash := mustAccount(t, svc, ctx, "cash", ledgerdomain.NormalSideDebit)
	revenue := mustAccount(t, svc, ctx, "revenue", ledgerdomain.NormalSideCredit)

	_, err := svc.Post(ctx, ledgerdomain.PostRequest{
		Book: "main", Currency: "USD", EffectiveDate: time.Now(),
		Lines: []ledgerdomain.LineInput{
			{AccountID: cash.ID, Direction: ledgerdomain.EntryDirectionDebit, Amount: 100},
			{AccountID: revenue.ID, Direction: ledgerdomain.EntryDirectionCredit, Amount: 100},
		},
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidIdempotencyKey)
}

func TestListPostingsPagesByCursor(t *testing.T) {
	svc, _, ctx := newTestService(t)
	cash := mustAccount(t, svc, ctx, "cash", ledgerdomain.NormalSideDebit)
	revenue := mustAccount(t, svc, ctx, "revenue", ledgerdomain.NormalSideCredit)

	for i := 0; i < 3; i++ {
		_, err := svc.Post(ctx, ledgerdomain.PostRequest{
			Book:           "main",
			Entity:         "acme",
			Currency:       "USD",
			EffectiveDate:  time.Date(2025, time.January, 10+i, 0, 0, 0, 0, time.UTC),
			IdempotencyKey: fmt.Sprintf("inv-%d", i),
			Lines: []ledgerdomain.LineInput{
				{AccountID: cash.ID, Direction: ledgerdomain.EntryDirectionDebit, Amount: 1000},
				{AccountID: revenue.ID, Direction: ledgerdomain.EntryDirectionCredit, Amount: 1000},
			},
		})
		require.NoError(t, err)
	}

	first, err := svc.ListPostings(ctx, ledgerdomain.ListPostingsRequest{Book: "main", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)

	token, err := pagination.EncodeCursor(pagination.Cursor{ID: first[1].ID.String()})
	require.NoError(t, err)

	rest, err := svc.ListPostings(ctx, ledgerdomain.ListPostingsRequest{Book: "main", PageSize: 2, PageToken: token})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Greater(t, int64(rest[0].ID), int64(first[1].ID))

	_, err = svc.ListPostings(ctx, ledgerdomain.ListPostingsRequest{PageToken: "not-a-cursor"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPageToken)

	byAccount, err := svc.ListPostings(ctx, ledgerdomain.ListPostingsRequest{AccountID: cash.ID})
	require.NoError(t, err)
	assert.Len(t, byAccount, 3)
}
