package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateAccountRequest struct {
	Book       string
	Entity     string
	Currency   string
	Code       string
	Name       string
	NormalSide NormalSide
}

type LineInput struct {
	AccountID snowflake.ID
	Direction EntryDirection
	Amount    int64
	Narrative string
}

type PostRequest struct {
	Book           string
	Entity         string
	Currency       string
	EffectiveDate  time.Time
	IdempotencyKey string
	Narrative      string
	Lines          []LineInput
}

// PostResult carries the committed posting id. Replayed is true when the
// idempotency key had already been used; the original id is returned and
// no new ledger effect occurred.
type PostResult struct {
	PostingID snowflake.ID `json:"posting_id"`
	Replayed  bool         `json:"replayed"`
}

type BalanceRequest struct {
	AccountID snowflake.ID
	AsOf      time.Time
}

type TrialBalanceRequest struct {
	Book string
	AsOf time.Time
}

// TrialBalanceRow is one account's signed balance (debit positive).
type TrialBalanceRow struct {
	AccountID snowflake.ID `json:"account_id"`
	Code      string       `json:"code"`
	Currency  string       `json:"currency"`
	Balance   int64        `json:"balance"`
}

type TrialBalance struct {
	Book         string            `json:"book"`
	AsOf         time.Time         `json:"as_of"`
	Rows         []TrialBalanceRow `json:"rows"`
	TotalDebits  int64             `json:"total_debits"`
	TotalCredits int64             `json:"total_credits"`
}

type ListPostingsRequest struct {
	Book      string
	AccountID snowflake.ID
	PageToken string
	PageSize  int32
}

type Service interface {
	CreateAccount(ctx context.Context, req CreateAccountRequest) (Account, error)
	GetAccount(ctx context.Context, id snowflake.ID) (Account, error)
	FindAccount(ctx context.Context, book, entity, currency, code string) (Account, error)
	ListAccounts(ctx context.Context, book string) ([]Account, error)

	Post(ctx context.Context, req PostRequest) (PostResult, error)
	GetPosting(ctx context.Context, id snowflake.ID) (Posting, error)
	ListPostings(ctx context.Context, req ListPostingsRequest) ([]Posting, error)
	Balance(ctx context.Context, req BalanceRequest) (int64, error)
	TrialBalance(ctx context.Context, req TrialBalanceRequest) (TrialBalance, error)
}

var (
	ErrInvalidTenant          = errors.New("invalid_tenant")
	ErrInvalidBook            = errors.New("invalid_book")
	ErrInvalidCurrency        = errors.New("invalid_currency")
	ErrInvalidCode            = errors.New("invalid_code")
	ErrInvalidNormalSide      = errors.New("invalid_normal_side")
	ErrInvalidEffectiveDate   = errors.New("invalid_effective_date")
	ErrInvalidIdempotencyKey  = errors.New("invalid_idempotency_key")
	ErrInvalidPageToken       = errors.New("invalid_page_token")
	ErrInvalidLineAmount      = errors.New("invalid_line_amount")
	ErrInvalidLineDirection   = errors.New("invalid_line_direction")
	ErrEmptyLines             = errors.New("empty_lines")
	ErrImbalancedPosting      = errors.New("imbalanced_posting")
	ErrUnknownAccount         = errors.New("unknown_account")
	ErrInactiveAccount        = errors.New("inactive_account")
	ErrCurrencyMismatch       = errors.New("currency_mismatch")
	ErrConcurrentModification = errors.New("concurrent_modification")
	ErrAccountExists          = errors.New("account_exists")
	ErrPostingNotFound        = errors.New("posting_not_found")
)
