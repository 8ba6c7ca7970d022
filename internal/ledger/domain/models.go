package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryDirection represents debit or credit posting lines.
type EntryDirection string

const (
	EntryDirectionDebit  EntryDirection = "debit"
	EntryDirectionCredit EntryDirection = "credit"
)

// NormalSide is the side on which an account naturally carries its balance.
type NormalSide string

const (
	NormalSideDebit  NormalSide = "debit"
	NormalSideCredit NormalSide = "credit"
)

// Account is a chart-of-accounts entry, identified within a tenant by
// (book, entity, currency, code). Once referenced by a posting the row is
// never mutated except for the active flag and the sequence counter.
type Account struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_accounts_tenant_key,priority:1" json:"tenant_id"`
	Book     string       `gorm:"type:text;not null;uniqueIndex:ux_accounts_tenant_key,priority:2" json:"book"`
	Entity   string       `gorm:"type:text;not null;uniqueIndex:ux_accounts_tenant_key,priority:3" json:"entity"`
	Currency string       `gorm:"type:text;not null;uniqueIndex:ux_accounts_tenant_key,priority:4" json:"currency"`
	Code     string       `gorm:"type:text;not null;uniqueIndex:ux_accounts_tenant_key,priority:5" json:"code"`
	Name     string       `gorm:"type:text;not null" json:"name"`

	NormalSide NormalSide `gorm:"type:text;not null" json:"normal_side"`
	Active     bool       `gorm:"not null;default:true" json:"active"`

	// Seq is the optimistic per-account posting sequence. Every committed
	// posting touching this account advances it by exactly one.
	Seq int64 `gorm:"not null;default:0" json:"seq"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// Posting is the immutable header of a balanced journal entry. Rows are
// append-only; corrections are new reversing postings.
type Posting struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID `gorm:"not null;index;uniqueIndex:ux_postings_tenant_idem,priority:1" json:"tenant_id"`
	Book           string       `gorm:"type:text;not null;index" json:"book"`
	Entity         string       `gorm:"type:text;not null" json:"entity"`
	Currency       string       `gorm:"type:text;not null" json:"currency"`
	EffectiveDate  time.Time    `gorm:"not null;index" json:"effective_date"`
	IdempotencyKey string       `gorm:"type:text;not null;uniqueIndex:ux_postings_tenant_idem,priority:2" json:"idempotency_key"`
	Narrative      string       `gorm:"type:text" json:"narrative"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`

	Lines []PostingLine `gorm:"-" json:"lines,omitempty"`
}

// TableName sets the database table name.
func (Posting) TableName() string { return "postings" }

// PostingLine is one leg of a posting. Amounts are non-negative minor
// units; the direction carries the sign.
type PostingLine struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	PostingID snowflake.ID   `gorm:"not null;index" json:"posting_id"`
	AccountID snowflake.ID   `gorm:"not null;index" json:"account_id"`
	Direction EntryDirection `gorm:"type:text;not null" json:"direction"`
	Amount    int64          `gorm:"not null" json:"amount"`
	Narrative string         `gorm:"type:text" json:"narrative"`

	// AccountSeq orders this line within its account's append-only log.
	AccountSeq int64 `gorm:"not null" json:"account_seq"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (PostingLine) TableName() string { return "posting_lines" }

// Signed returns the line amount with debit positive and credit negative.
func (l PostingLine) Signed() int64 {
	if l.Direction == EntryDirectionCredit {
		return -l.Amount
	}
	return l.Amount
}
