package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// WorkspaceKind classifies the reconciliation source pair.
type WorkspaceKind string

const (
	KindCustomer   WorkspaceKind = "customer"
	KindSupplier   WorkspaceKind = "supplier"
	KindSalesOrder WorkspaceKind = "sales_order"
	KindBookToBook WorkspaceKind = "book_to_book"
	KindBank       WorkspaceKind = "bank"
)

// WorkspaceStatus is the workflow state. certified and rejected are
// terminal; rejected workspaces are reopened as a new version in open.
type WorkspaceStatus string

const (
	StatusOpen      WorkspaceStatus = "open"
	StatusChecked   WorkspaceStatus = "checked"
	StatusPrepared  WorkspaceStatus = "prepared"
	StatusReviewed  WorkspaceStatus = "reviewed"
	StatusCertified WorkspaceStatus = "certified"
	StatusRejected  WorkspaceStatus = "rejected"
)

// Workspace is one version row of a reconciliation workspace. History is
// kept SCD2-style: every transition closes the current row (valid_to set)
// and appends a successor; the current version is the row with a NULL
// valid_to.
type Workspace struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"-"`
	TenantID    snowflake.ID `gorm:"not null;index:ix_workspaces_tenant_wid" json:"tenant_id"`
	WorkspaceID string       `gorm:"type:text;not null;index:ix_workspaces_tenant_wid" json:"workspace_id"`

	Version   int        `gorm:"not null" json:"version"`
	ValidFrom time.Time  `gorm:"not null" json:"valid_from"`
	ValidTo   *time.Time `gorm:"index" json:"valid_to,omitempty"`

	Kind        WorkspaceKind `gorm:"type:text;not null" json:"kind"`
	LegalEntity string        `gorm:"type:text;not null" json:"legal_entity"`
	Currency    string        `gorm:"type:text;not null" json:"currency"`
	AsOfDate    time.Time     `gorm:"not null" json:"as_of_date"`

	FromBook         string       `gorm:"type:text" json:"from_book,omitempty"`
	ToBook           string       `gorm:"type:text" json:"to_book,omitempty"`
	CounterpartyID   string       `gorm:"type:text" json:"counterparty_id,omitempty"`
	ControlAccountID snowflake.ID `gorm:"index" json:"control_account_id,omitempty"`

	Status         WorkspaceStatus `gorm:"type:text;not null" json:"status"`
	ControlBalance int64           `gorm:"not null;default:0" json:"control_balance"`
	SubledgerSum   int64           `gorm:"not null;default:0" json:"subledger_sum"`
	Residual       int64           `gorm:"not null;default:0" json:"residual"`

	PreparedBy  string     `gorm:"type:text" json:"prepared_by,omitempty"`
	PreparedAt  *time.Time `json:"prepared_at,omitempty"`
	ReviewedBy  string     `gorm:"type:text" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	CertifiedBy string     `gorm:"type:text" json:"certified_by,omitempty"`
	CertifiedAt *time.Time `json:"certified_at,omitempty"`

	RejectReason string `gorm:"type:text" json:"reject_reason,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Workspace) TableName() string { return "recon_workspaces" }

// ItemSource marks which side of the reconciliation an item came from.
type ItemSource string

const (
	ItemSourceControl   ItemSource = "control"
	ItemSourceSubledger ItemSource = "subledger"
)

// WorkspaceItem is one candidate line on either side of the
// reconciliation. Check() rebuilds the unlocked item set from scratch;
// prepare() locks the unmatched set it signs off on.
type WorkspaceItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID    snowflake.ID `gorm:"not null;index:ix_recon_items_tenant_wid" json:"-"`
	WorkspaceID string       `gorm:"type:text;not null;index:ix_recon_items_tenant_wid" json:"-"`

	Source      ItemSource `gorm:"type:text;not null" json:"source"`
	ExternalRef string     `gorm:"type:text;not null" json:"external_ref"`
	Amount      int64      `gorm:"not null" json:"amount"`
	ItemDate    time.Time  `gorm:"not null" json:"item_date"`
	Narrative   string     `gorm:"type:text" json:"narrative,omitempty"`

	Matched    bool         `gorm:"not null;default:false" json:"matched"`
	MatchGroup snowflake.ID `gorm:"index" json:"match_group,omitempty"`
	Fuzzy      bool         `gorm:"not null;default:false" json:"fuzzy,omitempty"`
	Locked     bool         `gorm:"not null;default:false" json:"locked"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (WorkspaceItem) TableName() string { return "recon_workspace_items" }

// AttachmentKindExplanation is the attachment kind that certifies a
// non-zero residual.
const AttachmentKindExplanation = "explanation"

// Attachment is an immutable supporting document reference.
type Attachment struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"-"`
	TenantID     snowflake.ID `gorm:"not null;index:ix_recon_attach_tenant_wid" json:"-"`
	WorkspaceID  string       `gorm:"type:text;not null;index:ix_recon_attach_tenant_wid" json:"-"`
	AttachmentID string       `gorm:"type:text;not null" json:"attachment_id"`

	URI      string            `gorm:"type:text;not null" json:"uri"`
	Kind     string            `gorm:"type:text;not null" json:"kind"`
	Note     string            `gorm:"type:text" json:"note,omitempty"`
	Metadata datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Attachment) TableName() string { return "recon_attachments" }
