package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Method selects how a schedule spreads cost over useful life.
type Method string

const (
	MethodStraightLine     Method = "straight_line"
	MethodDecliningBalance Method = "declining_balance"
	MethodUnits            Method = "units"
	MethodMACRS            Method = "macrs"
)

// Asset is one version row of a fixed asset. Like reconciliation
// workspaces, assets are versioned: upserts close the current row and
// append a successor; the current version has a NULL valid_to.
type Asset struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"-"`
	TenantID snowflake.ID `gorm:"not null;index:ix_assets_tenant_aid" json:"tenant_id"`
	AssetID  string       `gorm:"type:text;not null;index:ix_assets_tenant_aid" json:"asset_id"`

	Version   int        `gorm:"not null" json:"version"`
	ValidFrom time.Time  `gorm:"not null" json:"valid_from"`
	ValidTo   *time.Time `gorm:"index" json:"valid_to,omitempty"`

	Book     string `gorm:"type:text;not null" json:"book"`
	Entity   string `gorm:"type:text;not null" json:"entity"`
	Currency string `gorm:"type:text;not null" json:"currency"`
	Category string `gorm:"type:text" json:"category,omitempty"`

	// ParentAssetID scopes a component to its parent asset. Components
	// carry their own cost basis, life and method and depreciate
	// independently.
	ParentAssetID string `gorm:"type:text;index" json:"parent_asset_id,omitempty"`

	CostMinor    int64     `gorm:"not null" json:"cost_minor"`
	SalvageMinor int64     `gorm:"not null" json:"salvage_minor"`
	StartDate    time.Time `gorm:"not null" json:"start_date"`
	LifeMonths   int       `gorm:"not null" json:"life_months"`
	Method       Method    `gorm:"type:text;not null" json:"method"`

	// Accumulated impairment reduces carrying value and is never
	// reversed upward.
	ImpairedMinor int64 `gorm:"not null;default:0" json:"impaired_minor"`

	ExpenseAccountID snowflake.ID `gorm:"not null" json:"expense_account_id"`
	AccumAccountID   snowflake.ID `gorm:"not null" json:"accum_account_id"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Asset) TableName() string { return "fixed_assets" }

// AssetGroup pools multiple assets under one schedule and one posting.
type AssetGroup struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"-"`
	TenantID snowflake.ID `gorm:"not null;uniqueIndex:ux_asset_groups_tenant_gid,priority:1" json:"tenant_id"`
	GroupID  string       `gorm:"type:text;not null;uniqueIndex:ux_asset_groups_tenant_gid,priority:2" json:"group_id"`

	Book     string `gorm:"type:text;not null" json:"book"`
	Entity   string `gorm:"type:text;not null" json:"entity"`
	Currency string `gorm:"type:text;not null" json:"currency"`

	StartDate  time.Time `gorm:"not null" json:"start_date"`
	LifeMonths int       `gorm:"not null" json:"life_months"`
	Method     Method    `gorm:"type:text;not null" json:"method"`

	ExpenseAccountID snowflake.ID `gorm:"not null" json:"expense_account_id"`
	AccumAccountID   snowflake.ID `gorm:"not null" json:"accum_account_id"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (AssetGroup) TableName() string { return "asset_groups" }

// AssetGroupMember links an asset's cost basis into a group schedule.
type AssetGroupMember struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"-"`
	TenantID snowflake.ID `gorm:"not null;uniqueIndex:ux_group_members,priority:1" json:"-"`
	GroupID  string       `gorm:"type:text;not null;uniqueIndex:ux_group_members,priority:2" json:"group_id"`
	AssetID  string       `gorm:"type:text;not null;uniqueIndex:ux_group_members,priority:3" json:"asset_id"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (AssetGroupMember) TableName() string { return "asset_group_members" }

// ScheduleKind distinguishes depreciation from ARO accretion schedules.
type ScheduleKind string

const (
	ScheduleKindDepreciation ScheduleKind = "depreciation"
	ScheduleKindAccretion    ScheduleKind = "accretion"
)

// ScheduleStatus marks a schedule usable or poisoned. An invalid schedule
// is never patched; it must be rebuilt.
type ScheduleStatus string

const (
	ScheduleStatusActive  ScheduleStatus = "active"
	ScheduleStatusInvalid ScheduleStatus = "invalid"
)

// Schedule is the generated period-by-period plan for one asset, group or
// ARO. Exactly one of AssetID/GroupID/AroID is set.
type Schedule struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID snowflake.ID `gorm:"not null;index" json:"tenant_id"`

	Kind    ScheduleKind `gorm:"type:text;not null" json:"kind"`
	AssetID string       `gorm:"type:text;index" json:"asset_id,omitempty"`
	GroupID string       `gorm:"type:text;index" json:"group_id,omitempty"`
	AroID   string       `gorm:"type:text;index" json:"aro_id,omitempty"`

	Method       Method         `gorm:"type:text" json:"method,omitempty"`
	Status       ScheduleStatus `gorm:"type:text;not null" json:"status"`
	TotalMinor   int64          `gorm:"not null" json:"total_minor"`
	Book         string         `gorm:"type:text;not null" json:"book"`
	Entity       string         `gorm:"type:text;not null" json:"entity"`
	Currency     string         `gorm:"type:text;not null" json:"currency"`
	DebitAcctID  snowflake.ID   `gorm:"not null" json:"debit_account_id"`
	CreditAcctID snowflake.ID   `gorm:"not null" json:"credit_account_id"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`

	Lines []ScheduleLine `gorm:"-" json:"lines,omitempty"`
}

// TableName sets the database table name.
func (Schedule) TableName() string { return "depr_schedules" }

// ScheduleLine is one period's amount. A line transitions unposted to
// posted at most once; re-posting returns the stored posting id.
type ScheduleLine struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"-"`
	ScheduleID snowflake.ID `gorm:"not null;uniqueIndex:ux_sched_lines,priority:1" json:"-"`
	PeriodKey  string       `gorm:"type:text;not null;uniqueIndex:ux_sched_lines,priority:2" json:"period_key"`

	AmountMinor int64        `gorm:"not null" json:"amount_minor"`
	Posted      bool         `gorm:"not null;default:false" json:"posted"`
	PostingID   snowflake.ID `json:"posting_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (ScheduleLine) TableName() string { return "depr_schedule_lines" }

// ARO is an asset retirement obligation accreted monthly from present
// value toward its settlement amount.
type ARO struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"-"`
	TenantID snowflake.ID `gorm:"not null;uniqueIndex:ux_aros_tenant_aid,priority:1" json:"tenant_id"`
	AroID    string       `gorm:"type:text;not null;uniqueIndex:ux_aros_tenant_aid,priority:2" json:"aro_id"`
	AssetID  string       `gorm:"type:text;not null;index" json:"asset_id"`

	Book     string `gorm:"type:text;not null" json:"book"`
	Entity   string `gorm:"type:text;not null" json:"entity"`
	Currency string `gorm:"type:text;not null" json:"currency"`

	PresentValueMinor int64 `gorm:"not null" json:"present_value_minor"`
	// DiscountRate is the annual rate as a decimal string, e.g. "0.06".
	DiscountRate   string    `gorm:"type:text;not null" json:"discount_rate"`
	StartDate      time.Time `gorm:"not null" json:"start_date"`
	SettlementDate time.Time `gorm:"not null" json:"settlement_date"`

	LiabilityAccountID snowflake.ID `gorm:"not null" json:"liability_account_id"`
	AccretionAccountID snowflake.ID `gorm:"not null" json:"accretion_account_id"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ARO) TableName() string { return "asset_retirement_obligations" }

// ImpairmentTest is an append-only record of a write-down decision.
type ImpairmentTest struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"-"`
	TenantID snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	AssetID  string       `gorm:"type:text;not null;index" json:"asset_id"`

	TestDate         time.Time    `gorm:"not null" json:"test_date"`
	CarryingMinor    int64        `gorm:"not null" json:"carrying_minor"`
	RecoverableMinor int64        `gorm:"not null" json:"recoverable_minor"`
	LossMinor        int64        `gorm:"not null" json:"loss_minor"`
	PostingID        snowflake.ID `json:"posting_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ImpairmentTest) TableName() string { return "impairment_tests" }
