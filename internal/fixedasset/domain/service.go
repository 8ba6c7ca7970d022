package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type UpsertAssetRequest struct {
	AssetID       string
	Book          string
	Entity        string
	Currency      string
	Category      string
	ParentAssetID string

	CostMinor    int64
	SalvageMinor int64
	StartDate    time.Time
	LifeMonths   int
	Method       Method

	ExpenseAccountID snowflake.ID
	AccumAccountID   snowflake.ID
}

type UpsertGroupRequest struct {
	GroupID  string
	Book     string
	Entity   string
	Currency string

	StartDate  time.Time
	LifeMonths int
	Method     Method

	ExpenseAccountID snowflake.ID
	AccumAccountID   snowflake.ID
}

type UpsertARORequest struct {
	AroID   string
	AssetID string

	Book     string
	Entity   string
	Currency string

	PresentValueMinor int64
	DiscountRate      string
	StartDate         time.Time
	SettlementDate    time.Time

	LiabilityAccountID snowflake.ID
	AccretionAccountID snowflake.ID
}

// PeriodUnits supplies actual usage for units-based schedules, one entry
// per period in order from the asset's start date.
type PeriodUnits struct {
	PeriodKey string
	Units     int64
}

type BuildScheduleRequest struct {
	AssetID string
	// TotalUnits and Usage apply to MethodUnits only.
	TotalUnits int64
	Usage      []PeriodUnits
}

// PostPeriodResult reports the ledger posting backing one schedule line.
// Replayed is true when the line had already been posted; the stored
// posting id is returned and the ledger is untouched.
type PostPeriodResult struct {
	ScheduleID snowflake.ID `json:"schedule_id"`
	PeriodKey  string       `json:"period_key"`
	PostingID  snowflake.ID `json:"posting_id"`
	Replayed   bool         `json:"replayed"`
}

type ImpairmentRequest struct {
	AssetID          string
	TestDate         time.Time
	RecoverableMinor int64
	// ExpenseAccountID receives the impairment loss debit. When zero the
	// asset's depreciation expense account is used.
	ExpenseAccountID snowflake.ID
}

type ImpairmentResult struct {
	AssetID          string       `json:"asset_id"`
	CarryingMinor    int64        `json:"carrying_minor"`
	RecoverableMinor int64        `json:"recoverable_minor"`
	LossMinor        int64        `json:"loss_minor"`
	PostingID        snowflake.ID `json:"posting_id,omitempty"`
}

type Service interface {
	UpsertAsset(ctx context.Context, req UpsertAssetRequest) (Asset, error)
	GetAsset(ctx context.Context, assetID string) (Asset, error)
	ListAssets(ctx context.Context, book string) ([]Asset, error)
	AssetHistory(ctx context.Context, assetID string) ([]Asset, error)

	UpsertGroup(ctx context.Context, req UpsertGroupRequest) (AssetGroup, error)
	AddGroupMember(ctx context.Context, groupID, assetID string) error

	BuildSchedule(ctx context.Context, req BuildScheduleRequest) (Schedule, error)
	BuildGroupSchedule(ctx context.Context, groupID string) (Schedule, error)
	GetSchedule(ctx context.Context, id snowflake.ID) (Schedule, error)
	PostPeriod(ctx context.Context, scheduleID snowflake.ID, periodKey string) (PostPeriodResult, error)

	UpsertARO(ctx context.Context, req UpsertARORequest) (ARO, error)
	BuildAroAccretion(ctx context.Context, aroID string) (Schedule, error)
	PostAccretion(ctx context.Context, scheduleID snowflake.ID, periodKey string) (PostPeriodResult, error)

	PreviewImpairment(ctx context.Context, req ImpairmentRequest) (ImpairmentResult, error)
	PostImpairment(ctx context.Context, req ImpairmentRequest) (ImpairmentResult, error)
}

var (
	ErrInvalidAssetID      = errors.New("invalid_asset_id")
	ErrInvalidCost         = errors.New("invalid_cost")
	ErrInvalidSalvage      = errors.New("invalid_salvage")
	ErrInvalidLife         = errors.New("invalid_life")
	ErrInvalidMethod       = errors.New("invalid_method")
	ErrInvalidUsage        = errors.New("invalid_usage")
	ErrInvalidDiscountRate = errors.New("invalid_discount_rate")
	ErrInvalidRecoverable  = errors.New("invalid_recoverable")
	ErrMethodNotConfigured = errors.New("method_not_configured")

	ErrAssetNotFound    = errors.New("asset_not_found")
	ErrGroupNotFound    = errors.New("group_not_found")
	ErrGroupEmpty       = errors.New("group_empty")
	ErrAroNotFound      = errors.New("aro_not_found")
	ErrScheduleNotFound = errors.New("schedule_not_found")
	ErrPeriodNotFound   = errors.New("period_not_found")

	ErrScheduleInvalid     = errors.New("schedule_invalid")
	ErrScheduleSumMismatch = errors.New("schedule_sum_mismatch")
	ErrScheduleKindWrong   = errors.New("schedule_kind_wrong")
)
