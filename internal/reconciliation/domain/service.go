package domain

import (
	"context"
	"errors"
	"time"
)

type CreateWorkspaceRequest struct {
	WorkspaceID      string
	Kind             WorkspaceKind
	LegalEntity      string
	Currency         string
	AsOfDate         time.Time
	FromBook         string
	ToBook           string
	CounterpartyID   string
	ControlAccountID int64
}

// CheckResult reports the recomputed balances and item partition.
type CheckResult struct {
	ControlBalance int64           `json:"control_balance"`
	SubledgerSum   int64           `json:"subledger_sum"`
	Residual       int64           `json:"residual"`
	MatchedItems   []WorkspaceItem `json:"matched_items"`
	UnmatchedItems []WorkspaceItem `json:"unmatched_items"`
}

type AttachRequest struct {
	WorkspaceID  string
	AttachmentID string
	URI          string
	Kind         string
	Note         string
}

type ListWorkspacesRequest struct {
	Kind      WorkspaceKind
	Status    WorkspaceStatus
	PageToken string
	PageSize  int32
}

type Service interface {
	Create(ctx context.Context, req CreateWorkspaceRequest) (Workspace, error)
	Get(ctx context.Context, workspaceID string) (Workspace, error)
	List(ctx context.Context, req ListWorkspacesRequest) ([]Workspace, error)
	History(ctx context.Context, workspaceID string) ([]Workspace, error)

	Check(ctx context.Context, workspaceID string) (CheckResult, error)
	Prepare(ctx context.Context, workspaceID, actor string) (Workspace, error)
	Review(ctx context.Context, workspaceID, actor string) (Workspace, error)
	Certify(ctx context.Context, workspaceID, actor string) (Workspace, error)
	Reject(ctx context.Context, workspaceID, actor, reason string) (Workspace, error)
	Attach(ctx context.Context, req AttachRequest) (Attachment, error)
}

var (
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrInvalidWorkspaceID  = errors.New("invalid_workspace_id")
	ErrInvalidKind         = errors.New("invalid_kind")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidAsOfDate     = errors.New("invalid_as_of_date")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidAttachment   = errors.New("invalid_attachment")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrWorkspaceExists     = errors.New("workspace_exists")
	ErrWorkspaceNotFound   = errors.New("workspace_not_found")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrSegregationOfDuties = errors.New("segregation_of_duties_violation")
	ErrUncertifiedResidual = errors.New("uncertified_residual")
	ErrWorkspaceFrozen     = errors.New("workspace_frozen")
	ErrFeedUnavailable     = errors.New("subledger_feed_unavailable")
)

// TransitionError wraps ErrInvalidTransition with enough context for the
// caller to self-correct.
type TransitionError struct {
	Current   WorkspaceStatus
	Requested string
}

func (e *TransitionError) Error() string {
	return "invalid_transition: cannot " + e.Requested + " from " + string(e.Current)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// SoDError wraps ErrSegregationOfDuties with the recorded actor log so the
// caller can resubmit with a different identity.
type SoDError struct {
	Reason      string
	PreparedBy  string
	ReviewedBy  string
	CertifiedBy string
}

func (e *SoDError) Error() string {
	return "segregation_of_duties_violation: " + e.Reason
}

func (e *SoDError) Unwrap() error { return ErrSegregationOfDuties }
