package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubledgerItem is one counterparty-side line reported by the feed.
type SubledgerItem struct {
	ExternalRef string
	Amount      int64
	ItemDate    time.Time
	Narrative   string
}

// FeedRef identifies which subledger slice a workspace reconciles against.
type FeedRef struct {
	TenantID       snowflake.ID
	Kind           WorkspaceKind
	CounterpartyID string
	ToBook         string
	Currency       string
	AsOf           time.Time
}

// SubledgerFeed is the injected read-only collaborator that supplies the
// counterparty-side items. Implementations must honor the context
// deadline; a failure degrades Check to an error and leaves the workspace
// untouched.
type SubledgerFeed interface {
	Items(ctx context.Context, ref FeedRef) ([]SubledgerItem, error)
}
