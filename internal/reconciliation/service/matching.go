package service

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/glcore/internal/reconciliation/domain"
)

// MatchTolerance is the configured fuzzy-matching window. Zero values mean
// exact-only matching.
type MatchTolerance struct {
	AmountMinor int64
	DateDays    int
}

// matchItems partitions both item sets into matched pairs and unmatched
// remainders. The algorithm is deterministic for a given input: both sides
// are sorted by (amount, date, ref), an exact pass pairs identical
// amount+date first, then a fuzzy pass pairs items within the tolerance
// window. Items are mutated in place (Matched, MatchGroup, Fuzzy).
func matchItems(control, sub []domain.WorkspaceItem, tol MatchTolerance, newGroup func() snowflake.ID) {
	sortItems(control)
	sortItems(sub)

	// Exact pass: same amount, same calendar day.
	for i := range control {
		if control[i].Matched {
			continue
		}
		for j := range sub {
			if sub[j].Matched {
				continue
			}
			if control[i].Amount == sub[j].Amount && sameDay(control[i].ItemDate, sub[j].ItemDate) {
				group := newGroup()
				control[i].Matched, control[i].MatchGroup = true, group
				sub[j].Matched, sub[j].MatchGroup = true, group
				break
			}
		}
	}

	if tol.AmountMinor == 0 && tol.DateDays == 0 {
		return
	}

	// Fuzzy pass: within the configured amount and date windows.
	for i := range control {
		if control[i].Matched {
			continue
		}
		for j := range sub {
			if sub[j].Matched {
				continue
			}
			if withinTolerance(control[i], sub[j], tol) {
				group := newGroup()
				control[i].Matched, control[i].MatchGroup, control[i].Fuzzy = true, group, true
				sub[j].Matched, sub[j].MatchGroup, sub[j].Fuzzy = true, group, true
				break
			}
		}
	}
}

func sortItems(items []domain.WorkspaceItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Amount != items[j].Amount {
			return items[i].Amount < items[j].Amount
		}
		if !items[i].ItemDate.Equal(items[j].ItemDate) {
			return items[i].ItemDate.Before(items[j].ItemDate)
		}
		return items[i].ExternalRef < items[j].ExternalRef
	})
}

func withinTolerance(a, b domain.WorkspaceItem, tol MatchTolerance) bool {
	diff := a.Amount - b.Amount
	if diff < 0 {
		diff = -diff
	}
	if diff > tol.AmountMinor {
		return false
	}

	days := a.ItemDate.Sub(b.ItemDate).Hours() / 24
	if days < 0 {
		days = -days
	}
	return int(days) <= tol.DateDays
}

func sameDay(a, b time.Time) bool {
	return a.UTC().Format("2006-01-02") == b.UTC().Format("2006-01-02")
}
