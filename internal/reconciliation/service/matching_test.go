package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/glcore/internal/reconciliation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGroupGen(t *testing.T) func() snowflake.ID {
	t.Helper()
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	return node.Generate
}

func item(amount int64, day int, ref string) domain.WorkspaceItem {
	return domain.WorkspaceItem{
		Amount:      amount,
		ItemDate:    time.Date(2025, time.January, day, 0, 0, 0, 0, time.UTC),
		ExternalRef: ref,
	}
}

func TestMatchExactPairsByAmountAndDate(t *testing.T) {
	control := []domain.WorkspaceItem{item(1000, 5, "c1"), item(2500, 7, "c2")}
	sub := []domain.WorkspaceItem{item(2500, 7, "s2"), item(1000, 5, "s1")}

	matchItems(control, sub, MatchTolerance{}, newGroupGen(t))

	for i := range control {
		assert.True(t, control[i].Matched, "control %d", i)
		assert.False(t, control[i].Fuzzy)
	}
	for i := range sub {
		assert.True(t, sub[i].Matched, "sub %d", i)
	}
}

func TestMatchPairsShareGroup(t *testing.T) {
	control := []domain.WorkspaceItem{item(1000, 5, "c1")}
	sub := []domain.WorkspaceItem{item(1000, 5, "s1")}

	matchItems(control, sub, MatchTolerance{}, newGroupGen(t))

	require.True(t, control[0].Matched)
	require.True(t, sub[0].Matched)
	assert.Equal(t, control[0].MatchGroup, sub[0].MatchGroup)
}

func TestMatchWithoutToleranceLeavesNearMissesUnmatched(t *testing.T) {
	control := []domain.WorkspaceItem{item(1000, 5, "c1")}
	sub := []domain.WorkspaceItem{item(995, 5, "s1")}

	matchItems(control, sub, MatchTolerance{}, newGroupGen(t))

	assert.False(t, control[0].Matched)
	assert.False(t, sub[0].Matched)
}

func TestMatchFuzzyWithinToleranceWindows(t *testing.T) {
	control := []domain.WorkspaceItem{item(1000, 5, "c1"), item(700, 20, "c2")}
	sub := []domain.WorkspaceItem{item(995, 7, "s1"), item(700, 2, "s2")}

	matchItems(control, sub, MatchTolerance{AmountMinor: 10, DateDays: 3}, newGroupGen(t))

	// 1000 vs 995 two days apart is inside both windows.
	assert.True(t, control[0].Matched)
	assert.True(t, control[0].Fuzzy)
	assert.True(t, sub[0].Matched)

	// Same amount but 18 days apart stays unmatched.
	assert.False(t, control[1].Matched)
	assert.False(t, sub[1].Matched)
}

func TestMatchIsDeterministicAcrossInputOrder(t *testing.T) {
	build := func(reversed bool) ([]domain.WorkspaceItem, []domain.WorkspaceItem) {
		control := []domain.WorkspaceItem{item(100, 1, "c1"), item(200, 2, "c2"), item(300, 3, "c3")}
		sub := []domain.WorkspaceItem{item(100, 1, "s1"), item(300, 3, "s3")}
		if reversed {
			for i, j := 0, len(control)-1; i < j; i, j = i+1, j-1 {
				control[i], control[j] = control[j], control[i]
			}
			sub[0], sub[1] = sub[1], sub[0]
		}
		return control, sub
	}

	forward, forwardSub := build(false)
	matchItems(forward, forwardSub, MatchTolerance{}, newGroupGen(t))
	backward, backwardSub := build(true)
	matchItems(backward, backwardSub, MatchTolerance{}, newGroupGen(t))

	pick := func(items []domain.WorkspaceItem, ref string) domain.WorkspaceItem {
		for _, it := range items {
			if it.ExternalRef == ref {
				return it
			}
		}
		t.Fatalf("missing item %s", ref)
		return domain.WorkspaceItem{}
	}

	for _, ref := range []string{"c1", "c2", "c3"} {
		assert.Equal(t, pick(forward, ref).Matched, pick(backward, ref).Matched, ref)
	}
	assert.False(t, pick(forward, "c2").Matched)
}
