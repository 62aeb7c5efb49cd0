package storage

import (
	"testing"
	"time"

	"github.com/crowmane/mnemo/pkg/types"
)

func TestSortScoredTieBreaksByRecency(t *testing.T) {
	older := &types.Memorygram{ID: "gram:old", UpdatedAt: time.Now().Add(-time.Hour)}
	newer := &types.Memorygram{ID: "gram:new", UpdatedAt: time.Now()}

	results := []ScoredMemorygram{
		{Memorygram: older, Score: 0.5},
		{Memorygram: newer, Score: 0.5},
		{Memorygram: &types.Memorygram{ID: "gram:best"}, Score: 0.9},
	}
	SortScored(results)

	if results[0].Memorygram.ID != "gram:best" {
		t.Errorf("highest score first: got %s", results[0].Memorygram.ID)
	}
	if results[1].Memorygram.ID != "gram:new" {
		t.Errorf("equal scores should favour most recent UpdatedAt: got %s", results[1].Memorygram.ID)
	}
}

func TestChainOrderWalksLinks(t *testing.T) {
	grams := []*types.Memorygram{
		{ID: "c", PreviousID: "b", Sequence: 3},
		{ID: "a", NextID: "b", Sequence: 1},
		{ID: "b", PreviousID: "a", NextID: "c", Sequence: 2},
	}

	ordered := ChainOrder(grams)
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if ordered[i].ID != id {
			t.Errorf("ordered[%d] = %s, want %s", i, ordered[i].ID, id)
		}
	}
}

func TestChainOrderBrokenChainFallsBackToSequence(t *testing.T) {
	// "d" is not linked into the chain yet (in-flight write).
	grams := []*types.Memorygram{
		{ID: "b", PreviousID: "a", Sequence: 2},
		{ID: "d", PreviousID: "c", Sequence: 4},
		{ID: "a", NextID: "b", Sequence: 1},
	}

	ordered := ChainOrder(grams)
	want := []string{"a", "b", "d"}
	if len(ordered) != len(want) {
		t.Fatalf("length: got %d, want %d", len(ordered), len(want))
	}
	for i, id := range want {
		if ordered[i].ID != id {
			t.Errorf("ordered[%d] = %s, want %s", i, ordered[i].ID, id)
		}
	}
}
