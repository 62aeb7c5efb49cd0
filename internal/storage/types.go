package storage

import (
	"errors"
	"sort"

	"github.com/crowmane/mnemo/pkg/types"
)

var (
	// ErrNotFound indicates that the requested memorygram or association
	// endpoint was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrPersistence indicates a store-level I/O failure.
	ErrPersistence = errors.New("persistence failure")
)

// ScoredMemorygram pairs a memorygram with its similarity score for one query.
type ScoredMemorygram struct {
	Memorygram *types.Memorygram
	Score      float64
}

// SortScored orders results by descending score, breaking ties by the most
// recent UpdatedAt. Backends share this so ranking semantics stay identical.
func SortScored(results []ScoredMemorygram) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memorygram.UpdatedAt.After(results[j].Memorygram.UpdatedAt)
	})
}

// ChainOrder orders a chat's memorygrams by walking the previous/next chain.
// The head is the memorygram whose PreviousID is empty or points outside the
// set. Memorygrams not reachable from the head (a chain broken by in-flight
// writes) are appended in Sequence then Timestamp order so callers always get
// every row back. Shared by backends so traversal semantics stay identical.
func ChainOrder(grams []*types.Memorygram) []*types.Memorygram {
	if len(grams) <= 1 {
		return grams
	}

	byID := make(map[string]*types.Memorygram, len(grams))
	for _, g := range grams {
		byID[g.ID] = g
	}

	var head *types.Memorygram
	for _, g := range grams {
		if g.PreviousID == "" || byID[g.PreviousID] == nil {
			if head == nil || g.Sequence < head.Sequence {
				head = g
			}
		}
	}

	ordered := make([]*types.Memorygram, 0, len(grams))
	visited := make(map[string]bool, len(grams))
	for cur := head; cur != nil && !visited[cur.ID]; cur = byID[cur.NextID] {
		visited[cur.ID] = true
		ordered = append(ordered, cur)
	}

	// Collect stragglers outside the chain, ordered by sequence/timestamp.
	var rest []*types.Memorygram
	for _, g := range grams {
		if !visited[g.ID] {
			rest = append(rest, g)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].Sequence != rest[j].Sequence {
			return rest[i].Sequence < rest[j].Sequence
		}
		return rest[i].Timestamp < rest[j].Timestamp
	})
	return append(ordered, rest...)
}
