// Package storage defines the memory graph storage contract for Mnemo.
//
// The storage layer is a small, focused interface that can be implemented by
// different backends (SQLite for local use, Postgres with pgvector for
// deployments). The graph shapes are deliberately narrow: memorygram nodes,
// weighted directed associations, similarity search and chat-chain traversal —
// this is not a general graph database.
package storage

import (
	"context"

	"github.com/crowmane/mnemo/pkg/types"
)

// MemoryStore provides persistence and retrieval for the memory graph.
type MemoryStore interface {
	// Upsert creates or updates a memorygram. If a memorygram with the same
	// ID exists it is updated (CreatedAt is preserved); otherwise a new one
	// is created. The stored memorygram is returned with timestamps filled.
	Upsert(ctx context.Context, m *types.Memorygram) (*types.Memorygram, error)

	// UpsertAssociation creates or updates the directed edge
	// (fromID, toID, relType). At most one active edge exists per triple;
	// repeated calls update the weight (last write wins) instead of
	// duplicating the edge. Returns ErrNotFound if either endpoint does not
	// exist.
	UpsertAssociation(ctx context.Context, fromID, toID, relType string, weight float64) (*types.Association, error)

	// Get retrieves a memorygram by ID.
	// Returns ErrNotFound if the memorygram doesn't exist.
	Get(ctx context.Context, id string) (*types.Memorygram, error)

	// FindSimilar returns up to topK memorygrams ranked by descending
	// similarity to the query vector. A memorygram's score is the best
	// similarity across its four facet vectors. Ties are broken by the most
	// recent UpdatedAt.
	FindSimilar(ctx context.Context, vector []float32, topK int) ([]ScoredMemorygram, error)

	// GetByChatID returns the chat's memorygrams ordered by the
	// previous/next chain, so results are correctly ordered even when writes
	// arrived out of order. The chat's Experience node is not part of the
	// chain and is excluded.
	GetByChatID(ctx context.Context, chatID string) ([]*types.Memorygram, error)

	// Close releases any resources held by the store.
	Close() error
}
