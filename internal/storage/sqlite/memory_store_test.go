package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crowmane/mnemo/internal/storage"
	"github.com/crowmane/mnemo/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing.
func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func storeGram(t *testing.T, store *MemoryStore, m *types.Memorygram) *types.Memorygram {
	t.Helper()
	got, err := store.Upsert(context.Background(), m)
	if err != nil {
		t.Fatalf("Upsert(%s) failed: %v", m.ID, err)
	}
	return got
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := &types.Memorygram{
		ID:      "gram:round-trip",
		Content: "the user prefers dark roast coffee",
		Type:    types.TypeMemory,
		Source:  "chat",
		Embeddings: types.FacetEmbeddings{
			Topical:  []float32{0.1, 0.2, 0.3},
			Content:  []float32{0.4, 0.5, 0.6},
			Context:  []float32{0, 0, 0},
			Metadata: []float32{0.7, 0.8, 0.9},
		},
	}
	storeGram(t, store, m)

	got, err := store.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Content != m.Content {
		t.Errorf("Content: got %q, want %q", got.Content, m.Content)
	}
	if got.Type != types.TypeMemory {
		t.Errorf("Type: got %q, want %q", got.Type, types.TypeMemory)
	}
	if len(got.Embeddings.Content) != 3 || got.Embeddings.Content[1] != 0.5 {
		t.Errorf("Content facet vector did not round-trip: %v", got.Embeddings.Content)
	}
	if len(got.Embeddings.Context) != 3 {
		t.Errorf("zero Context facet should round-trip with fixed shape, got %v", got.Embeddings.Context)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be assigned on first store")
	}
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "gram:missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := storeGram(t, store, &types.Memorygram{ID: "gram:keep", Content: "v1", Type: types.TypeMemory})
	created := m.CreatedAt

	time.Sleep(10 * time.Millisecond)
	m.Content = "v2"
	storeGram(t, store, m)

	got, err := store.Get(ctx, "gram:keep")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Content != "v2" {
		t.Errorf("Content: got %q, want %q", got.Content, "v2")
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed on update: got %v, want %v", got.CreatedAt, created)
	}
}

// TestAssociationIdempotency verifies that calling UpsertAssociation twice with
// different weights leaves exactly one active edge whose weight equals the
// last call's value.
func TestAssociationIdempotency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	storeGram(t, store, &types.Memorygram{ID: "gram:a", Content: "a", Type: types.TypeMemory})
	storeGram(t, store, &types.Memorygram{ID: "gram:b", Content: "b", Type: types.TypeMemory})

	first, err := store.UpsertAssociation(ctx, "gram:a", "gram:b", types.AssociationRelatesTo, 0.3)
	if err != nil {
		t.Fatalf("first UpsertAssociation failed: %v", err)
	}

	second, err := store.UpsertAssociation(ctx, "gram:a", "gram:b", types.AssociationRelatesTo, 0.9)
	if err != nil {
		t.Fatalf("second UpsertAssociation failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("edge was duplicated: ids %q and %q", first.ID, second.ID)
	}
	if second.Weight != 0.9 {
		t.Errorf("Weight: got %v, want 0.9 (last write wins)", second.Weight)
	}
	if !second.Active {
		t.Error("edge should be active")
	}

	var count int
	row := store.db.QueryRow(`SELECT COUNT(*) FROM associations WHERE from_id = ? AND to_id = ?`, "gram:a", "gram:b")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("association count: got %d, want 1", count)
	}
}

func TestAssociationUnknownEndpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	storeGram(t, store, &types.Memorygram{ID: "gram:known", Content: "x", Type: types.TypeMemory})

	_, err := store.UpsertAssociation(ctx, "gram:known", "gram:ghost", types.AssociationRelatesTo, 0.5)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("association to unknown target: error = %v, want ErrNotFound", err)
	}
}

// TestFindSimilarOrdering verifies that FindSimilar returns at most topK
// entries, sorted by non-increasing similarity score.
func TestFindSimilarOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Three memories at decreasing similarity to the query direction.
	vecs := map[string][]float32{
		"gram:close":  {1, 0, 0},
		"gram:medium": {0.7, 0.7, 0},
		"gram:far":    {0, 1, 0},
	}
	for id, v := range vecs {
		storeGram(t, store, &types.Memorygram{
			ID: id, Content: id, Type: types.TypeMemory,
			Embeddings: types.FacetEmbeddings{Content: v},
		})
	}

	results, err := store.FindSimilar(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("result count: got %d, want 2 (topK truncation)", len(results))
	}
	if results[0].Memorygram.ID != "gram:close" {
		t.Errorf("best match: got %s, want gram:close", results[0].Memorygram.ID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores not non-increasing: %v then %v", results[0].Score, results[1].Score)
	}
}

// TestFindSimilarBestFacetWins verifies that a memorygram is scored by its
// best-matching facet, not only the content facet.
func TestFindSimilarBestFacetWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	storeGram(t, store, &types.Memorygram{
		ID: "gram:faceted", Content: "faceted", Type: types.TypeMemory,
		Embeddings: types.FacetEmbeddings{
			Content: []float32{0, 1, 0},
			Topical: []float32{1, 0, 0},
		},
	})

	results, err := store.FindSimilar(ctx, []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("result count: got %d, want 1", len(results))
	}
	if results[0].Score < 0.99 {
		t.Errorf("score should come from the topical facet: got %v", results[0].Score)
	}
}

// TestGetByChatIDChainOrder verifies that chat history is ordered by the
// previous/next chain regardless of write arrival order.
func TestGetByChatIDChainOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Write the chain out of order: third, first, second.
	grams := []*types.Memorygram{
		{ID: "gram:t3", Content: "third", Type: types.TypeAssistantResponse, Subtype: types.SubtypeChat,
			ChatID: "chat-1", PreviousID: "gram:t2", Sequence: 3, Timestamp: 3},
		{ID: "gram:t1", Content: "first", Type: types.TypeUserInput, Subtype: types.SubtypeChat,
			ChatID: "chat-1", NextID: "gram:t2", Sequence: 1, Timestamp: 1},
		{ID: "gram:t2", Content: "second", Type: types.TypeAssistantResponse, Subtype: types.SubtypeChat,
			ChatID: "chat-1", PreviousID: "gram:t1", NextID: "gram:t3", Sequence: 2, Timestamp: 2},
	}
	for _, g := range grams {
		storeGram(t, store, g)
	}

	// The Experience node shares the chat id but is not part of the chain.
	storeGram(t, store, &types.Memorygram{
		ID: "exp:chat-1", Content: "New conversation started with: hi",
		Type: types.TypeExperience, ChatID: "chat-1",
	})

	history, err := store.GetByChatID(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetByChatID failed: %v", err)
	}

	want := []string{"gram:t1", "gram:t2", "gram:t3"}
	if len(history) != len(want) {
		t.Fatalf("history length: got %d, want %d", len(history), len(want))
	}
	for i, id := range want {
		if history[i].ID != id {
			t.Errorf("history[%d]: got %s, want %s", i, history[i].ID, id)
		}
	}
}

func TestGetByChatIDEmptyChat(t *testing.T) {
	store := newTestStore(t)

	history, err := store.GetByChatID(context.Background(), "chat-empty")
	if err != nil {
		t.Fatalf("GetByChatID failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history for unknown chat: got %d entries, want 0", len(history))
	}
}
