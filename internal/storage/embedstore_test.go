package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowmane/mnemo/pkg/types"
)

type captureStore struct {
	MemoryStore
	last *types.Memorygram
}

func (c *captureStore) Upsert(_ context.Context, m *types.Memorygram) (*types.Memorygram, error) {
	c.last = m
	return m, nil
}

type stubReformulator struct {
	ref types.Reformulation
}

func (s *stubReformulator) ForStorage(_ context.Context, content, _, _ string) (*types.Reformulation, error) {
	ref := s.ref
	if ref.Content == "" {
		ref.Content = content
	}
	return &ref, nil
}

type stubEmbedder struct {
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	return []float32{float32(len(text)), 1, 0}, nil
}

func TestEmbeddingStoreFillsFacetVectors(t *testing.T) {
	inner := &captureStore{}
	embedder := &stubEmbedder{}
	store := NewEmbeddingStore(inner, &stubReformulator{
		ref: types.Reformulation{Topical: "coffee", Context: "morning chat"},
	}, embedder, 3)

	_, err := store.Upsert(context.Background(), &types.Memorygram{
		ID:      "gram:1",
		Content: "I like dark roast",
		Type:    types.TypeMemory,
	})
	require.NoError(t, err)
	require.NotNil(t, inner.last)

	vecs := inner.last.Embeddings.Vectors()
	for i, v := range vecs {
		assert.Len(t, v, 3, "facet %d should have the configured dimension", i)
	}

	// Metadata facet was empty: explicit zero vector, not omitted.
	assert.Equal(t, []float32{0, 0, 0}, inner.last.Embeddings.Metadata)
	// Three non-empty facets embedded, one zero-filled.
	assert.Equal(t, 3, embedder.calls)
}

func TestEmbeddingStoreSkipsAlreadyEmbedded(t *testing.T) {
	inner := &captureStore{}
	embedder := &stubEmbedder{}
	store := NewEmbeddingStore(inner, &stubReformulator{}, embedder, 3)

	m := &types.Memorygram{
		ID:         "gram:2",
		Content:    "already embedded",
		Type:       types.TypeMemory,
		Embeddings: types.FacetEmbeddings{Content: []float32{1, 2, 3}},
	}
	_, err := store.Upsert(context.Background(), m)
	require.NoError(t, err)
	assert.Zero(t, embedder.calls, "re-upserting an embedded memorygram should not re-embed")
}
