package storage

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/crowmane/mnemo/pkg/types"
)

// Reformulator derives the four textual facets of a piece of content before
// embedding. Implemented by the reform package.
type Reformulator interface {
	ForStorage(ctx context.Context, content, contextText, metadata string) (*types.Reformulation, error)
}

// Embedder generates a vector embedding for a piece of text.
// Implemented by the llm package clients.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingStore decorates a MemoryStore so that the write path fills the
// four facet vectors before the memorygram is persisted. Memorygrams that
// already carry embeddings pass through untouched, which lets callers re-link
// chain pointers without re-embedding.
type EmbeddingStore struct {
	MemoryStore

	reform    Reformulator
	embedder  Embedder
	dimension int
}

// NewEmbeddingStore wraps inner with facet embedding on Upsert. The dimension
// is used to produce explicit zero vectors for empty facets, preserving the
// fixed four-vector record shape.
func NewEmbeddingStore(inner MemoryStore, reform Reformulator, embedder Embedder, dimension int) *EmbeddingStore {
	return &EmbeddingStore{
		MemoryStore: inner,
		reform:      reform,
		embedder:    embedder,
		dimension:   dimension,
	}
}

// Upsert reformulates the memorygram content into four facets, embeds each
// facet independently and delegates to the inner store. Embedding failures are
// not fatal to the write: the memorygram is stored without vectors so the turn
// can still complete, and the failure is logged.
func (s *EmbeddingStore) Upsert(ctx context.Context, m *types.Memorygram) (*types.Memorygram, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: memorygram is required", types.ErrInvalidInput)
	}

	if m.Embeddings.IsZero() && strings.TrimSpace(m.Content) != "" {
		if err := s.embedFacets(ctx, m); err != nil {
			log.Printf("EmbeddingStore: facet embedding failed for %s: %v", m.ID, err)
		}
	}

	return s.MemoryStore.Upsert(ctx, m)
}

func (s *EmbeddingStore) embedFacets(ctx context.Context, m *types.Memorygram) error {
	ref, err := s.reform.ForStorage(ctx, m.Content, m.ChatID, string(m.Type))
	if err != nil {
		return fmt.Errorf("reformulate: %w", err)
	}

	facets := ref.Facets()
	vectors := make([][]float32, len(facets))
	for i, text := range facets {
		if strings.TrimSpace(text) == "" {
			// Empty facet still gets a defined zero vector.
			vectors[i] = make([]float32, s.dimension)
			continue
		}
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embed facet %d: %w", i, err)
		}
		vectors[i] = vec
	}

	m.Embeddings = types.FacetEmbeddings{
		Topical:  vectors[0],
		Content:  vectors[1],
		Context:  vectors[2],
		Metadata: vectors[3],
	}
	return nil
}
