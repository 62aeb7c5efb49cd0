// Package memquery turns free text into vector queries against the memory
// store and serves chat-history traversal. It owns the embedding step so that
// callers (pipeline stages, the planner) never touch raw vectors.
package memquery

import (
	"context"
	"fmt"
	"log"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/crowmane/mnemo/internal/llm"
	"github.com/crowmane/mnemo/internal/reform"
	"github.com/crowmane/mnemo/internal/storage"
	"github.com/crowmane/mnemo/pkg/types"
)

// embeddingCacheSize bounds the text → vector cache. Repeated queries within
// a session (retrieval stage + planner sharing the same user text) hit the
// cache instead of the embedding provider.
const embeddingCacheSize = 512

// Result is one ranked retrieval hit.
type Result struct {
	Memorygram *types.Memorygram
	Score      float64
}

// Service wraps embedding generation with similarity search over the store.
type Service struct {
	store        storage.MemoryStore
	embedder     llm.EmbeddingGenerator
	reformulator *reform.Reformulator
	cache        *lru.Cache[string, []float32]
}

// NewService creates a query service. The reformulator is optional: when
// present, queries are faceted (one search per query facet, merged by best
// score); when nil, a single content-vector search is performed.
func NewService(store storage.MemoryStore, embedder llm.EmbeddingGenerator, reformulator *reform.Reformulator) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding generator is required")
	}

	cache, err := lru.New[string, []float32](embeddingCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Service{
		store:        store,
		embedder:     embedder,
		reformulator: reformulator,
		cache:        cache,
	}, nil
}

// Query embeds the text, searches the store and returns up to topK results
// ranked by descending score. Results below minScore are dropped; pass 0 to
// keep everything. Blank text is rejected before any embedding call.
func (s *Service) Query(ctx context.Context, text string, topK int, minScore float64) ([]Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is empty", types.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 10
	}

	merged := make(map[string]Result)
	for _, facet := range s.queryFacets(ctx, text) {
		vec, err := s.embed(ctx, facet)
		if err != nil {
			return nil, err
		}

		hits, err := s.store.FindSimilar(ctx, vec, topK)
		if err != nil {
			return nil, fmt.Errorf("similarity search: %w", err)
		}
		for _, h := range hits {
			if prev, ok := merged[h.Memorygram.ID]; !ok || h.Score > prev.Score {
				merged[h.Memorygram.ID] = Result{Memorygram: h.Memorygram, Score: h.Score}
			}
		}
	}

	scored := make([]storage.ScoredMemorygram, 0, len(merged))
	for _, r := range merged {
		scored = append(scored, storage.ScoredMemorygram{Memorygram: r.Memorygram, Score: r.Score})
	}
	storage.SortScored(scored)

	results := make([]Result, 0, topK)
	for _, h := range scored {
		if minScore > 0 && h.Score < minScore {
			continue
		}
		results = append(results, Result{Memorygram: h.Memorygram, Score: h.Score})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// ChatHistory returns the chat's memorygrams in chain order.
func (s *Service) ChatHistory(ctx context.Context, chatID string) ([]*types.Memorygram, error) {
	return s.store.GetByChatID(ctx, chatID)
}

// queryFacets returns the texts to embed for one query: the four facets when
// a reformulator is configured, otherwise the query itself. Reformulation
// failures degrade to the plain query rather than failing retrieval.
func (s *Service) queryFacets(ctx context.Context, text string) []string {
	if s.reformulator == nil {
		return []string{text}
	}

	ref, err := s.reformulator.ForQuery(ctx, text, "")
	if err != nil {
		log.Printf("memquery: query reformulation failed, using plain query: %v", err)
		return []string{text}
	}

	var facets []string
	for _, f := range ref.Facets() {
		if strings.TrimSpace(f) != "" {
			facets = append(facets, f)
		}
	}
	if len(facets) == 0 {
		return []string{text}
	}
	return facets
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.cache.Get(text); ok {
		return vec, nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	s.cache.Add(text, vec)
	return vec, nil
}
