// Package reform derives the four semantic facets (topical, content, context,
// metadata) of a piece of content or a query. A single embedding conflates
// "what topic", "what was said", "the surrounding situation" and "structured
// metadata"; reformulating into independent facets lets storage and retrieval
// match on the right dimension.
package reform

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/crowmane/mnemo/internal/llm"
	"github.com/crowmane/mnemo/pkg/types"
)

const storagePrompt = `Analyze the following content and reformulate it into four facets.
Respond with ONLY a JSON object, no other text:
{"topical": "<the topic or subject in a short phrase>", "content": "<what is actually being said, condensed>", "context": "<the situation or setting surrounding it>", "metadata": "<structured attributes as short key: value text>"}

Content:
%s

Situation context (may be empty):
%s

Known metadata (may be empty):
%s`

const queryPrompt = `Analyze the following search query and reformulate it into four facets.
Respond with ONLY a JSON object, no other text:
{"topical": "<the topic being asked about>", "content": "<the information being sought>", "context": "<the conversational situation of the question>", "metadata": "<any structured constraints as short key: value text>"}

Query:
%s

Conversation context (may be empty):
%s`

// Reformulator derives facet sets via an auxiliary language model, degrading
// to a deterministic passthrough when the model is unavailable or returns
// garbage. Reformulation is an enrichment: it must never fail a write.
type Reformulator struct {
	generator llm.TextGenerator
}

// New creates a reformulator backed by the given generator. A nil generator
// is allowed and always produces the deterministic fallback facets.
func New(generator llm.TextGenerator) *Reformulator {
	return &Reformulator{generator: generator}
}

// ForStorage derives the facet set for a piece of content being stored.
func (r *Reformulator) ForStorage(ctx context.Context, content, contextText, metadata string) (*types.Reformulation, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content is required", types.ErrInvalidInput)
	}

	fallback := &types.Reformulation{
		Topical:  headline(content),
		Content:  content,
		Context:  contextText,
		Metadata: metadata,
	}
	if r.generator == nil {
		return fallback, nil
	}

	prompt := fmt.Sprintf(storagePrompt, content, contextText, metadata)
	ref, err := r.ask(ctx, prompt)
	if err != nil {
		log.Printf("reform: storage reformulation failed, using fallback: %v", err)
		return fallback, nil
	}
	return ref, nil
}

// ForQuery derives the facet set for a retrieval query.
func (r *Reformulator) ForQuery(ctx context.Context, query, conversationContext string) (*types.Reformulation, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", types.ErrInvalidInput)
	}

	fallback := &types.Reformulation{
		Topical: headline(query),
		Content: query,
		Context: conversationContext,
	}
	if r.generator == nil {
		return fallback, nil
	}

	prompt := fmt.Sprintf(queryPrompt, query, conversationContext)
	ref, err := r.ask(ctx, prompt)
	if err != nil {
		log.Printf("reform: query reformulation failed, using fallback: %v", err)
		return fallback, nil
	}
	return ref, nil
}

func (r *Reformulator) ask(ctx context.Context, prompt string) (*types.Reformulation, error) {
	raw, err := r.generator.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	jsonStr, err := llm.ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("parse reformulation: %w", err)
	}

	var ref types.Reformulation
	if err := json.Unmarshal([]byte(jsonStr), &ref); err != nil {
		return nil, fmt.Errorf("decode reformulation: %w", err)
	}
	if ref.IsEmpty() {
		return nil, fmt.Errorf("model returned empty reformulation")
	}
	return &ref, nil
}

// headline returns a short topical phrase: the first sentence, capped at a
// handful of words.
func headline(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".!?\n"); idx > 0 {
		text = text[:idx]
	}
	words := strings.Fields(text)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}
