// Package agent implements the per-turn orchestration layer: response
// planning over the memory graph, the reflective dispatch gate, and the
// Responder state machine that ties pipeline execution, model calls and
// persistence together.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/crowmane/mnemo/internal/memquery"
	"github.com/crowmane/mnemo/pkg/types"
)

// QueryService is the slice of the memory query service the planner uses.
type QueryService interface {
	Query(ctx context.Context, text string, topK int, minScore float64) ([]memquery.Result, error)
	ChatHistory(ctx context.Context, chatID string) ([]*types.Memorygram, error)
}

// PlanningContext is the material gathered for one response: the chat's
// thread history, the associatively retrieved memories, and the ids of every
// memorygram consulted. The utilized-id set is what later becomes association
// edges from the new turn back to the memories that informed it.
type PlanningContext struct {
	ThreadHistory     []*types.Memorygram
	RetrievedMemories []memquery.Result
	UtilizedIDs       []string
}

// Planner assembles planning context for the responder.
type Planner struct {
	query    QueryService
	topK     int
	minScore float64
}

// NewPlanner creates a planner. topK and minScore bound the associative
// retrieval; topK <= 0 falls back to 5.
func NewPlanner(query QueryService, topK int, minScore float64) (*Planner, error) {
	if query == nil {
		return nil, fmt.Errorf("query service is required")
	}
	if topK <= 0 {
		topK = 5
	}
	return &Planner{query: query, topK: topK, minScore: minScore}, nil
}

// RetrieveAndPrepareContext fetches the chat's thread history and, separately,
// associatively retrieved memories. Retrieval is restricted to chat-unbound
// memories: thread context comes from the chain, not from similarity search,
// and the user's own just-created memorygram never informs its own reply.
// Retrieval failures degrade to a history-only plan.
func (p *Planner) RetrieveAndPrepareContext(ctx context.Context, chatID, userText, userMemorygramID string) (*PlanningContext, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, fmt.Errorf("%w: user text is empty", types.ErrInvalidInput)
	}

	history, err := p.query.ChatHistory(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load thread history: %w", err)
	}

	plan := &PlanningContext{ThreadHistory: history}
	utilized := make(map[string]bool)
	for _, m := range history {
		if m.ID != userMemorygramID && !utilized[m.ID] {
			utilized[m.ID] = true
			plan.UtilizedIDs = append(plan.UtilizedIDs, m.ID)
		}
	}

	hits, err := p.query.Query(ctx, userText, p.topK, p.minScore)
	if err != nil {
		log.Printf("Planner: associative retrieval failed, planning from history only: %v", err)
		return plan, nil
	}

	for _, hit := range hits {
		if hit.Memorygram.IsChatBound() || hit.Memorygram.ID == userMemorygramID {
			continue
		}
		plan.RetrievedMemories = append(plan.RetrievedMemories, hit)
		if !utilized[hit.Memorygram.ID] {
			utilized[hit.Memorygram.ID] = true
			plan.UtilizedIDs = append(plan.UtilizedIDs, hit.Memorygram.ID)
		}
	}
	return plan, nil
}
