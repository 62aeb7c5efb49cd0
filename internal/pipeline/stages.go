package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// defaultRetrievalCap limits how many retrieved memories a single retrieval
// stage adds to the context.
const defaultRetrievalCap = 5

// UserInputStage appends the raw user input as a context chunk. Empty input
// is a no-op rather than an error so manifests can share one definition
// across request shapes.
type UserInputStage struct {
	name string
}

// NewUserInputStage creates a user-input stage with the given instance name.
func NewUserInputStage(name string) *UserInputStage {
	if name == "" {
		name = "user_input"
	}
	return &UserInputStage{name: name}
}

func (s *UserInputStage) Name() string { return s.name }

func (s *UserInputStage) Execute(_ context.Context, state *ExecutionState, _ *ExecutionStatus) (*ExecutionState, error) {
	if strings.TrimSpace(state.Request.UserInput) == "" {
		return state, nil
	}
	state.AddChunk(ContextChunk{
		Type:        ChunkUserInput,
		Content:     state.Request.UserInput,
		Score:       1.0,
		SourceStage: s.name,
	})
	return state, nil
}

// MemoryRetrievalStage queries the memory service with the user input and
// maps ranked hits into context chunks carrying provenance. Retrieval is an
// enrichment, not a correctness requirement: on query failure the stage logs
// and returns the state unchanged instead of aborting the run.
type MemoryRetrievalStage struct {
	name      string
	retriever Retriever
	minScore  float64
	maxChunks int
}

// NewMemoryRetrievalStage creates a retrieval stage. Config keys:
// "minimum_similarity_score" (float, 0 disables filtering) and
// "max_results" (int, default 5).
func NewMemoryRetrievalStage(name string, config map[string]interface{}, retriever Retriever) (*MemoryRetrievalStage, error) {
	if retriever == nil {
		return nil, fmt.Errorf("memory retrieval stage %q requires a retriever", name)
	}
	if name == "" {
		name = "memory_retrieval"
	}
	maxChunks := configInt(config, "max_results", defaultRetrievalCap)
	if maxChunks <= 0 {
		maxChunks = defaultRetrievalCap
	}
	return &MemoryRetrievalStage{
		name:      name,
		retriever: retriever,
		minScore:  configFloat(config, "minimum_similarity_score", 0),
		maxChunks: maxChunks,
	}, nil
}

func (s *MemoryRetrievalStage) Name() string { return s.name }

func (s *MemoryRetrievalStage) Execute(ctx context.Context, state *ExecutionState, _ *ExecutionStatus) (*ExecutionState, error) {
	input := strings.TrimSpace(state.Request.UserInput)
	if input == "" {
		return state, nil
	}

	hits, err := s.retriever.Query(ctx, input, s.maxChunks, s.minScore)
	if err != nil {
		log.Printf("Pipeline: %s: memory retrieval failed, continuing without memories: %v", s.name, err)
		return state, nil
	}

	for i, hit := range hits {
		if i == s.maxChunks {
			break
		}
		state.AddChunk(ContextChunk{
			Type:         ChunkMemory,
			Content:      hit.Content,
			Score:        hit.Score,
			SourceStage:  s.name,
			MemorygramID: hit.ID,
			Metadata: map[string]string{
				"memorygram_type": hit.Type,
				"timestamp":       fmt.Sprintf("%d", hit.Timestamp),
			},
		})
	}
	return state, nil
}

// AgenticWorkflowStage is the extension point for tool use. It passes the
// state through untouched until tools are implemented.
type AgenticWorkflowStage struct {
	name string
}

// NewAgenticWorkflowStage creates a pass-through agentic stage.
func NewAgenticWorkflowStage(name string) *AgenticWorkflowStage {
	if name == "" {
		name = "agentic_workflow"
	}
	return &AgenticWorkflowStage{name: name}
}

func (s *AgenticWorkflowStage) Name() string { return s.name }

func (s *AgenticWorkflowStage) Execute(_ context.Context, state *ExecutionState, _ *ExecutionStatus) (*ExecutionState, error) {
	return state, nil
}

// NullStage is a test double that sleeps for a configured delay and appends a
// fixed marker chunk; it exists to verify executor plumbing.
type NullStage struct {
	name   string
	delay  time.Duration
	marker string
}

// NewNullStage creates a null stage. Config keys: "delay_ms" (int) and
// "marker" (string, default "null-stage").
func NewNullStage(name string, config map[string]interface{}) *NullStage {
	if name == "" {
		name = "null"
	}
	marker := "null-stage"
	if m, ok := config["marker"].(string); ok && m != "" {
		marker = m
	}
	return &NullStage{
		name:   name,
		delay:  time.Duration(configInt(config, "delay_ms", 0)) * time.Millisecond,
		marker: marker,
	}
}

func (s *NullStage) Name() string { return s.name }

func (s *NullStage) Execute(ctx context.Context, state *ExecutionState, _ *ExecutionStatus) (*ExecutionState, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	state.AddChunk(ContextChunk{
		Type:        ChunkMarker,
		Content:     s.marker,
		SourceStage: s.name,
	})
	return state, nil
}
