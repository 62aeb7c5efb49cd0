package pipeline

import (
	"context"
	"fmt"
)

// Stage is one step of a pipeline. Implementations are strategy objects
// constructed from their manifest configuration; Execute is called once per
// stage per run and returns the (possibly replaced) state.
type Stage interface {
	// Name is the stable instance identifier recorded in stage history.
	Name() string

	// Execute runs the stage against the run's state. The status is the
	// run's live status record; stages normally leave it alone.
	Execute(ctx context.Context, state *ExecutionState, status *ExecutionStatus) (*ExecutionState, error)
}

// Retriever is the slice of the memory query service that the retrieval stage
// depends on.
type Retriever interface {
	Query(ctx context.Context, text string, topK int, minScore float64) ([]QueryResult, error)
}

// QueryResult mirrors one ranked retrieval hit without importing the query
// service package, keeping the stage testable in isolation.
type QueryResult struct {
	ID        string
	Content   string
	Type      string
	Score     float64
	Timestamp int64
}

// Dependencies carries the shared services stages may need. Stages that need
// nothing ignore it.
type Dependencies struct {
	Retriever Retriever
}

// Stage-type keys used in manifests.
const (
	StageTypeUserInput       = "user_input"
	StageTypeMemoryRetrieval = "memory_retrieval"
	StageTypeAgenticWorkflow = "agentic_workflow"
	StageTypeNull            = "null"
)

// NewStage builds a stage instance for a manifest component.
func NewStage(component ComponentConfig, deps Dependencies) (Stage, error) {
	switch component.Type {
	case StageTypeUserInput:
		return NewUserInputStage(component.Name), nil
	case StageTypeMemoryRetrieval:
		return NewMemoryRetrievalStage(component.Name, component.Config, deps.Retriever)
	case StageTypeAgenticWorkflow:
		return NewAgenticWorkflowStage(component.Name), nil
	case StageTypeNull:
		return NewNullStage(component.Name, component.Config), nil
	default:
		return nil, fmt.Errorf("unknown stage type %q for component %q", component.Type, component.Name)
	}
}

// configFloat reads a float from an opaque stage config map, tolerating the
// numeric types YAML decoding produces.
func configFloat(config map[string]interface{}, key string, def float64) float64 {
	v, ok := config[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	default:
		return def
	}
}

// configInt reads an int from an opaque stage config map.
func configInt(config map[string]interface{}, key string, def int) int {
	v, ok := config[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}
