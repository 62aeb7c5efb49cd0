package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Executor runs manifests stage by stage and tracks per-run status. Runs are
// isolated: each gets its own state and status record, and concurrent runs of
// the same pipeline never share mutable data.
type Executor struct {
	repo ManifestRepository
	deps Dependencies

	mu   sync.RWMutex
	runs map[string]*ExecutionStatus
}

// NewExecutor creates an executor over the given manifest repository.
func NewExecutor(repo ManifestRepository, deps Dependencies) (*Executor, error) {
	if repo == nil {
		return nil, fmt.Errorf("manifest repository is required")
	}
	return &Executor{
		repo: repo,
		deps: deps,
		runs: make(map[string]*ExecutionStatus),
	}, nil
}

// ExecutePipeline resolves the pipeline, builds its stages and runs them
// strictly in manifest order. The first stage failure aborts the run; the
// partial state accumulated so far is returned alongside the error.
// Cancellation is observed at stage boundaries: a stage that has started is
// allowed to finish.
func (e *Executor) ExecutePipeline(ctx context.Context, pipelineID string, req Request) (*ExecutionState, error) {
	manifest, err := e.repo.Get(pipelineID)
	if err != nil {
		return nil, err
	}

	stages := make([]Stage, 0, len(manifest.Components))
	for _, component := range manifest.Components {
		stage, err := NewStage(component, e.deps)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecution, err)
		}
		stages = append(stages, stage)
	}

	runID := uuid.New().String()
	state := &ExecutionState{
		RunID:      runID,
		PipelineID: pipelineID,
		Request:    req,
	}
	status := &ExecutionStatus{
		RunID:      runID,
		PipelineID: pipelineID,
		Status:     StatusPending,
		StartedAt:  time.Now().UTC(),
	}

	e.mu.Lock()
	e.runs[runID] = status
	e.mu.Unlock()

	e.updateStatus(status, func(s *ExecutionStatus) {
		s.Status = StatusRunning
	})
	log.Printf("Pipeline: run %s: starting %q with %d stages", runID, pipelineID, len(stages))

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			e.recordStage(status, stage.Name(), OutcomeSkipped, "run cancelled")
			e.finish(status, StatusFailed, err.Error())
			return state, fmt.Errorf("%w: %v", ErrExecution, err)
		}

		e.updateStatus(status, func(s *ExecutionStatus) {
			s.Status = StatusProcessing
			s.CurrentStage = stage.Name()
			s.CurrentStageStarted = time.Now().UTC()
		})

		next, err := stage.Execute(ctx, state, status)
		if err != nil {
			e.recordStage(status, stage.Name(), OutcomeError, err.Error())
			e.finish(status, StatusFailed, fmt.Sprintf("stage %s: %v", stage.Name(), err))
			log.Printf("Pipeline: run %s: stage %s failed: %v", runID, stage.Name(), err)
			return state, fmt.Errorf("%w: stage %s: %v", ErrExecution, stage.Name(), err)
		}
		if next != nil {
			state = next
		}
		e.recordStage(status, stage.Name(), OutcomeSuccess, "")
	}

	e.finish(status, StatusCompleted, "")
	state.History = e.historySnapshot(status)
	log.Printf("Pipeline: run %s: completed with %d context chunks", runID, len(state.Chunks))
	return state, nil
}

// Status returns a snapshot of a run's status, valid for live and finished
// runs alike.
func (e *Executor) Status(runID string) (*ExecutionStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	status, ok := e.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	return status.clone(), nil
}

func (e *Executor) updateStatus(status *ExecutionStatus, fn func(*ExecutionStatus)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(status)
}

func (e *Executor) recordStage(status *ExecutionStatus, stage string, outcome StageOutcome, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	status.History = append(status.History, StageHistory{
		Stage:     stage,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
		Message:   message,
	})
}

func (e *Executor) finish(status *ExecutionStatus, final Status, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	status.Status = final
	status.CurrentStage = ""
	status.EndedAt = time.Now().UTC()
	status.Message = message
}

func (e *Executor) historySnapshot(status *ExecutionStatus) []StageHistory {
	e.mu.RLock()
	defer e.mu.RUnlock()
	history := make([]StageHistory, len(status.History))
	copy(history, status.History)
	return history
}
