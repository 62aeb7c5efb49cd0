// Package pipeline implements the manifest-driven context-assembly engine:
// a small set of stage implementations and an executor that runs a manifest's
// stages in order against a run's private state, tracking status and history.
package pipeline

import (
	"errors"
	"time"
)

var (
	// ErrPipelineNotFound indicates an unknown pipeline id.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrRunNotFound indicates an unknown run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrExecution indicates that a stage failed and aborted the run.
	ErrExecution = errors.New("pipeline execution failed")
)

// Manifest is the ordered stage configuration defining one pipeline. It is
// treated as immutable input to a run once loaded.
type Manifest struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Components  []ComponentConfig `yaml:"components"`
}

// ComponentConfig configures one stage instance within a manifest.
type ComponentConfig struct {
	// Name is the instance name recorded in stage history.
	Name string `yaml:"name"`

	// Type is the stage-type key resolved against the stage registry.
	Type string `yaml:"type"`

	// Config is the opaque per-stage configuration map.
	Config map[string]interface{} `yaml:"config"`
}

// Request is the originating request a pipeline runs against.
type Request struct {
	ChatID          string            `json:"chat_id"`
	UserInput       string            `json:"user_input"`
	SessionMeta     map[string]string `json:"session_meta,omitempty"`
	ResponseChannel string            `json:"response_channel,omitempty"`
}

// ChunkType classifies a context chunk by its origin.
type ChunkType string

const (
	ChunkUserInput ChunkType = "user_input"
	ChunkMemory    ChunkType = "memory"
	ChunkMarker    ChunkType = "marker"
)

// ContextChunk is a typed fragment of retrieved or derived text with a
// relevance score and provenance, accumulated during pipeline execution.
type ContextChunk struct {
	Type         ChunkType         `json:"type"`
	Content      string            `json:"content"`
	Score        float64           `json:"score"`
	SourceStage  string            `json:"source_stage"`
	MemorygramID string            `json:"memorygram_id,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ExecutionState is the per-run mutable state threaded through the stages.
// It is owned exclusively by one run and never shared across runs.
type ExecutionState struct {
	RunID      string         `json:"run_id"`
	PipelineID string         `json:"pipeline_id"`
	Request    Request        `json:"request"`
	Chunks     []ContextChunk `json:"chunks"`
	History    []StageHistory `json:"history"`
	Result     interface{}    `json:"result,omitempty"`
}

// AddChunk appends a context chunk, stamping the timestamp if unset.
func (s *ExecutionState) AddChunk(chunk ContextChunk) {
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = time.Now().UTC()
	}
	s.Chunks = append(s.Chunks, chunk)
}

// Status is the overall status of one run.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusRunning    Status = "Running"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// Terminal reports whether the status is a terminal value.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StageOutcome is the result of one stage invocation.
type StageOutcome string

const (
	OutcomeSuccess StageOutcome = "Success"
	OutcomeError   StageOutcome = "Error"
	OutcomeSkipped StageOutcome = "Skipped"
)

// StageHistory is one entry in a run's stage-history log.
type StageHistory struct {
	Stage     string       `json:"stage"`
	Outcome   StageOutcome `json:"outcome"`
	Timestamp time.Time    `json:"timestamp"`
	Message   string       `json:"message,omitempty"`
}

// ExecutionStatus is the status record for one run, readable while the run is
// live and after it reaches a terminal state.
type ExecutionStatus struct {
	RunID               string         `json:"run_id"`
	PipelineID          string         `json:"pipeline_id"`
	Status              Status         `json:"status"`
	CurrentStage        string         `json:"current_stage,omitempty"`
	CurrentStageStarted time.Time      `json:"current_stage_started,omitempty"`
	StartedAt           time.Time      `json:"started_at"`
	EndedAt             time.Time      `json:"ended_at,omitempty"`
	Message             string         `json:"message,omitempty"`
	History             []StageHistory `json:"history"`
}

// clone returns a deep copy so snapshots never alias live run state.
func (s *ExecutionStatus) clone() *ExecutionStatus {
	cp := *s
	cp.History = make([]StageHistory, len(s.History))
	copy(cp.History, s.History)
	return &cp
}
