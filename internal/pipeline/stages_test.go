package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cannedRetriever records the arguments of its last call and serves a fixed
// result set.
type cannedRetriever struct {
	hits         []QueryResult
	err          error
	lastTopK     int
	lastMinScore float64
}

func (c *cannedRetriever) Query(_ context.Context, _ string, topK int, minScore float64) ([]QueryResult, error) {
	c.lastTopK = topK
	c.lastMinScore = minScore
	if c.err != nil {
		return nil, c.err
	}
	if len(c.hits) > topK {
		return c.hits[:topK], nil
	}
	return c.hits, nil
}

func newState(input string) *ExecutionState {
	return &ExecutionState{
		RunID:   "run-test",
		Request: Request{ChatID: "chat-1", UserInput: input},
	}
}

func TestUserInputStageAppendsChunk(t *testing.T) {
	stage := NewUserInputStage("user_input")
	state, err := stage.Execute(context.Background(), newState("hello there"), &ExecutionStatus{})
	require.NoError(t, err)

	require.Len(t, state.Chunks, 1)
	assert.Equal(t, ChunkUserInput, state.Chunks[0].Type)
	assert.Equal(t, "hello there", state.Chunks[0].Content)
	assert.Equal(t, "user_input", state.Chunks[0].SourceStage)
}

func TestUserInputStageEmptyInputIsNoop(t *testing.T) {
	stage := NewUserInputStage("user_input")
	state, err := stage.Execute(context.Background(), newState("   "), &ExecutionStatus{})
	require.NoError(t, err)
	assert.Empty(t, state.Chunks)
}

func TestMemoryRetrievalStagePassesConfigToQuery(t *testing.T) {
	retriever := &cannedRetriever{hits: []QueryResult{
		{ID: "gram:a", Content: "likes espresso", Type: "Memory", Score: 0.91},
		{ID: "gram:b", Content: "lives in Lisbon", Type: "Memory", Score: 0.85},
	}}
	stage, err := NewMemoryRetrievalStage("recall", map[string]interface{}{
		"minimum_similarity_score": 0.8,
		"max_results":              3,
	}, retriever)
	require.NoError(t, err)

	state, err := stage.Execute(context.Background(), newState("what do I drink?"), &ExecutionStatus{})
	require.NoError(t, err)

	assert.Equal(t, 3, retriever.lastTopK)
	assert.InDelta(t, 0.8, retriever.lastMinScore, 1e-9)

	require.Len(t, state.Chunks, 2)
	assert.Equal(t, ChunkMemory, state.Chunks[0].Type)
	assert.Equal(t, "gram:a", state.Chunks[0].MemorygramID)
	assert.Equal(t, "recall", state.Chunks[0].SourceStage)
	assert.Equal(t, "Memory", state.Chunks[0].Metadata["memorygram_type"])
}

func TestMemoryRetrievalStageDefaultCap(t *testing.T) {
	var hits []QueryResult
	for i := 0; i < 10; i++ {
		hits = append(hits, QueryResult{ID: "gram:x", Score: 0.9})
	}
	retriever := &cannedRetriever{hits: hits}
	stage, err := NewMemoryRetrievalStage("recall", nil, retriever)
	require.NoError(t, err)

	state, err := stage.Execute(context.Background(), newState("anything"), &ExecutionStatus{})
	require.NoError(t, err)
	assert.Len(t, state.Chunks, defaultRetrievalCap)
}

func TestMemoryRetrievalStageDegradesGracefully(t *testing.T) {
	retriever := &cannedRetriever{err: errors.New("store offline")}
	stage, err := NewMemoryRetrievalStage("recall", nil, retriever)
	require.NoError(t, err)

	state, err := stage.Execute(context.Background(), newState("anything"), &ExecutionStatus{})
	require.NoError(t, err, "retrieval failure must not abort the run")
	assert.Empty(t, state.Chunks)
}

func TestMemoryRetrievalStageRequiresRetriever(t *testing.T) {
	_, err := NewMemoryRetrievalStage("recall", nil, nil)
	assert.Error(t, err)
}

func TestNullStageAppendsMarker(t *testing.T) {
	stage := NewNullStage("noop", map[string]interface{}{"marker": "checkpoint"})
	state, err := stage.Execute(context.Background(), newState(""), &ExecutionStatus{})
	require.NoError(t, err)

	require.Len(t, state.Chunks, 1)
	assert.Equal(t, ChunkMarker, state.Chunks[0].Type)
	assert.Equal(t, "checkpoint", state.Chunks[0].Content)
}

func TestAgenticWorkflowStagePassesThrough(t *testing.T) {
	stage := NewAgenticWorkflowStage("tools")
	in := newState("hello")
	out, err := stage.Execute(context.Background(), in, &ExecutionStatus{})
	require.NoError(t, err)
	assert.Same(t, in, out)
	assert.Empty(t, out.Chunks)
}

func TestNewStageUnknownType(t *testing.T) {
	_, err := NewStage(ComponentConfig{Name: "x", Type: "bogus"}, Dependencies{})
	assert.Error(t, err)
}
