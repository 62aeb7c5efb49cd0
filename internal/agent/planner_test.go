package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowmane/mnemo/internal/memquery"
	"github.com/crowmane/mnemo/pkg/types"
)

// plannerQuery is a scripted QueryService for planner tests.
type plannerQuery struct {
	history    []*types.Memorygram
	hits       []memquery.Result
	queryErr   error
	historyErr error
}

func (q *plannerQuery) Query(context.Context, string, int, float64) ([]memquery.Result, error) {
	if q.queryErr != nil {
		return nil, q.queryErr
	}
	return q.hits, nil
}

func (q *plannerQuery) ChatHistory(context.Context, string) ([]*types.Memorygram, error) {
	if q.historyErr != nil {
		return nil, q.historyErr
	}
	return q.history, nil
}

func TestRetrieveAndPrepareContextExcludesChatBoundMemories(t *testing.T) {
	query := &plannerQuery{hits: []memquery.Result{
		{Memorygram: &types.Memorygram{ID: "gram:free", Type: types.TypeMemory}, Score: 0.9},
		{Memorygram: &types.Memorygram{ID: "gram:bound", Type: types.TypeUserInput, ChatID: "other-chat"}, Score: 0.95},
	}}
	planner, err := NewPlanner(query, 5, 0)
	require.NoError(t, err)

	plan, err := planner.RetrieveAndPrepareContext(context.Background(), "chat-1", "tea?", "gram:me")
	require.NoError(t, err)

	require.Len(t, plan.RetrievedMemories, 1)
	assert.Equal(t, "gram:free", plan.RetrievedMemories[0].Memorygram.ID)
	assert.Equal(t, []string{"gram:free"}, plan.UtilizedIDs)
}

func TestRetrieveAndPrepareContextExcludesOwnMemorygram(t *testing.T) {
	query := &plannerQuery{hits: []memquery.Result{
		{Memorygram: &types.Memorygram{ID: "gram:me", Type: types.TypeMemory}, Score: 1.0},
	}}
	planner, err := NewPlanner(query, 5, 0)
	require.NoError(t, err)

	plan, err := planner.RetrieveAndPrepareContext(context.Background(), "chat-1", "hello", "gram:me")
	require.NoError(t, err)
	assert.Empty(t, plan.RetrievedMemories)
	assert.Empty(t, plan.UtilizedIDs)
}

func TestRetrieveAndPrepareContextRecordsHistoryIDs(t *testing.T) {
	query := &plannerQuery{
		history: []*types.Memorygram{
			{ID: "gram:h1", ChatID: "chat-1", Sequence: 1},
			{ID: "gram:h2", ChatID: "chat-1", Sequence: 2},
		},
		hits: []memquery.Result{
			{Memorygram: &types.Memorygram{ID: "gram:free", Type: types.TypeMemory}, Score: 0.9},
		},
	}
	planner, err := NewPlanner(query, 5, 0)
	require.NoError(t, err)

	plan, err := planner.RetrieveAndPrepareContext(context.Background(), "chat-1", "hello", "gram:me")
	require.NoError(t, err)

	assert.Len(t, plan.ThreadHistory, 2)
	assert.ElementsMatch(t, []string{"gram:h1", "gram:h2", "gram:free"}, plan.UtilizedIDs)
}

func TestRetrieveAndPrepareContextDegradesOnRetrievalFailure(t *testing.T) {
	query := &plannerQuery{
		history:  []*types.Memorygram{{ID: "gram:h1", ChatID: "chat-1", Sequence: 1}},
		queryErr: errors.New("embedder down"),
	}
	planner, err := NewPlanner(query, 5, 0)
	require.NoError(t, err)

	plan, err := planner.RetrieveAndPrepareContext(context.Background(), "chat-1", "hello", "gram:me")
	require.NoError(t, err, "retrieval failure must degrade, not abort planning")
	assert.Len(t, plan.ThreadHistory, 1)
	assert.Empty(t, plan.RetrievedMemories)
}

func TestRetrieveAndPrepareContextHistoryFailureIsFatal(t *testing.T) {
	planner, err := NewPlanner(&plannerQuery{historyErr: errors.New("store offline")}, 5, 0)
	require.NoError(t, err)

	_, err = planner.RetrieveAndPrepareContext(context.Background(), "chat-1", "hello", "gram:me")
	assert.Error(t, err)
}

func TestRetrieveAndPrepareContextRejectsBlankText(t *testing.T) {
	planner, err := NewPlanner(&plannerQuery{}, 5, 0)
	require.NoError(t, err)

	_, err = planner.RetrieveAndPrepareContext(context.Background(), "chat-1", "  ", "gram:me")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}
