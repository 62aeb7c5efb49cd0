package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crowmane/mnemo/internal/llm"
	"github.com/crowmane/mnemo/internal/pipeline"
	"github.com/crowmane/mnemo/internal/storage"
	"github.com/crowmane/mnemo/pkg/types"
)

// TurnPhase names one step of the per-turn state machine.
type TurnPhase string

const (
	PhaseReceived          TurnPhase = "Received"
	PhasePipelineExecuted  TurnPhase = "PipelineExecuted"
	PhasePromptConstructed TurnPhase = "PromptConstructed"
	PhaseModelCalled       TurnPhase = "ModelCalled"
	PhaseEvaluated         TurnPhase = "Evaluated"
	PhasePersisted         TurnPhase = "Persisted"
)

// Edge weights written by the turn orchestrator. Experience edges to the
// turn's own memorygrams are full-strength; edges back to utilized memories
// carry a lower default weight.
const (
	experienceEdgeWeight = 1.0
	utilizedEdgeWeight   = 0.8
)

// historyPromptWindow bounds how many chain entries the prompt includes.
const historyPromptWindow = 10

// PipelineRunner is the slice of the pipeline executor the responder uses.
type PipelineRunner interface {
	ExecutePipeline(ctx context.Context, pipelineID string, req pipeline.Request) (*pipeline.ExecutionState, error)
	Status(runID string) (*pipeline.ExecutionStatus, error)
}

// Config holds the responder's turn policy.
type Config struct {
	// PipelineID is the manifest executed for every turn.
	PipelineID string

	// SystemPrompt prefixes every model prompt.
	SystemPrompt string

	// MaxRegenerations bounds how many times a rejected draft is retried.
	MaxRegenerations int
}

// TurnResult is the outcome of one processed user message.
type TurnResult struct {
	ResponseText      string
	UtilizedMemoryIDs []string
	RunID             string
}

// Responder drives the per-turn state machine:
// Received -> PipelineExecuted -> PromptConstructed -> ModelCalled ->
// Evaluated -> Persisted.
//
// Turns on the same chat are serialized by a per-chat mutex; without it two
// concurrent turns race on the Experience node's read-modify-write and one
// update is lost. Turns on distinct chats run fully concurrently.
type Responder struct {
	store     storage.MemoryStore
	runner    PipelineRunner
	generator llm.TextGenerator
	planner   *Planner
	reflector *Reflector
	cfg       Config

	// OnTurnPersisted, when set, is invoked after a turn's memorygrams have
	// been written. Intended for observability; it must not block.
	OnTurnPersisted func(chatID string, memorygramIDs []string)

	mu    sync.Mutex
	chats map[string]*sync.Mutex
}

// NewResponder wires the turn orchestrator.
func NewResponder(store storage.MemoryStore, runner PipelineRunner, generator llm.TextGenerator, planner *Planner, reflector *Reflector, cfg Config) (*Responder, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("pipeline runner is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("text generator is required")
	}
	if planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if cfg.PipelineID == "" {
		return nil, fmt.Errorf("pipeline id is required")
	}
	if reflector == nil {
		reflector = NewReflector(nil)
	}
	if cfg.MaxRegenerations < 0 {
		cfg.MaxRegenerations = 0
	}
	return &Responder{
		store:     store,
		runner:    runner,
		generator: generator,
		planner:   planner,
		reflector: reflector,
		cfg:       cfg,
		chats:     make(map[string]*sync.Mutex),
	}, nil
}

// ExperienceID returns the deterministic id of a chat's Experience node.
func ExperienceID(chatID string) string {
	return "exp:" + chatID
}

// ProcessUserMessage runs one full turn and returns the assistant's reply
// plus the ids of the memories that informed it. Validation failures are
// side-effect-free; a pipeline or model failure aborts the turn with nothing
// persisted. Persistence failures after the reply has been generated are
// logged but do not retract the reply.
func (r *Responder) ProcessUserMessage(ctx context.Context, chatID, text string) (*TurnResult, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, fmt.Errorf("%w: chat id is empty", types.ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is empty", types.ErrInvalidInput)
	}

	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	phase := PhaseReceived
	log.Printf("Responder: chat %s: %s", chatID, phase)

	state, err := r.runner.ExecutePipeline(ctx, r.cfg.PipelineID, pipeline.Request{
		ChatID:    chatID,
		UserInput: text,
	})
	if err != nil {
		return nil, fmt.Errorf("run pipeline %q: %w", r.cfg.PipelineID, err)
	}
	phase = PhasePipelineExecuted
	log.Printf("Responder: chat %s: %s (run %s, %d chunks)", chatID, phase, state.RunID, len(state.Chunks))

	userGramID := "gram:" + uuid.New().String()
	plan, err := r.planner.RetrieveAndPrepareContext(ctx, chatID, text, userGramID)
	if err != nil {
		return nil, fmt.Errorf("prepare planning context: %w", err)
	}

	prompt := r.buildPrompt(state, plan, text)
	phase = PhasePromptConstructed
	log.Printf("Responder: chat %s: %s (%d utilized memories)", chatID, phase, len(plan.UtilizedIDs))

	response, err := r.generateAndEvaluate(ctx, text, prompt)
	if err != nil {
		return nil, err
	}
	phase = PhaseEvaluated
	log.Printf("Responder: chat %s: %s", chatID, phase)

	result := &TurnResult{
		ResponseText:      response,
		UtilizedMemoryIDs: plan.UtilizedIDs,
		RunID:             state.RunID,
	}

	if err := r.persistTurn(ctx, chatID, userGramID, text, response, plan); err != nil {
		log.Printf("Responder: chat %s: turn persistence failed (response already dispatched): %v", chatID, err)
		return result, nil
	}
	phase = PhasePersisted
	log.Printf("Responder: chat %s: %s", chatID, phase)
	return result, nil
}

// GetChatHistory returns the chat's memorygrams in chain order.
func (r *Responder) GetChatHistory(ctx context.Context, chatID string) ([]*types.Memorygram, error) {
	return r.store.GetByChatID(ctx, chatID)
}

// GetExecutionStatus returns the status snapshot of a pipeline run.
func (r *Responder) GetExecutionStatus(runID string) (*pipeline.ExecutionStatus, error) {
	return r.runner.Status(runID)
}

func (r *Responder) chatLock(chatID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.chats[chatID]
	if !ok {
		lock = &sync.Mutex{}
		r.chats[chatID] = lock
	}
	return lock
}

// generateAndEvaluate calls the model and runs the draft through the
// reflective gate, regenerating a bounded number of times when the gate
// rejects. A rejected final draft is still dispatched: a mediocre reply beats
// no reply.
func (r *Responder) generateAndEvaluate(ctx context.Context, userText, prompt string) (string, error) {
	var draft string
	attempts := r.cfg.MaxRegenerations + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		response, err := r.generator.Complete(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("generate response: %w", err)
		}
		log.Printf("Responder: %s (attempt %d/%d)", PhaseModelCalled, attempt, attempts)

		draft = strings.TrimSpace(response)
		eval := r.reflector.EvaluateResponse(ctx, userText, draft)
		if eval.ShouldDispatch {
			return draft, nil
		}
		log.Printf("Responder: draft rejected (confidence %.2f): %s", eval.Confidence, eval.Notes)
	}
	return draft, nil
}

func (r *Responder) buildPrompt(state *pipeline.ExecutionState, plan *PlanningContext, userText string) string {
	var b strings.Builder
	if r.cfg.SystemPrompt != "" {
		b.WriteString(r.cfg.SystemPrompt)
		b.WriteString("\n\n")
	}

	var memories []string
	for _, chunk := range state.Chunks {
		if chunk.Type == pipeline.ChunkMemory {
			memories = append(memories, chunk.Content)
		}
	}
	for _, hit := range plan.RetrievedMemories {
		memories = append(memories, hit.Memorygram.Content)
	}
	if len(memories) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, m := range memories {
			b.WriteString("- ")
			b.WriteString(m)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	history := plan.ThreadHistory
	if len(history) > historyPromptWindow {
		history = history[len(history)-historyPromptWindow:]
	}
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			switch m.Type {
			case types.TypeUserInput:
				b.WriteString("User: ")
			case types.TypeAssistantResponse:
				b.WriteString("Assistant: ")
			default:
				continue
			}
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("User: ")
	b.WriteString(userText)
	b.WriteString("\nAssistant:")
	return b.String()
}

// persistTurn writes the turn's memorygrams, links them into the chat chain,
// maintains the chat's Experience node and creates the association edges.
func (r *Responder) persistTurn(ctx context.Context, chatID, userGramID, userText, response string, plan *PlanningContext) error {
	tail, nextSeq := chainTail(plan.ThreadHistory)
	now := time.Now().UTC()

	userGram := &types.Memorygram{
		ID:        userGramID,
		Content:   userText,
		Type:      types.TypeUserInput,
		Subtype:   types.SubtypeChat,
		Source:    "chat",
		Timestamp: now.UnixMilli(),
		ChatID:    chatID,
		Sequence:  nextSeq,
	}
	assistantGram := &types.Memorygram{
		ID:         "gram:" + uuid.New().String(),
		Content:    response,
		Type:       types.TypeAssistantResponse,
		Subtype:    types.SubtypeChat,
		Source:     "chat",
		Timestamp:  now.UnixMilli() + 1,
		ChatID:     chatID,
		Sequence:   nextSeq + 1,
		PreviousID: userGramID,
	}
	userGram.NextID = assistantGram.ID
	if tail != nil {
		userGram.PreviousID = tail.ID
	}

	if _, err := r.store.Upsert(ctx, userGram); err != nil {
		return fmt.Errorf("persist user memorygram: %w", err)
	}
	if _, err := r.store.Upsert(ctx, assistantGram); err != nil {
		return fmt.Errorf("persist assistant memorygram: %w", err)
	}
	if tail != nil {
		tail.NextID = userGram.ID
		if _, err := r.store.Upsert(ctx, tail); err != nil {
			return fmt.Errorf("link chain tail %s: %w", tail.ID, err)
		}
	}

	experience, err := r.upsertExperience(ctx, chatID, userText, now)
	if err != nil {
		return err
	}

	r.linkTurn(ctx, experience.ID, userGram.ID, assistantGram.ID, plan.UtilizedIDs)

	if r.OnTurnPersisted != nil {
		r.OnTurnPersisted(chatID, []string{userGram.ID, assistantGram.ID, experience.ID})
	}
	return nil
}

// upsertExperience creates the chat's Experience node on the first turn and
// appends to it on every subsequent turn. The node's id is deterministic per
// chat so exactly one exists.
func (r *Responder) upsertExperience(ctx context.Context, chatID, userText string, now time.Time) (*types.Memorygram, error) {
	id := ExperienceID(chatID)
	experience, err := r.store.Get(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		experience = &types.Memorygram{
			ID:        id,
			Content:   "New conversation started with: " + userText,
			Type:      types.TypeExperience,
			Source:    "chat",
			Timestamp: now.UnixMilli(),
			ChatID:    chatID,
		}
	case err != nil:
		return nil, fmt.Errorf("load experience node: %w", err)
	default:
		experience.Content += "\nContinued with: " + userText
		experience.Embeddings = types.FacetEmbeddings{}
	}

	stored, err := r.store.Upsert(ctx, experience)
	if err != nil {
		return nil, fmt.Errorf("persist experience node: %w", err)
	}
	return stored, nil
}

// linkTurn writes the turn's association edges. Each edge failure is logged
// and the remaining edges are still attempted; a partially linked turn is
// better than an unlinked one.
func (r *Responder) linkTurn(ctx context.Context, experienceID, userID, assistantID string, utilizedIDs []string) {
	link := func(fromID, toID, relType string, weight float64) {
		if _, err := r.store.UpsertAssociation(ctx, fromID, toID, relType, weight); err != nil {
			log.Printf("Responder: association %s -> %s (%s) failed: %v", fromID, toID, relType, err)
		}
	}

	link(experienceID, userID, types.AssociationExperienceOf, experienceEdgeWeight)
	link(experienceID, assistantID, types.AssociationExperienceOf, experienceEdgeWeight)
	for _, id := range utilizedIDs {
		link(experienceID, id, types.AssociationExperienceOf, utilizedEdgeWeight)
		link(assistantID, id, types.AssociationRelatesTo, utilizedEdgeWeight)
	}
}

// chainTail returns the last element of a chain-ordered history and the next
// sequence number to assign.
func chainTail(history []*types.Memorygram) (*types.Memorygram, int64) {
	if len(history) == 0 {
		return nil, 1
	}
	tail := history[len(history)-1]
	return tail, tail.Sequence + 1
}
