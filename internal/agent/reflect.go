package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/crowmane/mnemo/internal/llm"
)

const reflectPrompt = `You are a response quality gate. Given a user message and a draft reply,
judge whether the draft should be sent as-is.

User message:
%s

Draft reply:
%s

Respond with JSON only:
{"should_dispatch": true|false, "confidence": 0.0-1.0, "notes": "one short sentence"}`

// Evaluation is the verdict of the reflective gate for one draft response.
type Evaluation struct {
	ShouldDispatch bool    `json:"should_dispatch"`
	Confidence     float64 `json:"confidence"`
	Notes          string  `json:"notes,omitempty"`
}

// Reflector is a post-hoc critique gate over draft responses. It never
// mutates persisted state; the regeneration policy belongs to the caller.
type Reflector struct {
	generator llm.TextGenerator
}

// NewReflector creates a reflector. A nil generator is allowed and makes
// every evaluation pass, so the gate can be disabled by configuration.
func NewReflector(generator llm.TextGenerator) *Reflector {
	return &Reflector{generator: generator}
}

// EvaluateResponse critiques a draft. The gate fails open: a model failure or
// an unparseable verdict approves the draft rather than blocking the turn.
func (r *Reflector) EvaluateResponse(ctx context.Context, userInput, draft string) Evaluation {
	approved := Evaluation{ShouldDispatch: true, Confidence: 1.0}
	if r.generator == nil || draft == "" {
		return approved
	}

	raw, err := r.generator.Complete(ctx, fmt.Sprintf(reflectPrompt, userInput, draft))
	if err != nil {
		log.Printf("Reflector: evaluation call failed, approving draft: %v", err)
		return approved
	}

	payload, err := llm.ExtractJSON(raw)
	if err != nil {
		log.Printf("Reflector: no JSON verdict in model output, approving draft")
		return approved
	}

	var eval Evaluation
	if err := json.Unmarshal([]byte(payload), &eval); err != nil {
		log.Printf("Reflector: unparseable verdict, approving draft: %v", err)
		return approved
	}
	if eval.Confidence < 0 {
		eval.Confidence = 0
	}
	if eval.Confidence > 1 {
		eval.Confidence = 1
	}
	return eval
}
