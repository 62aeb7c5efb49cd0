package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateResponseParsesVerdict(t *testing.T) {
	generator := &scriptedGenerator{responses: []string{
		"Here is my verdict:\n```json\n{\"should_dispatch\": false, \"confidence\": 0.3, \"notes\": \"misses the question\"}\n```",
	}}
	reflector := NewReflector(generator)

	eval := reflector.EvaluateResponse(context.Background(), "what time is it?", "I like turtles")
	assert.False(t, eval.ShouldDispatch)
	assert.InDelta(t, 0.3, eval.Confidence, 1e-9)
	assert.Equal(t, "misses the question", eval.Notes)
}

func TestEvaluateResponseFailsOpenOnModelError(t *testing.T) {
	reflector := NewReflector(&scriptedGenerator{err: errors.New("provider down")})

	eval := reflector.EvaluateResponse(context.Background(), "hi", "hello")
	assert.True(t, eval.ShouldDispatch)
}

func TestEvaluateResponseFailsOpenOnGarbage(t *testing.T) {
	reflector := NewReflector(&scriptedGenerator{responses: []string{"no json here at all"}})

	eval := reflector.EvaluateResponse(context.Background(), "hi", "hello")
	assert.True(t, eval.ShouldDispatch)
}

func TestEvaluateResponseNilGeneratorApproves(t *testing.T) {
	reflector := NewReflector(nil)

	eval := reflector.EvaluateResponse(context.Background(), "hi", "hello")
	assert.True(t, eval.ShouldDispatch)
	assert.Equal(t, 1.0, eval.Confidence)
}

func TestEvaluateResponseClampsConfidence(t *testing.T) {
	reflector := NewReflector(&scriptedGenerator{responses: []string{
		`{"should_dispatch": true, "confidence": 3.5}`,
	}})

	eval := reflector.EvaluateResponse(context.Background(), "hi", "hello")
	assert.Equal(t, 1.0, eval.Confidence)
}
