package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyGenerator fails a configurable number of times before succeeding.
type flakyGenerator struct {
	failures int
	err      error
	calls    int
}

func (f *flakyGenerator) Complete(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return "ok", nil
}

func (f *flakyGenerator) GetModel() string { return "flaky" }

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		CallTimeout:    time.Second,
	}
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	inner := &flakyGenerator{
		failures: 2,
		err:      &ProviderError{Provider: "test", StatusCode: 503, Transient: true, Err: errors.New("unavailable")},
	}
	gen := NewResilientTextGenerator(inner, fastRetryConfig())

	out, err := gen.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, inner.calls, "two transient failures then success")
}

func TestResilientDoesNotRetryPermanentFailures(t *testing.T) {
	inner := &flakyGenerator{
		failures: 10,
		err:      &ProviderError{Provider: "test", StatusCode: 401, Transient: false, Err: errors.New("unauthorized")},
	}
	gen := NewResilientTextGenerator(inner, fastRetryConfig())

	_, err := gen.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Equal(t, 1, inner.calls, "permanent failures surface immediately")
}

func TestResilientExhaustsAttempts(t *testing.T) {
	inner := &flakyGenerator{
		failures: 10,
		err:      &ProviderError{Provider: "test", StatusCode: 500, Transient: true, Err: errors.New("boom")},
	}
	gen := NewResilientTextGenerator(inner, fastRetryConfig())

	_, err := gen.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Equal(t, 3, inner.calls, "retries stop at MaxAttempts")
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(statusError("x", 500, "boom")))
	assert.True(t, IsTransient(statusError("x", 429, "slow down")))
	assert.False(t, IsTransient(statusError("x", 400, "bad request")))
	assert.False(t, IsTransient(errors.New("plain error")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(transportError("x", context.Canceled)))
}

func TestRegistryResolvesRolesAndModels(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterClient(RolePrimary, &flakyGenerator{})

	byRole, err := reg.Resolve(RolePrimary)
	require.NoError(t, err)
	assert.NotNil(t, byRole)

	byModel, err := reg.Resolve("flaky")
	require.NoError(t, err)
	assert.Equal(t, byRole, byModel)

	_, err = reg.Resolve("unknown")
	assert.Error(t, err)
}
