package llm

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig controls the uniform resilience policy applied to every
// embedding and language-model call: bounded retries with exponential backoff
// for transient failures, an overall per-call timeout regardless of retries,
// and outbound rate limiting.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the delay before the first retry; it doubles per
	// attempt. Default: 500ms
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff growth. Default: 8s
	MaxBackoff time.Duration

	// CallTimeout bounds the whole call including retries. Default: 2m
	CallTimeout time.Duration

	// RequestsPerSecond throttles outbound provider traffic. Zero disables
	// the limiter.
	RequestsPerSecond float64
}

// DefaultRetryConfig returns the default resilience policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		CallTimeout:    2 * time.Minute,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	return c
}

func newLimiter(c RetryConfig) *rate.Limiter {
	if c.RequestsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.RequestsPerSecond), 1)
}

// withRetry runs op under the resilience policy. Transient failures are
// retried with exponential backoff until MaxAttempts or the overall timeout;
// permanent failures surface immediately. The final error is wrapped as
// ErrExternalService.
func withRetry(ctx context.Context, cfg RetryConfig, limiter *rate.Limiter, name string, op func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrExternalService, name, err)
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return fmt.Errorf("%w: %s: %v", ErrExternalService, name, lastErr)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		log.Printf("llm: %s attempt %d/%d failed (transient), retrying in %s: %v",
			name, attempt, cfg.MaxAttempts, backoff, lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrExternalService, name, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %v", ErrExternalService, name, cfg.MaxAttempts, lastErr)
}

// ResilientTextGenerator applies the retry policy to a TextGenerator.
type ResilientTextGenerator struct {
	inner   TextGenerator
	cfg     RetryConfig
	limiter *rate.Limiter
}

// NewResilientTextGenerator wraps inner with the resilience policy.
func NewResilientTextGenerator(inner TextGenerator, cfg RetryConfig) *ResilientTextGenerator {
	cfg = cfg.withDefaults()
	return &ResilientTextGenerator{inner: inner, cfg: cfg, limiter: newLimiter(cfg)}
}

// Complete calls the inner generator under the retry policy.
func (r *ResilientTextGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := withRetry(ctx, r.cfg, r.limiter, "complete", func(ctx context.Context) error {
		var innerErr error
		out, innerErr = r.inner.Complete(ctx, prompt)
		return innerErr
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// GetModel returns the inner generator's model name.
func (r *ResilientTextGenerator) GetModel() string {
	return r.inner.GetModel()
}

// ResilientEmbedder applies the retry policy to an EmbeddingGenerator.
type ResilientEmbedder struct {
	inner   EmbeddingGenerator
	cfg     RetryConfig
	limiter *rate.Limiter
}

// NewResilientEmbedder wraps inner with the resilience policy.
func NewResilientEmbedder(inner EmbeddingGenerator, cfg RetryConfig) *ResilientEmbedder {
	cfg = cfg.withDefaults()
	return &ResilientEmbedder{inner: inner, cfg: cfg, limiter: newLimiter(cfg)}
}

// Embed calls the inner embedder under the retry policy.
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := withRetry(ctx, r.cfg, r.limiter, "embed", func(ctx context.Context) error {
		var innerErr error
		out, innerErr = r.inner.Embed(ctx, text)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetModel returns the inner embedder's model name.
func (r *ResilientEmbedder) GetModel() string {
	return r.inner.GetModel()
}
