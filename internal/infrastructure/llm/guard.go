// Package llm wraps a text-completion backend with the call policy every
// pipeline stage relies on: a hard per-call timeout, at most one retry and a
// single error type for every failure.
package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultTimeout     = 45 * time.Second
	DefaultRetryJitter = 500 * time.Millisecond
)

// Completer is a single blocking generation call.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float32) (string, error)
}

type Options struct {
	Provider string
	Timeout  time.Duration
	// MaxRetries is clamped to 0 or 1. Generations are not idempotent, so
	// retrying is opt in.
	MaxRetries  int
	RetryJitter time.Duration
}

type Guard struct {
	next       Completer
	provider   string
	timeout    time.Duration
	maxRetries int
	jitter     time.Duration
	logger     *zap.Logger
}

func NewGuard(next Completer, opts Options, logger *zap.Logger) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxRetries > 1 {
		opts.MaxRetries = 1
	}
	if opts.Provider == "" {
		opts.Provider = "llm"
	}
	return &Guard{
		next:       next,
		provider:   opts.Provider,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		jitter:     opts.RetryJitter,
		logger:     logger.Named("llm"),
	}
}

// Complete returns the generated text or a *domain.CompletionError.
func (g *Guard) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float32) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			if err := g.wait(ctx); err != nil {
				break
			}
		}

		start := time.Now()
		out, err := g.once(ctx, systemPrompt, userPrompt, temperature)
		callDuration.WithLabelValues(g.provider).Observe(time.Since(start).Seconds())
		if err == nil {
			callsTotal.WithLabelValues(g.provider, "ok").Inc()
			return out, nil
		}

		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		callsTotal.WithLabelValues(g.provider, outcome).Inc()
		lastErr = err

		g.logger.Warn("completion attempt failed",
			zap.String("provider", g.provider),
			zap.Int("attempt", attempt+1),
			zap.String("outcome", outcome),
			zap.Error(err),
		)

		// The caller gave up; retrying would only burn the quota.
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return "", &domain.CompletionError{Provider: g.provider, Err: lastErr}
}

func (g *Guard) once(ctx context.Context, systemPrompt, userPrompt string, temperature float32) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.Complete(callCtx, systemPrompt, userPrompt, temperature)
}

func (g *Guard) wait(ctx context.Context) error {
	if g.jitter <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.jitter/2 + rand.N(g.jitter))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
