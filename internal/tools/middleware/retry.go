// Package middleware wraps tools with cross-cutting execution policies.
package middleware

import (
	"context"
	"time"

	"minerva/internal/tools"
	"minerva/pkg/errors"
)

// RetryMiddleware retries tool execution on transient errors with
// exponential backoff. Fatal errors are returned immediately.
type RetryMiddleware struct {
	// MaxRetries is the number of attempts after the first failure.
	MaxRetries int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	// OnRetry is invoked before each retry with the 1-based attempt number
	// and the error that triggered it. May be nil.
	OnRetry func(attempt int, err error)
}

// Wrap adds retry semantics to a tool.
func (m RetryMiddleware) Wrap(t tools.Tool) tools.Tool {
	maxRetries := m.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := m.Backoff

	return tools.New(t.Name(), t.Description(), t.Definition().Function.Parameters, func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
		var lastErr error

		for attempt := 0; ; attempt++ {
			result, err := t.Execute(ctx, args)
			if err == nil {
				return result, nil
			}
			lastErr = err

			if !errors.IsTransient(err) || attempt >= maxRetries {
				return nil, lastErr
			}

			if m.OnRetry != nil {
				m.OnRetry(attempt+1, err)
			}

			if backoff > 0 {
				select {
				case <-ctx.Done():
					return nil, errors.Wrapf(errors.ErrTimeout, "retrying tool %s", t.Name())
				case <-time.After(backoff << uint(attempt)):
				}
			}
		}
	})
}
