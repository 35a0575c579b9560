package middleware

import (
	"context"
	"time"

	"minerva/internal/tools"
	"minerva/pkg/errors"
)

// TimeoutMiddleware bounds each tool call with its own deadline.
type TimeoutMiddleware struct {
	Timeout time.Duration
}

// Wrap adds a per-call timeout to a tool. A call that exceeds it fails with
// a transient timeout error so the retry layer can have another go.
func (m TimeoutMiddleware) Wrap(t tools.Tool) tools.Tool {
	if m.Timeout <= 0 {
		return t
	}

	return tools.New(t.Name(), t.Description(), t.Definition().Function.Parameters, func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
		tctx, cancel := context.WithTimeout(ctx, m.Timeout)
		defer cancel()

		result, err := t.Execute(tctx, args)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrapf(errors.ErrTimeout, "tool %s exceeded %s", t.Name(), m.Timeout)
		}
		return result, err
	})
}
