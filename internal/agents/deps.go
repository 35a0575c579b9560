// Package agents builds the persona nodes, routers, and graph topology of a
// decision run.
package agents

import (
	"context"
	"time"

	"github.com/google/uuid"

	"minerva/internal/adapters/ai"
	"minerva/internal/domain/memory"
	"minerva/internal/progress"
	"minerva/internal/tools"
	"minerva/pkg/logger"
)

// UsageLogger records tool invocations for offline analysis. Implementations
// must be non-blocking best effort.
type UsageLogger interface {
	LogToolInvocation(ctx context.Context, runID uuid.UUID, tool string, source string, duration time.Duration, fingerprint string)
	LogModelCall(ctx context.Context, runID uuid.UUID, model string, persona string, usage ai.Usage)
}

// Deps carries everything node constructors need.
type Deps struct {
	Invoker  ai.ChatInvoker
	Registry *tools.Registry
	Memory   *memory.Service
	Bus      *progress.Bus
	Usage    UsageLogger
	Log      *logger.Logger
}

func (d *Deps) logger() *logger.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logger.Get()
}

// logModelCall forwards token usage when a usage sink is configured.
func (d *Deps) logModelCall(ctx context.Context, runID uuid.UUID, persona string, usage ai.Usage) {
	if d.Usage == nil {
		return
	}
	d.Usage.LogModelCall(ctx, runID, d.Invoker.Model(), persona, usage)
}

// warn publishes a non-fatal notice on the progress stream.
func (d *Deps) warn(runID uuid.UUID, label string, message string, iteration int) {
	if d.Bus == nil {
		return
	}
	_ = d.Bus.Publish(runID, progress.Event{
		Stage:     progress.StageWarning,
		Label:     label,
		Message:   message,
		Iteration: iteration,
	})
}
