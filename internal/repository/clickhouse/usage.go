// Package clickhouse implements the append-only usage log.
package clickhouse

import (
	"context"
	"time"

	"github.com/google/uuid"

	"minerva/internal/adapters/ai"
	chadapter "minerva/internal/adapters/clickhouse"
	"minerva/pkg/logger"
)

const insertTimeout = 5 * time.Second

// UsageRepository records tool invocations and model calls for offline
// analysis. Writes are fire-and-forget: a failed insert is logged, never
// surfaced to the run.
type UsageRepository struct {
	client *chadapter.Client
	log    *logger.Logger
}

// NewUsageRepository creates a usage repository.
func NewUsageRepository(client *chadapter.Client) *UsageRepository {
	return &UsageRepository{
		client: client,
		log:    logger.Get().With("component", "usage_log"),
	}
}

// LogToolInvocation appends one tool call record.
func (r *UsageRepository) LogToolInvocation(ctx context.Context, runID uuid.UUID, tool string, source string, duration time.Duration, fingerprint string) {
	go func() {
		ictx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		defer cancel()

		err := r.client.Exec(ictx, `
			INSERT INTO tool_invocations (run_id, tool, source, duration_ms, fingerprint, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID.String(), tool, source, duration.Milliseconds(), fingerprint, time.Now(),
		)
		if err != nil {
			r.log.Warnw("tool invocation insert failed", "tool", tool, "error", err)
		}
	}()
}

// LogModelCall appends one chat completion record.
func (r *UsageRepository) LogModelCall(ctx context.Context, runID uuid.UUID, model string, persona string, usage ai.Usage) {
	go func() {
		ictx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		defer cancel()

		err := r.client.Exec(ictx, `
			INSERT INTO model_calls (run_id, model, persona, prompt_tokens, completion_tokens, total_tokens, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID.String(), model, persona, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, time.Now(),
		)
		if err != nil {
			r.log.Warnw("model call insert failed", "model", model, "error", err)
		}
	}()
}
