// Package progress implements the per-run event bus: an ordered log with a
// bounded replay buffer, live fan-out to subscribers, and retention-based
// garbage collection after the terminal event.
package progress

import (
	"time"

	"github.com/google/uuid"
)

// Stage labels a pipeline phase on the progress stream.
type Stage string

const (
	StageAnalysts Stage = "analysts"
	StageDebate   Stage = "debate"
	StageManager  Stage = "manager"
	StageTrader   Stage = "trader"
	StageRisk     Stage = "risk"
	StageComplete Stage = "complete"
	StageError    Stage = "error"

	// StageWarning carries non-fatal notices: retry warnings and the one-shot
	// buffer_overflow event. Never terminal.
	StageWarning Stage = "warning"
)

// Terminal reports whether the stage ends the stream.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// Event is one entry on a run's progress stream.
type Event struct {
	RunID     uuid.UUID `json:"run_id"`
	Stage     Stage     `json:"stage"`
	Label     string    `json:"label"`
	Percent   float64   `json:"percent,omitempty"`
	Message   string    `json:"message,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
