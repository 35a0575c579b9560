// Package runs tracks background analysis runs in memory so clients can poll
// or re-attach after a page refresh, and mirrors lifecycle changes to the
// persistence layer.
package runs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"minerva/internal/domain/run"
	"minerva/pkg/errors"
	"minerva/pkg/logger"
)

// Persister mirrors run lifecycle changes to durable storage. Implementations
// are best effort; the registry stays authoritative for active runs.
type Persister interface {
	InsertRun(ctx context.Context, r *run.Run) error
	CompleteRun(ctx context.Context, r *run.Run) error
}

// Registry is the process-wide table of known runs.
type Registry struct {
	mu        sync.RWMutex
	runs      map[uuid.UUID]*run.Run
	persister Persister
	log       *logger.Logger
}

// NewRegistry creates a registry. persister may be nil.
func NewRegistry(persister Persister) *Registry {
	return &Registry{
		runs:      make(map[uuid.UUID]*run.Run),
		persister: persister,
		log:       logger.Get().With("component", "run_registry"),
	}
}

// Start records a new run in the running state and persists its row.
func (r *Registry) Start(ctx context.Context, rec *run.Run) error {
	r.mu.Lock()
	if _, exists := r.runs[rec.ID]; exists {
		r.mu.Unlock()
		return errors.Wrapf(errors.ErrAlreadyExists, "run %s", rec.ID)
	}
	rec.Status = run.StatusRunning
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	r.runs[rec.ID] = rec
	r.mu.Unlock()

	if r.persister != nil {
		if err := r.persister.InsertRun(ctx, rec); err != nil {
			r.log.Warnw("run row insert failed", "run_id", rec.ID, "error", err)
		}
	}
	return nil
}

// Get returns a copy of the run record.
func (r *Registry) Get(id uuid.UUID) (*run.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.runs[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrRunNotFound, "run %s", id)
	}
	c := *rec
	return &c, nil
}

// ListActive returns copies of all non-terminal runs.
func (r *Registry) ListActive() []*run.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]*run.Run, 0, len(r.runs))
	for _, rec := range r.runs {
		if !rec.Status.Terminal() {
			c := *rec
			active = append(active, &c)
		}
	}
	return active
}

// Complete marks a run successful and attaches its decision.
func (r *Registry) Complete(ctx context.Context, id uuid.UUID, decision *run.Decision) error {
	return r.finish(ctx, id, func(rec *run.Run) {
		rec.Status = run.StatusComplete
		rec.Decision = decision
	})
}

// Fail marks a run failed with its error message.
func (r *Registry) Fail(ctx context.Context, id uuid.UUID, message string) error {
	return r.finish(ctx, id, func(rec *run.Run) {
		rec.Status = run.StatusFailed
		rec.Error = message
	})
}

func (r *Registry) finish(ctx context.Context, id uuid.UUID, apply func(*run.Run)) error {
	r.mu.Lock()
	rec, ok := r.runs[id]
	if !ok {
		r.mu.Unlock()
		return errors.Wrapf(errors.ErrRunNotFound, "run %s", id)
	}
	if rec.Status.Terminal() {
		r.mu.Unlock()
		return errors.Wrapf(errors.ErrRunTerminal, "run %s is already %s", id, rec.Status)
	}
	apply(rec)
	rec.CompletedAt = time.Now()
	c := *rec
	r.mu.Unlock()

	if r.persister != nil {
		if err := r.persister.CompleteRun(ctx, &c); err != nil {
			r.log.Warnw("run completion persist failed", "run_id", id, "error", err)
		}
	}
	return nil
}

// EvictExpired removes terminal runs whose retention window has passed and
// returns how many were dropped.
func (r *Registry) EvictExpired(now time.Time, retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, rec := range r.runs {
		if rec.Status.Terminal() && now.Sub(rec.CompletedAt) > retention {
			delete(r.runs, id)
			evicted++
		}
	}
	return evicted
}
