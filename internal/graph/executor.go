package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"minerva/internal/agents/state"
	"minerva/internal/metrics"
	"minerva/internal/progress"
	"minerva/pkg/errors"
	"minerva/pkg/logger"
)

const (
	defaultMaxRetries  = 2
	defaultBackoffBase = time.Second
	defaultMaxSteps    = 256
	defaultNodeTimeout = 3 * time.Minute
)

// Executor walks a graph sequentially for one run, publishing a progress
// event before each node and retrying transient node failures with
// exponential backoff.
type Executor struct {
	bus *progress.Bus
	log *logger.Logger

	// MaxRetries is the number of attempts after the first failure.
	MaxRetries int
	// BackoffBase is the delay before the first retry; it doubles per attempt.
	BackoffBase time.Duration
	// MaxSteps bounds total node executions per run to guard against
	// routers that never converge.
	MaxSteps int
}

// NewExecutor creates an executor with default retry and step budgets.
func NewExecutor(bus *progress.Bus) *Executor {
	return &Executor{
		bus:         bus,
		log:         logger.Get().With("component", "graph_executor"),
		MaxRetries:  defaultMaxRetries,
		BackoffBase: defaultBackoffBase,
		MaxSteps:    defaultMaxSteps,
	}
}

// Run executes the graph from its entry node until End. The terminal
// complete or error event is the caller's responsibility: the executor only
// publishes intermediate node progress and retry warnings.
func (e *Executor) Run(ctx context.Context, g *Graph, runID uuid.UUID, st *state.State) error {
	if err := g.Validate(); err != nil {
		return err
	}

	current := g.entry
	steps := 0

	for current != End {
		steps++
		if steps > e.MaxSteps {
			return errors.Wrapf(errors.ErrGraphCycle, "run %s exceeded %d steps at node %q", runID, e.MaxSteps, current)
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(errors.ErrTimeout, "run %s cancelled before node %q", runID, current)
		}

		node := g.nodes[current]
		e.publish(runID, progress.Event{
			Stage:   node.Stage,
			Label:   node.Label,
			Percent: node.Percent,
		})

		start := time.Now()
		err := e.invoke(ctx, runID, node, st)
		metrics.NodeDuration.WithLabelValues(node.Name).Observe(time.Since(start).Seconds())
		e.log.Debugw("node finished",
			"run_id", runID,
			"node", node.Name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		if err != nil {
			return errors.Wrapf(err, "node %q", node.Name)
		}

		next, err := g.next(current, st.Snapshot())
		if err != nil {
			return err
		}
		current = next
	}

	return nil
}

// invoke runs a single node with its per-node timeout, retrying transient
// failures up to MaxRetries times.
func (e *Executor) invoke(ctx context.Context, runID uuid.UUID, node Node, st *state.State) error {
	timeout := node.Timeout
	if timeout <= 0 {
		timeout = defaultNodeTimeout
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		nctx, cancel := context.WithTimeout(ctx, timeout)
		err := node.Run(nctx, st)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Wrapf(errors.ErrTimeout, "node %q timed out after %s", node.Name, timeout)
		}
		lastErr = err

		if !errors.IsTransient(err) || attempt >= e.MaxRetries {
			return lastErr
		}

		backoff := e.BackoffBase << uint(attempt)
		e.publish(runID, progress.Event{
			Stage:     progress.StageWarning,
			Label:     node.Label,
			Percent:   node.Percent,
			Message:   fmt.Sprintf("retrying %s after transient failure: %v", node.Name, err),
			Iteration: attempt + 1,
		})
		e.log.Warnw("retrying node",
			"run_id", runID,
			"node", node.Name,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return errors.Wrapf(errors.ErrTimeout, "run %s cancelled while retrying node %q", runID, node.Name)
		}
	}
}

func (e *Executor) publish(runID uuid.UUID, ev progress.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(runID, ev); err != nil {
		e.log.Debugw("progress publish skipped", "run_id", runID, "error", err)
	}
}
