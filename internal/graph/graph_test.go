package graph

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minerva/internal/agents/state"
	"minerva/internal/domain/run"
	"minerva/internal/progress"
	"minerva/pkg/errors"
)

func newRunState() *state.State {
	return state.New(uuid.New(), run.Config{Symbol: "AAPL", TradeDate: "2026-08-25"})
}

func newTestExecutor(bus *progress.Bus) *Executor {
	e := NewExecutor(bus)
	e.BackoffBase = time.Millisecond
	return e
}

func noopNode(name string) Node {
	return Node{
		Name:  name,
		Stage: progress.StageAnalysts,
		Run:   func(ctx context.Context, st *state.State) error { return nil },
	}
}

func TestValidateRequiresEntryAndSuccessors(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(noopNode("a")))

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry")

	require.NoError(t, g.AddEdge(Start, "a"))
	err = g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outgoing")

	require.NoError(t, g.AddEdge("a", End))
	require.NoError(t, g.Validate())
}

func TestDuplicateEdgesRejected(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(noopNode("a")))
	require.NoError(t, g.AddNode(noopNode("b")))
	require.NoError(t, g.AddEdge("a", "b"))

	assert.True(t, errors.Is(g.AddEdge("a", End), errors.ErrAlreadyExists))
	assert.True(t, errors.Is(g.AddConditionalEdge("a", func(state.Snapshot) string { return End }), errors.ErrAlreadyExists))
}

func TestRunVisitsNodesInOrder(t *testing.T) {
	g := New()
	var visited []string
	record := func(name string) Node {
		return Node{
			Name:  name,
			Stage: progress.StageAnalysts,
			Run: func(ctx context.Context, st *state.State) error {
				visited = append(visited, name)
				return nil
			},
		}
	}
	require.NoError(t, g.AddNode(record("a")))
	require.NoError(t, g.AddNode(record("b")))
	require.NoError(t, g.AddNode(record("c")))
	require.NoError(t, g.AddEdge(Start, "a"))
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("c", End))

	err := newTestExecutor(nil).Run(context.Background(), g, uuid.New(), newRunState())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, visited)
}

func TestConditionalRoutingLoops(t *testing.T) {
	g := New()
	count := 0
	loop := Node{
		Name:  "loop",
		Stage: progress.StageDebate,
		Run: func(ctx context.Context, st *state.State) error {
			count++
			return nil
		},
	}
	require.NoError(t, g.AddNode(loop))
	require.NoError(t, g.AddEdge(Start, "loop"))
	require.NoError(t, g.AddConditionalEdge("loop", func(state.Snapshot) string {
		if count < 3 {
			return "loop"
		}
		return End
	}))

	err := newTestExecutor(nil).Run(context.Background(), g, uuid.New(), newRunState())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestStepBudgetGuardsRunawayRouters(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(noopNode("loop")))
	require.NoError(t, g.AddEdge(Start, "loop"))
	require.NoError(t, g.AddConditionalEdge("loop", func(state.Snapshot) string { return "loop" }))

	e := newTestExecutor(nil)
	e.MaxSteps = 10
	err := e.Run(context.Background(), g, uuid.New(), newRunState())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrGraphCycle))
}

func TestTransientErrorsRetriedThenSucceed(t *testing.T) {
	g := New()
	attempts := 0
	flaky := Node{
		Name:  "flaky",
		Stage: progress.StageAnalysts,
		Run: func(ctx context.Context, st *state.State) error {
			attempts++
			if attempts < 3 {
				return errors.Wrap(errors.ErrTransientModel, "upstream 503")
			}
			return nil
		},
	}
	require.NoError(t, g.AddNode(flaky))
	require.NoError(t, g.AddEdge(Start, "flaky"))
	require.NoError(t, g.AddEdge("flaky", End))

	err := newTestExecutor(nil).Run(context.Background(), g, uuid.New(), newRunState())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestTransientErrorsExhaustRetries(t *testing.T) {
	g := New()
	attempts := 0
	failing := Node{
		Name:  "failing",
		Stage: progress.StageAnalysts,
		Run: func(ctx context.Context, st *state.State) error {
			attempts++
			return errors.Wrap(errors.ErrTransientModel, "upstream 503")
		},
	}
	require.NoError(t, g.AddNode(failing))
	require.NoError(t, g.AddEdge(Start, "failing"))
	require.NoError(t, g.AddEdge("failing", End))

	err := newTestExecutor(nil).Run(context.Background(), g, uuid.New(), newRunState())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransientModel))
	assert.Equal(t, 3, attempts) // first attempt plus two retries
}

func TestFatalErrorsNotRetried(t *testing.T) {
	g := New()
	attempts := 0
	fatal := Node{
		Name:  "fatal",
		Stage: progress.StageAnalysts,
		Run: func(ctx context.Context, st *state.State) error {
			attempts++
			return errors.Wrap(errors.ErrFatalNode, "bad prompt")
		},
	}
	require.NoError(t, g.AddNode(fatal))
	require.NoError(t, g.AddEdge(Start, "fatal"))
	require.NoError(t, g.AddEdge("fatal", End))

	err := newTestExecutor(nil).Run(context.Background(), g, uuid.New(), newRunState())
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestProgressPublishedBeforeEachNodeAndOnRetry(t *testing.T) {
	bus := progress.NewBus(64, time.Minute)
	runID := uuid.New()
	bus.Register(runID)

	g := New()
	attempts := 0
	flaky := Node{
		Name:    "flaky",
		Stage:   progress.StageAnalysts,
		Label:   "market_analyst",
		Percent: 10,
		Run: func(ctx context.Context, st *state.State) error {
			attempts++
			if attempts == 1 {
				return errors.Wrap(errors.ErrTransientModel, "upstream 503")
			}
			return nil
		},
	}
	require.NoError(t, g.AddNode(flaky))
	require.NoError(t, g.AddEdge(Start, "flaky"))
	require.NoError(t, g.AddEdge("flaky", End))

	require.NoError(t, newTestExecutor(bus).Run(context.Background(), g, runID, newRunState()))
	require.NoError(t, bus.Publish(runID, progress.Event{Stage: progress.StageComplete, Percent: 100}))

	var events []progress.Event
	for ev := range mustSubscribe(t, bus, runID) {
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, progress.StageAnalysts, events[0].Stage)
	assert.Equal(t, "market_analyst", events[0].Label)
	assert.Equal(t, progress.StageWarning, events[1].Stage)
	assert.Equal(t, 1, events[1].Iteration)
	assert.Equal(t, progress.StageComplete, events[2].Stage)
}

func TestNodeTimeoutMapsToTimeoutError(t *testing.T) {
	g := New()
	slow := Node{
		Name:    "slow",
		Stage:   progress.StageAnalysts,
		Timeout: 5 * time.Millisecond,
		Run: func(ctx context.Context, st *state.State) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				return nil
			}
		},
	}
	require.NoError(t, g.AddNode(slow))
	require.NoError(t, g.AddEdge(Start, "slow"))
	require.NoError(t, g.AddEdge("slow", End))

	err := newTestExecutor(nil).Run(context.Background(), g, uuid.New(), newRunState())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTimeout))
}

func mustSubscribe(t *testing.T, bus *progress.Bus, runID uuid.UUID) <-chan progress.Event {
	t.Helper()
	ch, err := bus.Subscribe(runID)
	require.NoError(t, err)
	return ch
}
