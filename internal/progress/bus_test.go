package progress

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minerva/pkg/errors"
)

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestSubscribeUnknownRun(t *testing.T) {
	bus := NewBus(0, 0)

	_, err := bus.Subscribe(uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRunNotFound))
}

func TestPublishAndReplayInOrder(t *testing.T) {
	bus := NewBus(16, time.Minute)
	runID := uuid.New()
	bus.Register(runID)

	require.NoError(t, bus.Publish(runID, Event{Stage: StageAnalysts, Label: "market_analyst", Percent: 10}))
	require.NoError(t, bus.Publish(runID, Event{Stage: StageDebate, Label: "bull", Percent: 60}))
	require.NoError(t, bus.Publish(runID, Event{Stage: StageComplete, Label: "complete", Percent: 100}))

	events := collect(mustSubscribe(t, bus, runID))
	require.Len(t, events, 3)
	assert.Equal(t, StageAnalysts, events[0].Stage)
	assert.Equal(t, StageDebate, events[1].Stage)
	assert.Equal(t, StageComplete, events[2].Stage)
}

func TestTimestampsMonotonic(t *testing.T) {
	bus := NewBus(64, time.Minute)
	runID := uuid.New()
	bus.Register(runID)

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(runID, Event{Stage: StageAnalysts, Label: "tick", Iteration: i}))
	}
	require.NoError(t, bus.Publish(runID, Event{Stage: StageComplete}))

	events := collect(mustSubscribe(t, bus, runID))
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}

func TestLiveTailAfterReplay(t *testing.T) {
	bus := NewBus(16, time.Minute)
	runID := uuid.New()
	bus.Register(runID)

	require.NoError(t, bus.Publish(runID, Event{Stage: StageAnalysts, Label: "market_analyst"}))

	sub := mustSubscribe(t, bus, runID)

	require.NoError(t, bus.Publish(runID, Event{Stage: StageTrader, Label: "trader"}))
	require.NoError(t, bus.Publish(runID, Event{Stage: StageComplete}))

	events := collect(sub)
	require.Len(t, events, 3)
	assert.Equal(t, "market_analyst", events[0].Label)
	assert.Equal(t, "trader", events[1].Label)
	assert.Equal(t, StageComplete, events[2].Stage)
}

func TestExactlyOneTerminalEvent(t *testing.T) {
	bus := NewBus(16, time.Minute)
	runID := uuid.New()
	bus.Register(runID)

	require.NoError(t, bus.Publish(runID, Event{Stage: StageComplete}))
	// Publishes after the terminal event are dropped, not duplicated.
	require.NoError(t, bus.Publish(runID, Event{Stage: StageError}))

	events := collect(mustSubscribe(t, bus, runID))
	terminal := 0
	for _, ev := range events {
		if ev.Stage.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestRepeatedSubscriptionsYieldIdenticalSequences(t *testing.T) {
	bus := NewBus(32, time.Minute)
	runID := uuid.New()
	bus.Register(runID)

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(runID, Event{Stage: StageAnalysts, Label: fmt.Sprintf("step_%d", i)}))
	}
	require.NoError(t, bus.Publish(runID, Event{Stage: StageComplete}))

	first := collect(mustSubscribe(t, bus, runID))
	for i := 0; i < 3; i++ {
		again := collect(mustSubscribe(t, bus, runID))
		assert.Equal(t, first, again)
	}
}

func TestBufferOverflowEmitsSingleSyntheticEvent(t *testing.T) {
	bus := NewBus(8, time.Minute)
	runID := uuid.New()
	bus.Register(runID)

	for i := 0; i < 50; i++ {
		require.NoError(t, bus.Publish(runID, Event{Stage: StageAnalysts, Label: "tick", Iteration: i}))
	}
	require.NoError(t, bus.Publish(runID, Event{Stage: StageComplete}))

	events := collect(mustSubscribe(t, bus, runID))
	overflow := 0
	for _, ev := range events {
		if ev.Label == "buffer_overflow" {
			overflow++
		}
	}
	assert.Equal(t, 1, overflow)
	assert.Equal(t, "buffer_overflow", events[0].Label, "overflow notice leads the replay")
	assert.LessOrEqual(t, len(events), 9)
	assert.Equal(t, StageComplete, events[len(events)-1].Stage)
}

func TestOverflowReplayTimestampsMonotonic(t *testing.T) {
	bus := NewBus(4, time.Minute)
	runID := uuid.New()
	bus.Register(runID)

	for i := 0; i < 7; i++ {
		require.NoError(t, bus.Publish(runID, Event{Stage: StageAnalysts, Label: "tick", Iteration: i}))
	}
	require.NoError(t, bus.Publish(runID, Event{Stage: StageComplete}))

	events := collect(mustSubscribe(t, bus, runID))
	require.Equal(t, "buffer_overflow", events[0].Label)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp),
			"event %d (%s) precedes event %d (%s)", i, events[i].Label, i-1, events[i-1].Label)
	}
}

func TestStalledSubscriberChannelCloses(t *testing.T) {
	bus := NewBus(4, time.Minute)
	runID := uuid.New()
	bus.Register(runID)

	sub := mustSubscribe(t, bus, runID)

	// Never drain; one publish past the channel capacity cuts the laggard.
	for i := 0; i < 4+subscriberSlack+1; i++ {
		require.NoError(t, bus.Publish(runID, Event{Stage: StageAnalysts, Label: "tick", Iteration: i}))
	}

	events := collect(sub)
	require.Len(t, events, 4+subscriberSlack)
	assert.False(t, events[len(events)-1].Stage.Terminal(), "stream cut before a terminal event signals truncation")

	// A fresh subscription recovers the retained history.
	require.NoError(t, bus.Publish(runID, Event{Stage: StageComplete}))
	again := collect(mustSubscribe(t, bus, runID))
	require.NotEmpty(t, again)
	assert.Equal(t, StageComplete, again[len(again)-1].Stage)
}

func TestSweepExpiresTerminatedChannels(t *testing.T) {
	bus := NewBus(8, time.Minute)
	runID := uuid.New()
	bus.Register(runID)
	require.NoError(t, bus.Publish(runID, Event{Stage: StageComplete}))

	// Within retention the channel remains readable.
	assert.Equal(t, 0, bus.Sweep(time.Now()))
	_, err := bus.Subscribe(runID)
	require.NoError(t, err)

	// Beyond retention it is gone.
	assert.Equal(t, 1, bus.Sweep(time.Now().Add(2*time.Minute)))
	_, err = bus.Subscribe(runID)
	assert.True(t, errors.Is(err, errors.ErrRunNotFound))
}

func TestActiveRunNotSwept(t *testing.T) {
	bus := NewBus(8, time.Minute)
	runID := uuid.New()
	bus.Register(runID)
	require.NoError(t, bus.Publish(runID, Event{Stage: StageAnalysts}))

	assert.Equal(t, 0, bus.Sweep(time.Now().Add(time.Hour)))
}

func mustSubscribe(t *testing.T, bus *Bus, runID uuid.UUID) <-chan Event {
	t.Helper()
	ch, err := bus.Subscribe(runID)
	require.NoError(t, err)
	return ch
}
