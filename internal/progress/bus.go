package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"minerva/pkg/errors"
	"minerva/pkg/logger"
)

const (
	// DefaultBufferSize bounds the per-run replay buffer.
	DefaultBufferSize = 512

	// DefaultRetention keeps a terminated channel readable before GC.
	DefaultRetention = 30 * time.Minute

	// subscriber channels get headroom over the replay buffer so a live
	// burst does not immediately stall a fresh subscriber
	subscriberSlack = 64
)

// Bus is the process-wide progress hub. Channels are per-run; the bus map is
// guarded by a read-write lock, each channel by its own mutex.
type Bus struct {
	mu        sync.RWMutex
	channels  map[uuid.UUID]*runChannel
	bufSize   int
	retention time.Duration
	log       *logger.Logger
}

type runChannel struct {
	mu         sync.Mutex
	runID      uuid.UUID
	cap        int
	buf           []Event
	overflowed    bool
	overflowEvent Event
	subs          map[int]chan Event
	nextSubID     int
	closed        bool
	closedAt      time.Time
}

// NewBus creates a progress bus. Zero values select the defaults.
func NewBus(bufSize int, retention time.Duration) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Bus{
		channels:  make(map[uuid.UUID]*runChannel),
		bufSize:   bufSize,
		retention: retention,
		log:       logger.Get().With("component", "progress_bus"),
	}
}

// Register creates the event channel for a run. Idempotent.
func (b *Bus) Register(runID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.channels[runID]; ok {
		return
	}
	b.channels[runID] = &runChannel{
		runID: runID,
		cap:   b.bufSize,
		subs:  make(map[int]chan Event),
	}
}

// Publish appends an event to the run's log and fans it out to live
// subscribers. Publishing a terminal event closes the stream; later publishes
// are dropped.
func (b *Bus) Publish(runID uuid.UUID, ev Event) error {
	b.mu.RLock()
	ch, ok := b.channels[runID]
	b.mu.RUnlock()

	if !ok {
		return errors.Wrapf(errors.ErrRunNotFound, "publish to run %s", runID)
	}

	ev.RunID = runID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		b.log.Warnf("Dropping event after terminal for run %s: %s/%s", runID, ev.Stage, ev.Label)
		return nil
	}

	if dropped := ch.append(ev); dropped && !ch.overflowed {
		// First drop: emit the one-shot synthetic notice. It is pinned to the
		// channel so late subscribers still see it at the head of the replay.
		ch.overflowed = true
		ch.overflowEvent = Event{
			RunID:     runID,
			Stage:     StageWarning,
			Label:     "buffer_overflow",
			Message:   "replay buffer full; oldest events dropped, fetch the persisted decision for full state",
			Timestamp: ev.Timestamp,
		}
		ch.fanOut(ch.overflowEvent)
	}
	ch.fanOut(ev)

	if ev.Stage.Terminal() {
		ch.closed = true
		ch.closedAt = ev.Timestamp
		for id, sub := range ch.subs {
			close(sub)
			delete(ch.subs, id)
		}
	}

	return nil
}

// append adds to the bounded replay buffer, reporting whether the oldest
// entry had to be dropped.
func (c *runChannel) append(ev Event) bool {
	dropped := false
	if len(c.buf) >= c.cap {
		c.buf = c.buf[1:]
		dropped = true
	}
	c.buf = append(c.buf, ev)
	return dropped
}

func (c *runChannel) fanOut(ev Event) {
	for id, sub := range c.subs {
		select {
		case sub <- ev:
		default:
			// The subscriber stopped draining its channel. Cut it loose so
			// the early close signals truncation instead of a silent gap; a
			// re-subscribe replays the buffered history.
			close(sub)
			delete(c.subs, id)
		}
	}
}

// Subscribe replays buffered history in order and then live-tails the run.
// The returned channel closes after the terminal event. Late subscribers to
// a finished (but unexpired) run receive the full buffered history.
func (b *Bus) Subscribe(runID uuid.UUID) (<-chan Event, error) {
	b.mu.RLock()
	ch, ok := b.channels[runID]
	b.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(errors.ErrRunNotFound, "subscribe to run %s", runID)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	sub := make(chan Event, ch.cap+subscriberSlack)
	if ch.overflowed {
		notice := ch.overflowEvent
		// The pinned notice was stamped when the first drop happened, which
		// may be later than the oldest event still in the buffer. Clamp it so
		// the replayed stream stays monotonic.
		if len(ch.buf) > 0 && notice.Timestamp.After(ch.buf[0].Timestamp) {
			notice.Timestamp = ch.buf[0].Timestamp
		}
		sub <- notice
	}
	for _, ev := range ch.buf {
		sub <- ev
	}

	if ch.closed {
		close(sub)
		return sub, nil
	}

	id := ch.nextSubID
	ch.nextSubID++
	ch.subs[id] = sub

	return sub, nil
}

// Sweep garbage-collects channels whose terminal event is older than the
// retention window. Returns the number of channels removed.
func (b *Bus) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for runID, ch := range b.channels {
		ch.mu.Lock()
		expired := ch.closed && now.Sub(ch.closedAt) > b.retention
		ch.mu.Unlock()

		if expired {
			delete(b.channels, runID)
			removed++
		}
	}

	if removed > 0 {
		b.log.Debugf("Swept %d expired progress channels", removed)
	}
	return removed
}

// Drop removes a run's channel immediately, regardless of retention.
func (b *Bus) Drop(runID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, runID)
}
