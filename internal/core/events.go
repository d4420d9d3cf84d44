package core

import (
	"sync"

	"github.com/dkeye/Rooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// eventQueue delivers room events to a Notifier in push order without ever
// blocking the pusher.
type eventQueue struct {
	sink Notifier

	mu      sync.Mutex
	pending []domain.Event
	closed  bool
	wake    chan struct{}
}

func newEventQueue(sink Notifier) *eventQueue {
	q := &eventQueue{sink: sink, wake: make(chan struct{}, 1)}
	if sink != nil {
		go q.run()
	}
	return q
}

func (q *eventQueue) push(ev domain.Event) {
	if q.sink == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops the queue after already pushed events were delivered.
func (q *eventQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	for range q.wake {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, ev := range batch {
			q.deliver(ev)
		}
		if closed {
			return
		}
	}
}

func (q *eventQueue) deliver(ev domain.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("module", "core.events").Interface("panic", rec).Str("type", string(ev.Type)).Msg("notifier panicked")
		}
	}()
	q.sink.Notify(ev)
}
