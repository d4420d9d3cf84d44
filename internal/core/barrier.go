package core

import (
	"fmt"

	"github.com/dkeye/Rooms/internal/domain"
)

// barrier is a countdown released once the expected transitions were
// observed. It is owned by a room and only touched under the room lock.
type barrier struct {
	transition domain.ParticipantState
	// pending is nil for count-only barriers.
	pending   map[domain.ParticipantID]struct{}
	remaining int
	done      chan struct{}
}

func newBarrier(exp Expectation, reg *ParticipantRegistry) (*barrier, error) {
	if exp.Transition != domain.ParticipantActive && exp.Transition != domain.ParticipantLeft {
		return nil, fmt.Errorf("%w: transition %s", domain.ErrInvalidExpectation, exp.Transition)
	}
	b := &barrier{transition: exp.Transition, done: make(chan struct{})}

	if len(exp.Participants) == 0 {
		if exp.Count <= 0 {
			return nil, fmt.Errorf("%w: no participants and count %d", domain.ErrInvalidExpectation, exp.Count)
		}
		b.remaining = exp.Count
		return b, nil
	}

	b.pending = make(map[domain.ParticipantID]struct{}, len(exp.Participants))
	for _, id := range exp.Participants {
		if reached(reg, id, exp.Transition) {
			continue
		}
		b.pending[id] = struct{}{}
	}
	b.remaining = len(b.pending)
	if b.remaining == 0 {
		close(b.done)
	}
	return b, nil
}

func reached(reg *ParticipantRegistry, id domain.ParticipantID, want domain.ParticipantState) bool {
	m, ok := reg.Get(id)
	if want == domain.ParticipantLeft {
		return !ok || m.state == domain.ParticipantLeft
	}
	return ok && m.state == want
}

// observe counts one transition and reports whether it released the barrier.
func (b *barrier) observe(id domain.ParticipantID, state domain.ParticipantState) bool {
	if state != b.transition || b.remaining == 0 {
		return false
	}
	if b.pending != nil {
		if _, ok := b.pending[id]; !ok {
			return false
		}
		delete(b.pending, id)
	}
	b.remaining--
	if b.remaining == 0 {
		close(b.done)
		return true
	}
	return false
}

func (b *barrier) released() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
