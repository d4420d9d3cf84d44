package sfu

import (
	"context"
	"sync"

	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// Mixed lets browser peers and simulated participants share a room. Streams
// of participants for which IsReal reports true are negotiated by the pion
// engine, every other stream by the simulated one.
type Mixed struct {
	Real *Engine
	Sim  *Simulated
	// IsReal reports whether a participant is driven by a real client.
	IsReal func(domain.RoomID, domain.ParticipantID) bool

	mu    sync.Mutex
	owner map[string]core.MediaEngine
}

func NewMixed(engine *Engine, sim *Simulated, isReal func(domain.RoomID, domain.ParticipantID) bool) *Mixed {
	return &Mixed{
		Real:   engine,
		Sim:    sim,
		IsReal: isReal,
		owner:  make(map[string]core.MediaEngine),
	}
}

func (m *Mixed) drivesReal(room domain.RoomID, id domain.ParticipantID) bool {
	return m.IsReal != nil && m.IsReal(room, id)
}

func (m *Mixed) backend(ref core.StreamRef) core.MediaEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.owner[ref.Key()]; ok {
		return b
	}
	return nil
}

func (m *Mixed) ConfirmActive(ctx context.Context, ref core.StreamRef) bool {
	var b core.MediaEngine = m.Sim
	if m.drivesReal(ref.Room, ref.Participant) {
		b = m.Real
	}
	m.mu.Lock()
	m.owner[ref.Key()] = b
	m.mu.Unlock()

	log.Debug().Str("module", "sfu.mixed").Str("stream", string(ref.Stream)).Bool("real", b == core.MediaEngine(m.Real)).Msg("negotiating")
	return b.ConfirmActive(ctx, ref)
}

func (m *Mixed) Destroy(ref core.StreamRef) {
	m.mu.Lock()
	b, ok := m.owner[ref.Key()]
	delete(m.owner, ref.Key())
	m.mu.Unlock()
	if !ok {
		m.Real.Destroy(ref)
		m.Sim.Destroy(ref)
		return
	}
	b.Destroy(ref)
}

func (m *Mixed) OnStreamFailed(fn func(core.StreamRef)) {
	m.Real.OnStreamFailed(fn)
	m.Sim.OnStreamFailed(fn)
}

// Attach forwards real media only between real peers. Simulated streams are
// attached in the simulated engine; a simulated subscriber of a real stream
// receives nothing.
func (m *Mixed) Attach(ref core.StreamRef, handle domain.SubscriptionHandle) error {
	switch m.backend(ref) {
	case core.MediaEngine(m.Real):
		if !m.drivesReal(ref.Room, handle.Subscriber) {
			return nil
		}
		return m.Real.Attach(ref, handle)
	default:
		return m.Sim.Attach(ref, handle)
	}
}

func (m *Mixed) Detach(ref core.StreamRef, handle domain.SubscriptionHandle) {
	if m.backend(ref) == core.MediaEngine(m.Real) {
		m.Real.Detach(ref, handle)
		return
	}
	m.Sim.Detach(ref, handle)
}

// Subscribers reports how many subscribers receive the stream.
func (m *Mixed) Subscribers(ref core.StreamRef) int {
	if m.backend(ref) == core.MediaEngine(m.Real) {
		return m.Real.Subscribers(ref)
	}
	return m.Sim.Attached(ref)
}

var (
	_ core.MediaEngine      = (*Mixed)(nil)
	_ core.SubscriptionSink = (*Mixed)(nil)
)
