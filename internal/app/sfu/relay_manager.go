package sfu

import (
	"context"
	"sync"

	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// RelayManager keeps one relay per published stream, keyed by StreamRef.Key.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[string]*Relay),
	}
}

// StartRelay creates a new Relay for the stream and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, ref core.StreamRef, read PacketReader, onFail func()) {
	logger := log.With().
		Str("module", "relay").
		Str("room", string(ref.Room)).
		Str("stream", string(ref.Stream)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(read, cancel, onFail)

	key := ref.Key()
	m.mu.Lock()
	if old, ok := m.relays[key]; ok {
		logger.Info().Msg("replacing existing relay for stream")
		old.markAllDelete()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[key] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
}

// AddSubscriber attaches an OutTrack for dst to the relay of the stream.
func (m *RelayManager) AddSubscriber(ref core.StreamRef, dst domain.ParticipantID, ot *OutTrack) bool {
	m.mu.RLock()
	relay, ok := m.relays[ref.Key()]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutTrack(dst, ot)
	return true
}

// MarkSubscriberDelete marks the subscriber's OutTrack as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(ref core.StreamRef, dst domain.ParticipantID) {
	m.mu.RLock()
	relay, ok := m.relays[ref.Key()]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if ot, ok := relay.outTrack(dst); ok {
		ot.MarkDelete()
	}
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(ref core.StreamRef) {
	m.mu.Lock()
	relay, ok := m.relays[ref.Key()]
	if ok {
		delete(m.relays, ref.Key())
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	if relay.cancel != nil {
		relay.cancel()
	}
}

func (m *RelayManager) HasRelay(ref core.StreamRef) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[ref.Key()]
	return ok
}

// Subscribers reports the live out tracks of a stream.
func (m *RelayManager) Subscribers(ref core.StreamRef) int {
	m.mu.RLock()
	relay, ok := m.relays[ref.Key()]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return relay.Live()
}
