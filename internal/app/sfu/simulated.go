package sfu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// Simulated is an in-process media engine. Streams confirm after a fixed
// latency unless their kind is rejected; failures are injected with Fail.
type Simulated struct {
	latency time.Duration

	mu       sync.Mutex
	rejected map[domain.StreamKind]bool
	active   map[string]core.StreamRef
	attached map[string]map[domain.ParticipantID]string
	onFail   func(core.StreamRef)
}

func NewSimulated(latency time.Duration) *Simulated {
	return &Simulated{
		latency:  latency,
		rejected: make(map[domain.StreamKind]bool),
		active:   make(map[string]core.StreamRef),
		attached: make(map[string]map[domain.ParticipantID]string),
	}
}

// Reject makes every later negotiation of kind fail.
func (s *Simulated) Reject(kind domain.StreamKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[kind] = true
}

func (s *Simulated) Accept(kind domain.StreamKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rejected, kind)
}

func (s *Simulated) ConfirmActive(ctx context.Context, ref core.StreamRef) bool {
	s.mu.Lock()
	rejected := s.rejected[ref.Kind]
	s.mu.Unlock()
	if rejected {
		log.Debug().Str("module", "sfu.sim").Str("stream", string(ref.Stream)).Msg("negotiation rejected")
		return false
	}

	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return false
		}
	} else if ctx.Err() != nil {
		return false
	}

	s.mu.Lock()
	s.active[ref.Key()] = ref
	s.mu.Unlock()
	return true
}

func (s *Simulated) Destroy(ref core.StreamRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, ref.Key())
	delete(s.attached, ref.Key())
}

func (s *Simulated) OnStreamFailed(fn func(core.StreamRef)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFail = fn
}

func (s *Simulated) Attach(ref core.StreamRef, handle domain.SubscriptionHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[ref.Key()]; !ok {
		return fmt.Errorf("attach %s: %w", ref.Key(), domain.ErrStreamNotFound)
	}
	subs, ok := s.attached[ref.Key()]
	if !ok {
		subs = make(map[domain.ParticipantID]string)
		s.attached[ref.Key()] = subs
	}
	subs[handle.Subscriber] = handle.ID
	return nil
}

func (s *Simulated) Detach(ref core.StreamRef, handle domain.SubscriptionHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached[ref.Key()], handle.Subscriber)
}

// Fail degrades an active stream and reports it through the failure
// callback. It returns false when the stream is not active.
func (s *Simulated) Fail(ref core.StreamRef) bool {
	s.mu.Lock()
	stored, ok := s.active[ref.Key()]
	if ok {
		delete(s.active, ref.Key())
		delete(s.attached, ref.Key())
	}
	cb := s.onFail
	s.mu.Unlock()
	if !ok {
		return false
	}
	if cb != nil {
		cb(stored)
	}
	return true
}

func (s *Simulated) Active(ref core.StreamRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[ref.Key()]
	return ok
}

func (s *Simulated) Attached(ref core.StreamRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached[ref.Key()])
}

var (
	_ core.MediaEngine      = (*Simulated)(nil)
	_ core.SubscriptionSink = (*Simulated)(nil)
)
