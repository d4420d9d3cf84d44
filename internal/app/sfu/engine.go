package sfu

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type peerKey struct {
	room        domain.RoomID
	participant domain.ParticipantID
}

type trackWaiter struct {
	kind domain.StreamKind
	ch   chan *webrtc.TrackRemote
}

type deferredAttach struct {
	ref    core.StreamRef
	handle domain.SubscriptionHandle
}

// Engine is the pion-backed media engine. A published stream becomes active
// once a remote track of the same kind arrives on the publisher's peer
// connection; its packets are then relayed to every attached subscriber.
type Engine struct {
	ctx    context.Context
	relays *RelayManager

	mu          sync.Mutex
	peers       map[peerKey]core.MediaConnection
	pending     map[peerKey][]*webrtc.TrackRemote
	waiters     map[peerKey][]*trackWaiter
	deferred    map[peerKey][]deferredAttach
	sources     map[string]*webrtc.TrackRemote
	onFail      func(core.StreamRef)
	onNegotiate func(domain.RoomID, domain.ParticipantID)
}

// NewEngine binds relay lifetimes to ctx.
func NewEngine(ctx context.Context) *Engine {
	return &Engine{
		ctx:      ctx,
		relays:   NewRelayManager(),
		peers:    make(map[peerKey]core.MediaConnection),
		pending:  make(map[peerKey][]*webrtc.TrackRemote),
		waiters:  make(map[peerKey][]*trackWaiter),
		deferred: make(map[peerKey][]deferredAttach),
		sources:  make(map[string]*webrtc.TrackRemote),
	}
}

func (e *Engine) OnStreamFailed(fn func(core.StreamRef)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFail = fn
}

// OnNegotiationNeeded is called after local tracks were added to a
// subscriber's connection and a new offer must be sent.
func (e *Engine) OnNegotiationNeeded(fn func(domain.RoomID, domain.ParticipantID)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onNegotiate = fn
}

// RegisterPeer binds a participant's media connection to the engine so
// subscriptions can add tracks to it. Remote tracks are routed by the caller
// through HandleTrack.
func (e *Engine) RegisterPeer(room domain.RoomID, participant domain.ParticipantID, mc core.MediaConnection) {
	key := peerKey{room, participant}
	e.mu.Lock()
	e.peers[key] = mc
	todo := e.deferred[key]
	delete(e.deferred, key)
	e.mu.Unlock()

	log.Info().Str("module", "sfu").Str("room", string(room)).Str("participant", string(participant)).Int("deferred", len(todo)).Msg("peer registered")
	for _, d := range todo {
		if err := e.Attach(d.ref, d.handle); err != nil {
			log.Warn().Err(err).Str("module", "sfu").Str("stream", string(d.ref.Stream)).Msg("deferred attach failed")
		}
	}
}

func (e *Engine) UnregisterPeer(room domain.RoomID, participant domain.ParticipantID) {
	key := peerKey{room, participant}
	e.mu.Lock()
	delete(e.peers, key)
	delete(e.pending, key)
	delete(e.deferred, key)
	e.mu.Unlock()
	log.Info().Str("module", "sfu").Str("room", string(room)).Str("participant", string(participant)).Msg("peer unregistered")
}

// HandleTrack hands a remote track to a publish waiting for its kind, or
// parks it until one arrives.
func (e *Engine) HandleTrack(room domain.RoomID, participant domain.ParticipantID, track *webrtc.TrackRemote) {
	key := peerKey{room, participant}
	kind := trackKind(track)

	e.mu.Lock()
	defer e.mu.Unlock()
	ws := e.waiters[key]
	if i := slices.IndexFunc(ws, func(w *trackWaiter) bool { return w.kind == kind }); i >= 0 {
		w := ws[i]
		e.waiters[key] = slices.Delete(ws, i, i+1)
		w.ch <- track
		return
	}
	e.pending[key] = append(e.pending[key], track)
	log.Debug().Str("module", "sfu").Str("participant", string(participant)).Str("kind", kind.String()).Msg("track parked")
}

func (e *Engine) takePendingLocked(key peerKey, kind domain.StreamKind) *webrtc.TrackRemote {
	ps := e.pending[key]
	i := slices.IndexFunc(ps, func(t *webrtc.TrackRemote) bool { return trackKind(t) == kind })
	if i < 0 {
		return nil
	}
	t := ps[i]
	e.pending[key] = slices.Delete(ps, i, i+1)
	return t
}

func (e *Engine) ConfirmActive(ctx context.Context, ref core.StreamRef) bool {
	key := peerKey{ref.Room, ref.Participant}

	e.mu.Lock()
	if t := e.takePendingLocked(key, ref.Kind); t != nil {
		e.mu.Unlock()
		e.startRelay(ref, t)
		return true
	}
	w := &trackWaiter{kind: ref.Kind, ch: make(chan *webrtc.TrackRemote, 1)}
	e.waiters[key] = append(e.waiters[key], w)
	e.mu.Unlock()

	select {
	case t := <-w.ch:
		e.startRelay(ref, t)
		return true
	case <-ctx.Done():
		e.mu.Lock()
		defer e.mu.Unlock()
		ws := e.waiters[key]
		if i := slices.Index(ws, w); i >= 0 {
			e.waiters[key] = slices.Delete(ws, i, i+1)
			return false
		}
		// The track was handed over concurrently; keep it for the next publish.
		e.pending[key] = append(e.pending[key], <-w.ch)
		return false
	}
}

func (e *Engine) startRelay(ref core.StreamRef, t *webrtc.TrackRemote) {
	e.mu.Lock()
	e.sources[ref.Key()] = t
	e.mu.Unlock()

	read := func() (*rtp.Packet, error) {
		p, _, err := t.ReadRTP()
		return p, err
	}
	e.relays.StartRelay(e.ctx, ref, read, func() { e.fail(ref) })
}

func (e *Engine) fail(ref core.StreamRef) {
	e.mu.Lock()
	delete(e.sources, ref.Key())
	cb := e.onFail
	e.mu.Unlock()
	if cb != nil {
		cb(ref)
	}
}

func (e *Engine) Destroy(ref core.StreamRef) {
	log.Debug().Str("module", "sfu").Str("stream", string(ref.Stream)).Int("subscribers", e.relays.Subscribers(ref)).Msg("destroying stream")
	e.relays.StopRelay(ref)
	e.mu.Lock()
	delete(e.sources, ref.Key())
	e.mu.Unlock()
}

// Subscribers reports the live out tracks of a relayed stream.
func (e *Engine) Subscribers(ref core.StreamRef) int { return e.relays.Subscribers(ref) }

// Attach adds a local copy of the stream to the subscriber's connection.
// Subscribers without a registered peer are attached on registration.
func (e *Engine) Attach(ref core.StreamRef, handle domain.SubscriptionHandle) error {
	key := peerKey{ref.Room, handle.Subscriber}

	e.mu.Lock()
	src, ok := e.sources[ref.Key()]
	mc, hasPeer := e.peers[key]
	if ok && !hasPeer {
		e.deferred[key] = append(e.deferred[key], deferredAttach{ref: ref, handle: handle})
	}
	negotiate := e.onNegotiate
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("attach %s: %w", ref.Key(), domain.ErrStreamNotFound)
	}
	if !hasPeer {
		return nil
	}

	local, err := webrtc.NewTrackLocalStaticRTP(src.Codec().RTPCodecCapability, string(ref.Stream), string(ref.Participant))
	if err != nil {
		return fmt.Errorf("attach %s: %w", ref.Key(), err)
	}
	if _, err := mc.AddLocalTrack(local); err != nil {
		return fmt.Errorf("attach %s: %w", ref.Key(), err)
	}
	if !e.relays.AddSubscriber(ref, handle.Subscriber, NewOutTrack(local, handle.ID)) {
		return fmt.Errorf("attach %s: %w", ref.Key(), domain.ErrStreamNotFound)
	}
	if negotiate != nil {
		negotiate(ref.Room, handle.Subscriber)
	}
	return nil
}

func (e *Engine) Detach(ref core.StreamRef, handle domain.SubscriptionHandle) {
	e.relays.MarkSubscriberDelete(ref, handle.Subscriber)

	key := peerKey{ref.Room, handle.Subscriber}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deferred[key] = slices.DeleteFunc(e.deferred[key], func(d deferredAttach) bool {
		return d.handle.ID == handle.ID
	})
}

func trackKind(t *webrtc.TrackRemote) domain.StreamKind {
	if t.Kind() == webrtc.RTPCodecTypeAudio {
		return domain.KindAudio
	}
	if strings.Contains(strings.ToLower(t.StreamID()), "screen") || strings.Contains(strings.ToLower(t.ID()), "screen") {
		return domain.KindScreen
	}
	return domain.KindVideo
}

var (
	_ core.MediaEngine      = (*Engine)(nil)
	_ core.SubscriptionSink = (*Engine)(nil)
)
