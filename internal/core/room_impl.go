package core

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Rooms/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// The lock is held for single transitions only; media engine calls,
// admit waits and barrier waits happen outside of it.
type roomImpl struct {
	id      domain.RoomID
	created time.Time
	media   MediaEngine
	events  *eventQueue
	now     func() time.Time

	mu       sync.Mutex
	state    domain.RoomState
	reg      *ParticipantRegistry
	holds    int
	barriers map[*barrier]struct{}
}

func NewRoomService(id domain.RoomID, media MediaEngine, sink Notifier) RoomService {
	return &roomImpl{
		id:       id,
		created:  time.Now(),
		media:    media,
		events:   newEventQueue(sink),
		now:      time.Now,
		state:    domain.RoomCreating,
		reg:      NewParticipantRegistry(),
		barriers: make(map[*barrier]struct{}),
	}
}

func (r *roomImpl) ID() domain.RoomID { return r.id }

func (r *roomImpl) State() domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *roomImpl) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.Len()
}

func (r *roomImpl) Snapshot() domain.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := domain.RoomSnapshot{
		ID:           r.id,
		State:        r.state,
		CreatedAt:    r.created,
		Participants: make([]domain.Participant, 0, r.reg.Len()),
	}
	r.reg.Each(func(m *member) {
		snap.Participants = append(snap.Participants, r.reg.snapshot(m))
	})
	return snap
}

func (r *roomImpl) Participant(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.reg.Get(id)
	if !ok {
		return domain.Participant{}, false
	}
	return r.reg.snapshot(m), true
}

func (r *roomImpl) opErr(op string, pid domain.ParticipantID, sid domain.StreamID, err error) error {
	return &domain.OpError{Op: op, Room: r.id, Participant: pid, Stream: sid, Err: err}
}

func (r *roomImpl) ref(ep domain.StreamEndpoint) StreamRef {
	return StreamRef{Room: r.id, Participant: ep.Owner, Stream: ep.ID, Kind: ep.Kind}
}

// Admit registers a participant. A previous session of the same id that is
// still LEAVING is waited for outside the lock.
func (r *roomImpl) Admit(ctx context.Context, id domain.ParticipantID, displayName string) (domain.Participant, error) {
	if err := domain.ValidateParticipantID(id); err != nil {
		return domain.Participant{}, r.opErr("admit", id, "", err)
	}
	if displayName == "" {
		displayName = string(id)
	}
	if err := domain.ValidateDisplayName(displayName); err != nil {
		return domain.Participant{}, r.opErr("admit", id, "", err)
	}

	for {
		r.mu.Lock()
		if r.state >= domain.RoomClosing {
			r.mu.Unlock()
			return domain.Participant{}, r.opErr("admit", id, "", domain.ErrRoomClosed)
		}
		m, ok := r.reg.Get(id)
		if !ok {
			break
		}
		if m.state != domain.ParticipantLeaving {
			r.mu.Unlock()
			return domain.Participant{}, r.opErr("admit", id, "", domain.ErrDuplicateParticipant)
		}
		left := m.left
		r.mu.Unlock()

		log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(id)).Msg("admit waits for previous session")
		select {
		case <-left:
		case <-ctx.Done():
			return domain.Participant{}, r.opErr("admit", id, "",
				fmt.Errorf("%w: previous session still leaving: %w", domain.ErrTimeout, ctx.Err()))
		}
	}

	// r.mu is held here.
	m, err := r.reg.Add(id, displayName, r.now())
	if err != nil {
		r.mu.Unlock()
		return domain.Participant{}, r.opErr("admit", id, "", err)
	}
	if r.state == domain.RoomCreating {
		r.state = domain.RoomActive
	}
	snap := r.reg.snapshot(m)
	count := r.reg.Len()
	r.mu.Unlock()

	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(id)).Int("participants", count).Msg("participant admitted")
	return snap, nil
}

// Activate moves an admitted participant from JOINING to ACTIVE once its
// streams and subscriptions are settled. Only this transition releases
// ACTIVE barriers.
func (r *roomImpl) Activate(id domain.ParticipantID) (domain.Participant, error) {
	r.mu.Lock()
	m, ok := r.reg.Get(id)
	if !ok || m.state != domain.ParticipantJoining {
		r.mu.Unlock()
		return domain.Participant{}, r.opErr("activate", id, "", domain.ErrUnknownParticipant)
	}
	m.state = domain.ParticipantActive
	r.observe(id, domain.ParticipantActive)
	r.events.push(domain.Event{
		Type:        domain.EventParticipantActive,
		Room:        r.id,
		Participant: id,
		DisplayName: m.displayName,
		At:          r.now(),
	})
	snap := r.reg.snapshot(m)
	r.mu.Unlock()

	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(id)).Int("streams", len(snap.Streams)).Msg("participant active")
	return snap, nil
}

// live reports whether a member may publish and subscribe: an admitted
// participant still joining, or an active one.
func live(m *member) bool {
	return m.state == domain.ParticipantJoining || m.state == domain.ParticipantActive
}

// Depart tears a participant down. Unknown, leaving and left participants
// yield NoOpDeparture.
func (r *roomImpl) Depart(id domain.ParticipantID) (domain.Departure, error) {
	r.mu.Lock()
	m, ok := r.reg.Get(id)
	if !ok || m.state == domain.ParticipantLeaving || m.state == domain.ParticipantLeft {
		r.mu.Unlock()
		log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(id)).Msg("noop departure")
		return domain.NoOpDeparture, nil
	}
	wasActive := m.state == domain.ParticipantActive
	m.state = domain.ParticipantLeaving
	refs := make([]StreamRef, 0, len(m.streams))
	for _, sid := range slices.Clone(m.streams) {
		ep, subs, ok := r.reg.RemoveStream(sid)
		if !ok {
			continue
		}
		refs = append(refs, r.ref(ep))
		r.pushStreamRemoved(domain.EventStreamUnpublished, ep, subs)
	}
	r.mu.Unlock()

	for _, ref := range refs {
		r.media.Destroy(ref)
	}

	r.mu.Lock()
	r.reg.Remove(id)
	m.state = domain.ParticipantLeft
	close(m.left)
	if wasActive {
		r.observe(id, domain.ParticipantLeft)
	} else {
		// A rolled back join never counted as a member; only waits naming it
		// are satisfied by its absence.
		r.observeAbsent(id)
	}
	r.events.push(domain.Event{Type: domain.EventParticipantLeft, Room: r.id, Participant: id, At: r.now()})
	count := r.reg.Len()
	r.mu.Unlock()

	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(id)).Int("streams", len(refs)).Int("participants", count).Msg("participant left")
	return domain.Departed, nil
}

func (r *roomImpl) UpdateDisplayName(id domain.ParticipantID, displayName string) error {
	if err := domain.ValidateDisplayName(displayName); err != nil {
		return r.opErr("rename", id, "", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.reg.Get(id)
	if !ok || !live(m) {
		return r.opErr("rename", id, "", domain.ErrUnknownParticipant)
	}
	m.displayName = displayName
	r.events.push(domain.Event{Type: domain.EventDisplayNameChanged, Room: r.id, Participant: id, DisplayName: displayName, At: r.now()})
	return nil
}

// Publish registers an inactive endpoint, waits for the media engine and
// activates it. Failed negotiations leave nothing behind.
func (r *roomImpl) Publish(ctx context.Context, id domain.ParticipantID, kind domain.StreamKind) (domain.StreamEndpoint, error) {
	r.mu.Lock()
	m, ok := r.reg.Get(id)
	if !ok || !live(m) {
		r.mu.Unlock()
		return domain.StreamEndpoint{}, r.opErr("publish", id, "", domain.ErrUnknownParticipant)
	}
	ep, err := r.reg.AddStream(id, kind, r.now())
	r.mu.Unlock()
	if err != nil {
		return domain.StreamEndpoint{}, r.opErr("publish", id, "", err)
	}

	ref := r.ref(ep)
	confirmed := r.media.ConfirmActive(ctx, ref)

	r.mu.Lock()
	if _, ok := r.reg.Stream(ep.ID); !ok {
		// Torn down by a concurrent depart, which already destroyed the media.
		r.mu.Unlock()
		return domain.StreamEndpoint{}, r.opErr("publish", id, ep.ID, domain.ErrStreamNotFound)
	}
	if !confirmed {
		r.reg.RemoveStream(ep.ID)
		r.mu.Unlock()
		r.media.Destroy(ref)
		err := domain.ErrNegotiationFailed
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w: %w", domain.ErrNegotiationFailed, domain.ErrTimeout, ctxErr)
		}
		log.Warn().Str("module", "core.room").Str("room", string(r.id)).Str("stream", string(ep.ID)).Msg("stream negotiation failed")
		return domain.StreamEndpoint{}, r.opErr("publish", id, ep.ID, err)
	}
	r.reg.SetActive(ep.ID, true)
	ep.Active = true
	r.events.push(domain.Event{
		Type:        domain.EventStreamPublished,
		Room:        r.id,
		Participant: id,
		Stream:      ep.ID,
		Kind:        kind.String(),
		At:          r.now(),
	})
	r.mu.Unlock()

	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("stream", string(ep.ID)).Str("kind", kind.String()).Msg("stream published")
	return ep, nil
}

func (r *roomImpl) Unpublish(id domain.ParticipantID, stream domain.StreamID) error {
	r.mu.Lock()
	m, ok := r.reg.Get(id)
	if !ok || !live(m) {
		r.mu.Unlock()
		return r.opErr("unpublish", id, stream, domain.ErrUnknownParticipant)
	}
	cur, ok := r.reg.Stream(stream)
	if !ok || cur.Owner != id {
		r.mu.Unlock()
		return r.opErr("unpublish", id, stream, domain.ErrStreamNotFound)
	}
	ep, subs, _ := r.reg.RemoveStream(stream)
	r.pushStreamRemoved(domain.EventStreamUnpublished, ep, subs)
	r.mu.Unlock()

	r.media.Destroy(r.ref(ep))
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("stream", string(stream)).Int("subscribers", len(subs)).Msg("stream unpublished")
	return nil
}

func (r *roomImpl) Subscribe(id domain.ParticipantID, stream domain.StreamID) (domain.SubscriptionHandle, error) {
	r.mu.Lock()
	m, ok := r.reg.Get(id)
	if !ok || !live(m) {
		r.mu.Unlock()
		return domain.SubscriptionHandle{}, r.opErr("subscribe", id, stream, domain.ErrUnknownParticipant)
	}
	fresh := uuid.NewString()
	hid, err := r.reg.Subscribe(id, stream, fresh)
	if err != nil {
		r.mu.Unlock()
		return domain.SubscriptionHandle{}, r.opErr("subscribe", id, stream, err)
	}
	ep, _ := r.reg.Stream(stream)
	r.mu.Unlock()

	handle := domain.SubscriptionHandle{ID: hid, Room: r.id, Subscriber: id, Stream: stream}
	if sink, ok := r.media.(SubscriptionSink); ok && hid == fresh {
		if err := sink.Attach(r.ref(ep), handle); err != nil {
			r.mu.Lock()
			r.reg.Unsubscribe(id, stream)
			r.mu.Unlock()
			return domain.SubscriptionHandle{}, r.opErr("subscribe", id, stream, fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err))
		}
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(id)).Str("stream", string(stream)).Msg("subscribed")
	return handle, nil
}

func (r *roomImpl) Unsubscribe(id domain.ParticipantID, stream domain.StreamID) error {
	r.mu.Lock()
	if _, ok := r.reg.Get(id); !ok {
		r.mu.Unlock()
		return r.opErr("unsubscribe", id, stream, domain.ErrUnknownParticipant)
	}
	hid, ok := r.reg.Unsubscribe(id, stream)
	ep, _ := r.reg.Stream(stream)
	r.mu.Unlock()
	if !ok {
		return r.opErr("unsubscribe", id, stream, domain.ErrStreamNotFound)
	}
	if sink, ok := r.media.(SubscriptionSink); ok {
		sink.Detach(r.ref(ep), domain.SubscriptionHandle{ID: hid, Room: r.id, Subscriber: id, Stream: stream})
	}
	return nil
}

// ActiveStreams lists active streams of joining and active participants
// other than except, in join order.
func (r *roomImpl) ActiveStreams(except domain.ParticipantID) []domain.StreamEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.StreamEndpoint
	r.reg.Each(func(m *member) {
		if m.id == except || !live(m) {
			return
		}
		for _, sid := range m.streams {
			if ep, ok := r.reg.Stream(sid); ok && ep.Active {
				out = append(out, ep)
			}
		}
	})
	return out
}

// OnStreamFailed demotes a stream to inactive and drops its subscribers,
// the same way an unpublish would, but keeps the endpoint for its owner.
func (r *roomImpl) OnStreamFailed(stream domain.StreamID) (StreamFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.reg.Stream(stream)
	if !ok {
		return StreamFailure{}, r.opErr("stream_failed", "", stream, domain.ErrStreamNotFound)
	}
	var subs []domain.ParticipantID
	if ep.Active {
		r.reg.SetActive(stream, false)
		subs = r.reg.DropSubscribers(stream)
		ep.Active = false
		r.pushStreamRemoved(domain.EventStreamFailed, ep, subs)
	}
	remaining := 0
	if m, ok := r.reg.Get(ep.Owner); ok {
		for _, sid := range m.streams {
			if e, ok := r.reg.Stream(sid); ok && e.Active {
				remaining++
			}
		}
	}
	log.Warn().Str("module", "core.room").Str("room", string(r.id)).Str("stream", string(stream)).Int("remaining_active", remaining).Msg("stream demoted")
	return StreamFailure{Ref: r.ref(ep), RemainingActive: remaining, Subscribers: subs}, nil
}

// pushStreamRemoved queues the stream event followed by one event per
// invalidated subscriber. Caller holds r.mu.
func (r *roomImpl) pushStreamRemoved(typ domain.EventType, ep domain.StreamEndpoint, subs []domain.ParticipantID) {
	now := r.now()
	r.events.push(domain.Event{Type: typ, Room: r.id, Participant: ep.Owner, Stream: ep.ID, Kind: ep.Kind.String(), At: now})
	for _, sub := range subs {
		r.events.push(domain.Event{Type: domain.EventSubscriptionRemoved, Room: r.id, Participant: sub, Stream: ep.ID, Kind: ep.Kind.String(), At: now})
	}
}

// Await blocks until the expectation is met, the timeout fires or ctx ends.
func (r *roomImpl) Await(ctx context.Context, exp Expectation) error {
	if exp.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, exp.Timeout)
		defer cancel()
	}

	r.mu.Lock()
	if r.state >= domain.RoomClosing {
		r.mu.Unlock()
		return r.opErr("await", "", "", domain.ErrRoomClosed)
	}
	b, err := newBarrier(exp, r.reg)
	if err != nil {
		r.mu.Unlock()
		return r.opErr("await", "", "", err)
	}
	if b.released() {
		r.mu.Unlock()
		return nil
	}
	r.barriers[b] = struct{}{}
	r.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
	}

	r.mu.Lock()
	delete(r.barriers, b)
	remaining := b.remaining
	r.mu.Unlock()
	if b.released() {
		return nil
	}
	return r.opErr("await", "", "",
		fmt.Errorf("%w: %d %s transition(s) pending: %w", domain.ErrTimeout, remaining, exp.Transition, ctx.Err()))
}

// observe feeds a transition to every barrier. Caller holds r.mu.
func (r *roomImpl) observe(id domain.ParticipantID, state domain.ParticipantState) {
	for b := range r.barriers {
		if b.observe(id, state) {
			delete(r.barriers, b)
		}
	}
}

// observeAbsent feeds the removal of a member that never became ACTIVE to
// LEFT barriers waiting on that member by name. Caller holds r.mu.
func (r *roomImpl) observeAbsent(id domain.ParticipantID) {
	for b := range r.barriers {
		if b.pending != nil && b.observe(id, domain.ParticipantLeft) {
			delete(r.barriers, b)
		}
	}
}

func (r *roomImpl) Hold() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state >= domain.RoomClosing {
		return false
	}
	r.holds++
	return true
}

func (r *roomImpl) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holds > 0 {
		r.holds--
	}
}

func (r *roomImpl) TryClose() bool {
	r.mu.Lock()
	if r.state >= domain.RoomClosing || r.reg.Len() > 0 || r.holds > 0 || len(r.barriers) > 0 {
		r.mu.Unlock()
		return false
	}
	r.state = domain.RoomClosing
	r.mu.Unlock()

	r.events.close()

	r.mu.Lock()
	r.state = domain.RoomClosed
	r.mu.Unlock()
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Msg("room closed")
	return true
}
