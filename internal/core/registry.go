package core

import (
	"fmt"
	"slices"
	"time"

	"github.com/dkeye/Rooms/internal/domain"
)

type subscription struct {
	stream domain.StreamID
	handle string
}

type member struct {
	id          domain.ParticipantID
	displayName string
	state       domain.ParticipantState
	joinedAt    time.Time

	streams []domain.StreamID // publish order
	subs    []subscription
	kindSeq map[domain.StreamKind]int

	// left is closed once the member reaches LEFT.
	left chan struct{}
}

type streamEntry struct {
	endpoint    domain.StreamEndpoint
	subscribers []domain.ParticipantID
}

// ParticipantRegistry is the membership and stream index of one room.
// It does no locking: every call must be serialized by the owning room.
type ParticipantRegistry struct {
	order   []domain.ParticipantID
	members map[domain.ParticipantID]*member
	streams map[domain.StreamID]*streamEntry
}

func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{
		members: make(map[domain.ParticipantID]*member),
		streams: make(map[domain.StreamID]*streamEntry),
	}
}

func (r *ParticipantRegistry) Len() int { return len(r.order) }

func (r *ParticipantRegistry) Get(id domain.ParticipantID) (*member, bool) {
	m, ok := r.members[id]
	return m, ok
}

// Add registers a new member in JOINING state.
func (r *ParticipantRegistry) Add(id domain.ParticipantID, displayName string, now time.Time) (*member, error) {
	if _, ok := r.members[id]; ok {
		return nil, domain.ErrDuplicateParticipant
	}
	m := &member{
		id:          id,
		displayName: displayName,
		state:       domain.ParticipantJoining,
		joinedAt:    now,
		kindSeq:     make(map[domain.StreamKind]int),
		left:        make(chan struct{}),
	}
	r.members[id] = m
	r.order = append(r.order, id)
	return m, nil
}

// Remove drops a member and every subscription it holds.
// Its own streams must have been removed first.
func (r *ParticipantRegistry) Remove(id domain.ParticipantID) bool {
	m, ok := r.members[id]
	if !ok {
		return false
	}
	for _, s := range m.subs {
		if e, ok := r.streams[s.stream]; ok {
			e.subscribers = slices.DeleteFunc(e.subscribers, func(p domain.ParticipantID) bool { return p == id })
		}
	}
	delete(r.members, id)
	r.order = slices.DeleteFunc(r.order, func(p domain.ParticipantID) bool { return p == id })
	return true
}

// Each visits members in join order.
func (r *ParticipantRegistry) Each(fn func(m *member)) {
	for _, id := range r.order {
		fn(r.members[id])
	}
}

// AddStream registers an inactive endpoint owned by owner.
func (r *ParticipantRegistry) AddStream(owner domain.ParticipantID, kind domain.StreamKind, now time.Time) (domain.StreamEndpoint, error) {
	m, ok := r.members[owner]
	if !ok {
		return domain.StreamEndpoint{}, domain.ErrUnknownParticipant
	}
	m.kindSeq[kind]++
	id := domain.StreamID(fmt.Sprintf("%s_%s", owner, kind))
	if n := m.kindSeq[kind]; n > 1 {
		id = domain.StreamID(fmt.Sprintf("%s_%d", id, n))
	}
	if _, dup := r.streams[id]; dup {
		return domain.StreamEndpoint{}, fmt.Errorf("stream %s already registered", id)
	}
	ep := domain.StreamEndpoint{ID: id, Owner: owner, Kind: kind, PublishedAt: now}
	r.streams[id] = &streamEntry{endpoint: ep}
	m.streams = append(m.streams, id)
	return ep, nil
}

func (r *ParticipantRegistry) Stream(id domain.StreamID) (domain.StreamEndpoint, bool) {
	e, ok := r.streams[id]
	if !ok {
		return domain.StreamEndpoint{}, false
	}
	return e.endpoint, true
}

func (r *ParticipantRegistry) SetActive(id domain.StreamID, active bool) bool {
	e, ok := r.streams[id]
	if !ok {
		return false
	}
	e.endpoint.Active = active
	return true
}

// RemoveStream destroys an endpoint and invalidates every subscription to it.
// It returns the removed endpoint and the subscribers that lost it.
func (r *ParticipantRegistry) RemoveStream(id domain.StreamID) (domain.StreamEndpoint, []domain.ParticipantID, bool) {
	e, ok := r.streams[id]
	if !ok {
		return domain.StreamEndpoint{}, nil, false
	}
	subs := r.dropSubscribers(e)
	delete(r.streams, id)
	if m, ok := r.members[e.endpoint.Owner]; ok {
		m.streams = slices.DeleteFunc(m.streams, func(s domain.StreamID) bool { return s == id })
	}
	return e.endpoint, subs, true
}

// DropSubscribers removes every subscription to a stream but keeps the stream.
func (r *ParticipantRegistry) DropSubscribers(id domain.StreamID) []domain.ParticipantID {
	e, ok := r.streams[id]
	if !ok {
		return nil
	}
	return r.dropSubscribers(e)
}

func (r *ParticipantRegistry) dropSubscribers(e *streamEntry) []domain.ParticipantID {
	subs := e.subscribers
	e.subscribers = nil
	for _, pid := range subs {
		if m, ok := r.members[pid]; ok {
			m.subs = slices.DeleteFunc(m.subs, func(s subscription) bool { return s.stream == e.endpoint.ID })
		}
	}
	return subs
}

// Subscribe links sub to an active stream owned by someone else.
// Subscribing twice returns the existing handle id.
func (r *ParticipantRegistry) Subscribe(sub domain.ParticipantID, stream domain.StreamID, handle string) (string, error) {
	m, ok := r.members[sub]
	if !ok {
		return "", domain.ErrUnknownParticipant
	}
	e, ok := r.streams[stream]
	if !ok || !e.endpoint.Active {
		return "", domain.ErrStreamNotFound
	}
	if e.endpoint.Owner == sub {
		return "", domain.ErrSelfSubscription
	}
	for _, s := range m.subs {
		if s.stream == stream {
			return s.handle, nil
		}
	}
	m.subs = append(m.subs, subscription{stream: stream, handle: handle})
	e.subscribers = append(e.subscribers, sub)
	return handle, nil
}

func (r *ParticipantRegistry) Unsubscribe(sub domain.ParticipantID, stream domain.StreamID) (string, bool) {
	m, ok := r.members[sub]
	if !ok {
		return "", false
	}
	i := slices.IndexFunc(m.subs, func(s subscription) bool { return s.stream == stream })
	if i < 0 {
		return "", false
	}
	handle := m.subs[i].handle
	m.subs = slices.Delete(m.subs, i, i+1)
	if e, ok := r.streams[stream]; ok {
		e.subscribers = slices.DeleteFunc(e.subscribers, func(p domain.ParticipantID) bool { return p == sub })
	}
	return handle, true
}

// Subscribers lists the participants currently referencing a stream.
func (r *ParticipantRegistry) Subscribers(stream domain.StreamID) []domain.ParticipantID {
	e, ok := r.streams[stream]
	if !ok {
		return nil
	}
	return slices.Clone(e.subscribers)
}

func (r *ParticipantRegistry) snapshot(m *member) domain.Participant {
	p := domain.Participant{
		ID:            m.id,
		DisplayName:   m.displayName,
		State:         m.state,
		JoinedAt:      m.joinedAt,
		Streams:       make([]domain.StreamEndpoint, 0, len(m.streams)),
		Subscriptions: make([]domain.StreamID, 0, len(m.subs)),
	}
	for _, sid := range m.streams {
		if e, ok := r.streams[sid]; ok {
			p.Streams = append(p.Streams, e.endpoint)
		}
	}
	for _, s := range m.subs {
		p.Subscriptions = append(p.Subscriptions, s.stream)
	}
	return p
}
