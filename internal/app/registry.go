package app

import (
	"context"
	"sync"

	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Room        domain.RoomID
	Participant domain.ParticipantID
	DisplayName string
	Session     core.MemberSession
	Cancel      context.CancelFunc

	// joinCancel and joinDone track a join still running in the background.
	joinCancel context.CancelFunc
	joinDone   chan struct{}
}

// Registry maps gateway sessions to the room membership they drive.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) BindSignal(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[sid]; ok && old.Cancel != nil {
		old.Cancel()
	}
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// BindRoom records that sid joined room as participant.
func (r *Registry) BindRoom(sid core.SessionID, room domain.RoomID, participant domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	entry.Room = room
	entry.Participant = participant
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Str("participant", string(participant)).Msg("bound room")
	return true
}

// StartJoin records an in-flight join for sid. The returned func must be
// called once the join finished, successfully or not.
func (r *Registry) StartJoin(sid core.SessionID, cancel context.CancelFunc) (finish func()) {
	done := make(chan struct{})
	r.mu.Lock()
	if entry, ok := r.sessions[sid]; ok {
		entry.joinCancel = cancel
		entry.joinDone = done
	}
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		if entry, ok := r.sessions[sid]; ok && entry.joinDone == done {
			entry.joinCancel = nil
			entry.joinDone = nil
		}
		r.mu.Unlock()
		close(done)
	}
}

// SettleJoin cancels the in-flight join of sid, if any, and waits until it
// returned. Afterwards RoomOf reflects the outcome of that join.
func (r *Registry) SettleJoin(ctx context.Context, sid core.SessionID) error {
	r.mu.RLock()
	entry, ok := r.sessions[sid]
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	if ok {
		cancel, done = entry.joinCancel, entry.joinDone
	}
	r.mu.RUnlock()
	if done == nil {
		return nil
	}

	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceling in-flight join")
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetDisplayName stores the name used on the next join.
func (r *Registry) SetDisplayName(sid core.SessionID, name string) error {
	if err := domain.ValidateDisplayName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok {
		entry.DisplayName = name
	}
	return nil
}

func (r *Registry) DisplayName(sid core.SessionID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.sessions[sid]; ok {
		return entry.DisplayName
	}
	return ""
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, domain.ParticipantID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.Room == "" {
		return "", "", false
	}
	return entry.Room, entry.Participant, true
}

func (r *Registry) RemoveRoom(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok {
		entry.Room = ""
		entry.Participant = ""
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

type RegSnap struct {
	SID         core.SessionID
	Participant domain.ParticipantID
	Session     core.MemberSession
}

func (r *Registry) MembersOfRoom(room domain.RoomID) []RegSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.Room == room {
			out = append(out, RegSnap{SID: sid, Participant: e.Participant, Session: e.Session})
		}
	}
	return out
}

// SessionOf finds the gateway session driving a participant.
func (r *Registry) SessionOf(room domain.RoomID, participant domain.ParticipantID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.sessions {
		if e.Room == room && e.Participant == participant {
			return e.Session, true
		}
	}
	return nil, false
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
