package app

import (
	"sync"
	"time"

	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/dkeye/Rooms/internal/metrics"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl owns the set of live rooms. Its lock guards the room map
// only; room state is serialized by each room.
type RoomManagerImpl struct {
	media core.MediaEngine
	sink  core.Notifier
	grace time.Duration

	mu     sync.RWMutex
	rooms  map[domain.RoomID]core.RoomService
	timers map[domain.RoomID]*time.Timer
}

func NewRoomManager(media core.MediaEngine, sink core.Notifier, grace time.Duration) *RoomManagerImpl {
	return &RoomManagerImpl{
		media:  media,
		sink:   sink,
		grace:  grace,
		rooms:  make(map[domain.RoomID]core.RoomService),
		timers: make(map[domain.RoomID]*time.Timer),
	}
}

func (f *RoomManagerImpl) GetOrCreate(id domain.RoomID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getOrCreateLocked(id)
}

func (f *RoomManagerImpl) Acquire(id domain.RoomID) core.RoomService {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := f.getOrCreateLocked(id)
	// Rooms are closed under f.mu only, so a registered room accepts holds.
	room.Hold()
	return room
}

func (f *RoomManagerImpl) getOrCreateLocked(id domain.RoomID) core.RoomService {
	if room, ok := f.rooms[id]; ok {
		return room
	}
	room := core.NewRoomService(id, f.media, f.sink)
	f.rooms[id] = room
	metrics.RoomsCreatedTotal.Inc()
	metrics.RoomsActive.Set(float64(len(f.rooms)))
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return room
}

func (f *RoomManagerImpl) Get(id domain.RoomID) (core.RoomService, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, &domain.OpError{Op: "get_room", Room: id, Err: domain.ErrRoomNotFound}
	}
	return room, nil
}

// RemoveRoomIfEmpty closes and forgets a room that has no participants,
// no join in flight and no barrier waiters.
func (f *RoomManagerImpl) RemoveRoomIfEmpty(id domain.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return false
	}
	if !room.TryClose() {
		log.Debug().Str("module", "app.rooms").Str("room", string(id)).Int("participants", room.MemberCount()).Msg("room still in use")
		return false
	}
	delete(f.rooms, id)
	if t, ok := f.timers[id]; ok {
		t.Stop()
		delete(f.timers, id)
	}
	metrics.RoomsActive.Set(float64(len(f.rooms)))
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room removed")
	return true
}

// ScheduleRemoval removes the room after the grace period if it is still
// empty by then. A rejoin within the grace period keeps the room.
func (f *RoomManagerImpl) ScheduleRemoval(id domain.RoomID) {
	if f.grace <= 0 {
		f.RemoveRoomIfEmpty(id)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[id]; !ok {
		return
	}
	if t, ok := f.timers[id]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(f.grace, func() {
		f.mu.Lock()
		if f.timers[id] == t {
			delete(f.timers, id)
		}
		f.mu.Unlock()
		f.RemoveRoomIfEmpty(id)
	})
	f.timers[id] = t
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, State: r.State(), ParticipantCount: r.MemberCount()})
	}
	return out
}

// Shutdown stops pending removals. Rooms still holding participants must be
// evicted by the coordinator first.
func (f *RoomManagerImpl) Shutdown() {
	f.mu.Lock()
	for id, t := range f.timers {
		t.Stop()
		delete(f.timers, id)
	}
	ids := make([]domain.RoomID, 0, len(f.rooms))
	for id := range f.rooms {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.RemoveRoomIfEmpty(id)
	}
}
