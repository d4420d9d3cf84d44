package orch

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dkeye/Rooms/internal/app"
	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

type Options struct {
	JoinTimeout        time.Duration
	NegotiationTimeout time.Duration
	BarrierTimeout     time.Duration
}

// SessionCoordinator drives the join/leave protocol on top of the room
// manager and the media engine it was composed with.
type SessionCoordinator struct {
	Rooms  core.RoomManager
	Media  core.MediaEngine
	Policy app.Policy

	opts  Options
	locks *keyedLock
}

func NewSessionCoordinator(rooms core.RoomManager, media core.MediaEngine, policy app.Policy, opts Options) *SessionCoordinator {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	c := &SessionCoordinator{
		Rooms:  rooms,
		Media:  media,
		Policy: policy,
		opts:   opts,
		locks:  newKeyedLock(),
	}
	if media != nil {
		media.OnStreamFailed(c.HandleStreamFailure)
	}
	return c
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func participantKey(room domain.RoomID, id domain.ParticipantID) string {
	return string(room) + "/" + string(id)
}

// serialize acquires the per-participant slot; a ctx expiry while queued is
// reported as a timeout of op.
func (c *SessionCoordinator) serialize(ctx context.Context, op string, room domain.RoomID, id domain.ParticipantID) (func(), error) {
	unlock, err := c.locks.lock(ctx, participantKey(room, id))
	if err != nil {
		return nil, &domain.OpError{Op: op, Room: room, Participant: id, Err: fmt.Errorf("%w: %w", domain.ErrTimeout, err)}
	}
	return unlock, nil
}

func (c *SessionCoordinator) Snapshot(room domain.RoomID) (domain.RoomSnapshot, error) {
	r, err := c.Rooms.Get(room)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	return r.Snapshot(), nil
}

// RoomList lists the live rooms ordered by id.
func (c *SessionCoordinator) RoomList() []core.RoomInfo {
	list := c.Rooms.List()
	slices.SortFunc(list, func(a, b core.RoomInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return list
}

// EvictRoom removes every participant of the room in parallel and closes it.
func (c *SessionCoordinator) EvictRoom(ctx context.Context, room domain.RoomID) (int, error) {
	r, err := c.Rooms.Get(room)
	if err != nil {
		return 0, err
	}
	snap := r.Snapshot()

	p := pool.NewWithResults[domain.Departure]().WithErrors().WithContext(ctx)
	for _, m := range snap.Participants {
		p.Go(func(ctx context.Context) (domain.Departure, error) {
			return c.Leave(ctx, room, m.ID)
		})
	}
	deps, err := p.Wait()
	evicted := 0
	for _, d := range deps {
		if d == domain.Departed {
			evicted++
		}
	}
	c.Rooms.RemoveRoomIfEmpty(room)
	log.Info().Str("module", "orch").Str("room", string(room)).Int("evicted", evicted).Msg("room evicted")
	return evicted, err
}

// Shutdown evicts every room and stops the room manager.
func (c *SessionCoordinator) Shutdown(ctx context.Context) error {
	p := pool.New().WithErrors().WithContext(ctx)
	for _, info := range c.Rooms.List() {
		p.Go(func(ctx context.Context) error {
			_, err := c.EvictRoom(ctx, info.ID)
			return err
		})
	}
	err := p.Wait()
	c.Rooms.Shutdown()
	log.Info().Str("module", "orch").Msg("coordinator stopped")
	return err
}
