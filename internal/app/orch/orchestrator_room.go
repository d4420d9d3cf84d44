package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/dkeye/Rooms/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type JoinRequest struct {
	Room        domain.RoomID
	Participant domain.ParticipantID
	DisplayName string
	Publish     []domain.StreamKind
	Subscribe   []domain.StreamID
	// SubscribeAll subscribes to every foreign stream active at admission.
	SubscribeAll bool
}

type JoinResult struct {
	Participant   domain.Participant
	Streams       []domain.StreamEndpoint
	Subscriptions []domain.SubscriptionHandle
	Elapsed       time.Duration
}

// Join runs the join protocol: admission, publishing and subscribing. Any
// failure departs the participant again before returning.
func (c *SessionCoordinator) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	start := time.Now()
	logger := log.With().Str("module", "orch").Str("room", string(req.Room)).Str("participant", string(req.Participant)).Logger()

	if err := domain.ValidateRoomID(req.Room); err != nil {
		return JoinResult{}, &domain.OpError{Op: "join", Room: req.Room, Participant: req.Participant, Err: err}
	}
	ctx, cancel := withTimeout(ctx, c.opts.JoinTimeout)
	defer cancel()

	unlock, err := c.serialize(ctx, "join", req.Room, req.Participant)
	if err != nil {
		metrics.JoinFailedTotal.WithLabelValues("requested").Inc()
		return JoinResult{}, err
	}
	defer unlock()

	room := c.Rooms.Acquire(req.Room)
	res, step, err := c.join(ctx, room, req, &logger)
	room.Release()
	if err != nil {
		metrics.JoinFailedTotal.WithLabelValues(step).Inc()
		if room.MemberCount() == 0 {
			c.Rooms.ScheduleRemoval(req.Room)
		}
		logger.Warn().Err(err).Str("step", step).Dur("elapsed", time.Since(start)).Msg("join failed")
		return JoinResult{}, err
	}

	res.Elapsed = time.Since(start)
	metrics.ParticipantsActive.Inc()
	metrics.JoinDurationSeconds.Observe(res.Elapsed.Seconds())
	logger.Info().Dur("elapsed", res.Elapsed).Int("streams", len(res.Streams)).Int("subscriptions", len(res.Subscriptions)).Msg("joined")
	return res, nil
}

func (c *SessionCoordinator) join(ctx context.Context, room core.RoomService, req JoinRequest, logger *zerolog.Logger) (JoinResult, string, error) {
	p, err := room.Admit(ctx, req.Participant, req.DisplayName)
	if err != nil {
		return JoinResult{}, "admitted", err
	}
	logger.Debug().Msg("admitted")
	res := JoinResult{Participant: p}

	rollback := func(step string, err error) (JoinResult, string, error) {
		if _, derr := room.Depart(req.Participant); derr != nil {
			logger.Error().Err(derr).Msg("rollback depart failed")
		}
		return JoinResult{}, step, err
	}

	if len(req.Publish) > 0 {
		eps := make([]domain.StreamEndpoint, len(req.Publish))
		g, gctx := errgroup.WithContext(ctx)
		for i, kind := range req.Publish {
			g.Go(func() error {
				pctx, cancel := withTimeout(gctx, c.opts.NegotiationTimeout)
				defer cancel()
				ep, err := room.Publish(pctx, req.Participant, kind)
				if err != nil {
					return err
				}
				eps[i] = ep
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return rollback("streams_ready", err)
		}
		res.Streams = eps
	}

	targets := req.Subscribe
	if req.SubscribeAll {
		for _, ep := range room.ActiveStreams(req.Participant) {
			targets = append(targets, ep.ID)
		}
	}
	for i, stream := range targets {
		h, err := room.Subscribe(req.Participant, stream)
		if err != nil {
			// Streams picked by SubscribeAll may be gone already.
			if i >= len(req.Subscribe) && errors.Is(err, domain.ErrStreamNotFound) {
				continue
			}
			return rollback("subscribed", err)
		}
		res.Subscriptions = append(res.Subscriptions, h)
	}
	if err := ctx.Err(); err != nil {
		return rollback("active", &domain.OpError{Op: "join", Room: req.Room, Participant: req.Participant, Err: errors.Join(domain.ErrTimeout, err)})
	}
	p, err = room.Activate(req.Participant)
	if err != nil {
		return rollback("active", err)
	}
	res.Participant = p
	return res, "", nil
}

// Leave departs a participant. Leaving twice, or leaving a room the
// participant is not in, is a NoOpDeparture; a room that does not exist
// yields ErrRoomNotFound.
func (c *SessionCoordinator) Leave(ctx context.Context, room domain.RoomID, id domain.ParticipantID) (domain.Departure, error) {
	start := time.Now()
	unlock, err := c.serialize(ctx, "leave", room, id)
	if err != nil {
		return domain.NoOpDeparture, err
	}
	defer unlock()

	r, err := c.Rooms.Get(room)
	if err != nil {
		return domain.NoOpDeparture, err
	}
	dep, err := r.Depart(id)
	if err != nil {
		return dep, err
	}
	if dep == domain.Departed {
		metrics.ParticipantsActive.Dec()
		log.Info().Str("module", "orch").Str("room", string(room)).Str("participant", string(id)).Dur("elapsed", time.Since(start)).Msg("left")
	}
	if r.MemberCount() == 0 {
		c.Rooms.ScheduleRemoval(room)
	}
	return dep, nil
}

func (c *SessionCoordinator) Rename(ctx context.Context, room domain.RoomID, id domain.ParticipantID, displayName string) error {
	unlock, err := c.serialize(ctx, "rename", room, id)
	if err != nil {
		return err
	}
	defer unlock()
	r, err := c.Rooms.Get(room)
	if err != nil {
		return err
	}
	return r.UpdateDisplayName(id, displayName)
}

// WaitFor blocks until the expectation holds in the room. Waiting for
// ACTIVE keeps the room alive; waiting for LEFT on a room that is gone
// succeeds at once.
func (c *SessionCoordinator) WaitFor(ctx context.Context, room domain.RoomID, exp core.Expectation) (err error) {
	if exp.Timeout <= 0 {
		exp.Timeout = c.opts.BarrierTimeout
	}
	defer func() {
		outcome := "released"
		switch {
		case domain.IsTimeout(err):
			outcome = "timeout"
		case err != nil:
			outcome = "error"
		}
		metrics.BarrierWaitsTotal.WithLabelValues(exp.Transition.String(), outcome).Inc()
	}()

	switch exp.Transition {
	case domain.ParticipantActive:
		if err := domain.ValidateRoomID(room); err != nil {
			return &domain.OpError{Op: "wait_for", Room: room, Err: err}
		}
		r := c.Rooms.Acquire(room)
		defer func() {
			r.Release()
			if r.MemberCount() == 0 {
				c.Rooms.ScheduleRemoval(room)
			}
		}()
		return r.Await(ctx, exp)
	case domain.ParticipantLeft:
		r, err := c.Rooms.Get(room)
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.Await(ctx, exp); err != nil && !errors.Is(err, domain.ErrRoomClosed) {
			return err
		}
		return nil
	default:
		return &domain.OpError{Op: "wait_for", Room: room, Err: domain.ErrInvalidExpectation}
	}
}
