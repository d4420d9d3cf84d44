package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Rooms/internal/app"
	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/dkeye/Rooms/internal/metrics"
	"github.com/rs/zerolog/log"
)

func (c *SessionCoordinator) Publish(ctx context.Context, room domain.RoomID, id domain.ParticipantID, kind domain.StreamKind) (domain.StreamEndpoint, error) {
	unlock, err := c.serialize(ctx, "publish", room, id)
	if err != nil {
		return domain.StreamEndpoint{}, err
	}
	defer unlock()
	r, err := c.Rooms.Get(room)
	if err != nil {
		return domain.StreamEndpoint{}, err
	}
	ctx, cancel := withTimeout(ctx, c.opts.NegotiationTimeout)
	defer cancel()
	return r.Publish(ctx, id, kind)
}

func (c *SessionCoordinator) Unpublish(ctx context.Context, room domain.RoomID, id domain.ParticipantID, stream domain.StreamID) error {
	unlock, err := c.serialize(ctx, "unpublish", room, id)
	if err != nil {
		return err
	}
	defer unlock()
	r, err := c.Rooms.Get(room)
	if err != nil {
		return err
	}
	return r.Unpublish(id, stream)
}

func (c *SessionCoordinator) Subscribe(ctx context.Context, room domain.RoomID, id domain.ParticipantID, stream domain.StreamID) (domain.SubscriptionHandle, error) {
	unlock, err := c.serialize(ctx, "subscribe", room, id)
	if err != nil {
		return domain.SubscriptionHandle{}, err
	}
	defer unlock()
	r, err := c.Rooms.Get(room)
	if err != nil {
		return domain.SubscriptionHandle{}, err
	}
	return r.Subscribe(id, stream)
}

func (c *SessionCoordinator) Unsubscribe(ctx context.Context, room domain.RoomID, id domain.ParticipantID, stream domain.StreamID) error {
	unlock, err := c.serialize(ctx, "unsubscribe", room, id)
	if err != nil {
		return err
	}
	defer unlock()
	r, err := c.Rooms.Get(room)
	if err != nil {
		return err
	}
	return r.Unsubscribe(id, stream)
}

// HandleStreamFailure is the media engine's failure callback. The stream is
// demoted in its room and the policy decides whether its owner stays.
func (c *SessionCoordinator) HandleStreamFailure(ref core.StreamRef) {
	logger := log.With().Str("module", "orch").Str("room", string(ref.Room)).Str("stream", string(ref.Stream)).Logger()
	metrics.StreamFailuresTotal.WithLabelValues(ref.Kind.String()).Inc()

	r, err := c.Rooms.Get(ref.Room)
	if err != nil {
		logger.Debug().Err(err).Msg("stream failure for unknown room")
		return
	}
	failure, err := r.OnStreamFailed(ref.Stream)
	if errors.Is(err, domain.ErrStreamNotFound) {
		logger.Debug().Msg("stream already gone")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("stream failure not applied")
		return
	}
	c.Media.Destroy(failure.Ref)

	action := c.Policy.OnStreamFailure(failure)
	logger.Warn().Int("remaining_active", failure.RemainingActive).Int("subscribers", len(failure.Subscribers)).Str("action", action.String()).Msg("stream failed")
	if action != app.EvictParticipant {
		return
	}

	ctx, cancel := withTimeout(context.Background(), c.opts.JoinTimeout)
	defer cancel()
	if _, err := c.Leave(ctx, failure.Ref.Room, failure.Ref.Participant); err != nil {
		logger.Error().Err(err).Msg("evict after stream failure")
	}
}
