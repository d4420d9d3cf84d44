package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/Rooms/internal/app/orch"
	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/rs/zerolog/log"
)

type joinPayload struct {
	Type         string              `json:"type"`
	Room         string              `json:"room"`
	Participant  string              `json:"participant,omitempty"`
	Name         string              `json:"name,omitempty"`
	Publish      []domain.StreamKind `json:"publish,omitempty"`
	Subscribe    []domain.StreamID   `json:"subscribe,omitempty"`
	SubscribeAll *bool               `json:"subscribe_all,omitempty"`
}

// handleJoin binds the session to the room synchronously so an offer sent
// right after the join is routed to it; the join protocol then runs in
// the background.
func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "join", errBadPayload)
		return
	}
	if !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join rate limited")
		ctl.sendError(conn, "join", errRateLimited)
		return
	}
	if err := ctl.Registry.SettleJoin(ctx, sid); err != nil {
		return
	}
	if from, _, ok := ctl.Registry.RoomOf(sid); ok {
		_, _ = ctl.leaveRoom(ctx, sid)
		log.Info().Str("module", "signal").Str("sid", string(sid)).Str("from_room", string(from)).Msg("left previous room")
	}

	req := orch.JoinRequest{
		Room:         domain.RoomID(p.Room),
		Participant:  domain.ParticipantID(p.Participant),
		DisplayName:  p.Name,
		Publish:      p.Publish,
		Subscribe:    p.Subscribe,
		SubscribeAll: p.SubscribeAll == nil || *p.SubscribeAll,
	}
	if req.Participant == "" {
		req.Participant = domain.ParticipantID(sid)
	}
	if req.DisplayName == "" {
		req.DisplayName = ctl.Registry.DisplayName(sid)
	}

	ctl.Registry.BindRoom(sid, req.Room, req.Participant)
	if ctl.Engine != nil {
		if sess, ok := ctl.Registry.GetSession(sid); ok && sess.Media() != nil {
			ctl.Engine.RegisterPeer(req.Room, req.Participant, sess.Media())
		}
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.Room).Msg("join")
	jctx, cancel := context.WithCancel(ctx)
	finish := ctl.Registry.StartJoin(sid, cancel)
	go func() {
		defer finish()
		defer cancel()
		ctl.completeJoin(jctx, sid, conn, req)
	}()
}

// completeJoin runs the join protocol. A leave or a newer join cancels ctx
// and waits for it to return, so a canceled join either rolled back or
// left the session bound to a room the caller then departs.
func (ctl *SignalWSController) completeJoin(ctx context.Context, sid core.SessionID, conn *WsSignalConn, req orch.JoinRequest) {
	res, err := ctl.Orch.Join(ctx, req)
	if err != nil {
		ctl.Registry.RemoveRoom(sid)
		if ctl.Engine != nil {
			ctl.Engine.UnregisterPeer(req.Room, req.Participant)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(req.Room)).Msg("join superseded")
			return
		}
		ctl.sendError(conn, "join", err)
		return
	}

	resp := struct {
		Type          string                      `json:"type"`
		Room          domain.RoomID               `json:"room"`
		Participant   domain.Participant          `json:"participant"`
		Streams       []domain.StreamEndpoint     `json:"streams"`
		Subscriptions []domain.SubscriptionHandle `json:"subscriptions"`
		Members       []domain.Participant        `json:"members"`
		ElapsedMs     int64                       `json:"elapsed_ms"`
	}{
		Type:          "joined",
		Room:          req.Room,
		Participant:   res.Participant,
		Streams:       res.Streams,
		Subscriptions: res.Subscriptions,
		ElapsedMs:     res.Elapsed.Milliseconds(),
	}
	if snap, err := ctl.Orch.Snapshot(req.Room); err == nil {
		resp.Members = snap.Participants
	}
	ctl.sendJSON(conn, resp)
}

// leaveRoom departs the session's participant, keeping the socket open.
func (ctl *SignalWSController) leaveRoom(ctx context.Context, sid core.SessionID) (domain.Departure, error) {
	if err := ctl.Registry.SettleJoin(ctx, sid); err != nil {
		return domain.NoOpDeparture, err
	}
	room, pid, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		return domain.NoOpDeparture, errNotInRoom
	}
	dep, err := ctl.Orch.Leave(ctx, room, pid)
	ctl.Registry.RemoveRoom(sid)
	if ctl.Engine != nil {
		ctl.Engine.UnregisterPeer(room, pid)
	}
	if errors.Is(err, domain.ErrRoomNotFound) {
		err = nil
	}
	return dep, err
}

func (ctl *SignalWSController) handleLeave(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	dep, err := ctl.leaveRoom(ctx, sid)
	if err != nil && !errors.Is(err, errNotInRoom) {
		ctl.sendError(conn, "leave", err)
		return
	}
	ctl.sendJSON(conn, map[string]any{
		"type":      "left",
		"departure": dep.String(),
	})
}
