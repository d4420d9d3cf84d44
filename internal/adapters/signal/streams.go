package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/rs/zerolog/log"
)

type streamPayload struct {
	Type   string            `json:"type"`
	Kind   domain.StreamKind `json:"kind"`
	Stream domain.StreamID   `json:"stream"`
}

// parseStreamOp decodes a stream message and resolves the caller's room.
func (ctl *SignalWSController) parseStreamOp(sid core.SessionID, conn *WsSignalConn, op string, data []byte) (streamPayload, domain.RoomID, domain.ParticipantID, bool) {
	var p streamPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("op", op).Msg("bad stream payload")
		ctl.sendError(conn, op, errBadPayload)
		return p, "", "", false
	}
	room, pid, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		ctl.sendError(conn, op, errNotInRoom)
		return p, "", "", false
	}
	return p, room, pid, true
}

func (ctl *SignalWSController) handlePublish(ctx context.Context, sid core.SessionID, conn *WsSignalConn, data []byte) {
	p, room, pid, ok := ctl.parseStreamOp(sid, conn, "publish", data)
	if !ok {
		return
	}
	ep, err := ctl.Orch.Publish(ctx, room, pid, p.Kind)
	if err != nil {
		ctl.sendError(conn, "publish", err)
		return
	}
	ctl.sendJSON(conn, map[string]any{"type": "published", "stream": ep})
}

func (ctl *SignalWSController) handleUnpublish(ctx context.Context, sid core.SessionID, conn *WsSignalConn, data []byte) {
	p, room, pid, ok := ctl.parseStreamOp(sid, conn, "unpublish", data)
	if !ok {
		return
	}
	if err := ctl.Orch.Unpublish(ctx, room, pid, p.Stream); err != nil {
		ctl.sendError(conn, "unpublish", err)
		return
	}
	ctl.sendJSON(conn, map[string]any{"type": "unpublished", "stream": p.Stream})
}

func (ctl *SignalWSController) handleSubscribe(ctx context.Context, sid core.SessionID, conn *WsSignalConn, data []byte) {
	p, room, pid, ok := ctl.parseStreamOp(sid, conn, "subscribe", data)
	if !ok {
		return
	}
	h, err := ctl.Orch.Subscribe(ctx, room, pid, p.Stream)
	if err != nil {
		ctl.sendError(conn, "subscribe", err)
		return
	}
	ctl.sendJSON(conn, map[string]any{"type": "subscribed", "subscription": h})
}

func (ctl *SignalWSController) handleUnsubscribe(ctx context.Context, sid core.SessionID, conn *WsSignalConn, data []byte) {
	p, room, pid, ok := ctl.parseStreamOp(sid, conn, "unsubscribe", data)
	if !ok {
		return
	}
	if err := ctl.Orch.Unsubscribe(ctx, room, pid, p.Stream); err != nil {
		ctl.sendError(conn, "unsubscribe", err)
		return
	}
	ctl.sendJSON(conn, map[string]any{"type": "unsubscribed", "stream": p.Stream})
}
