package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type renamePayload struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	var p renamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendError(conn, "rename", errBadPayload)
		return
	}
	if err := ctl.Registry.SetDisplayName(sid, p.Name); err != nil {
		ctl.sendError(conn, "rename", err)
		return
	}
	if room, pid, ok := ctl.Registry.RoomOf(sid); ok {
		if err := ctl.Orch.Rename(ctx, room, pid, p.Name); err != nil {
			ctl.sendError(conn, "rename", err)
			return
		}
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename")
	ctl.handleWhoAmI(sid, conn)
}

func (ctl *SignalWSController) handleWhoAmI(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	resp := struct {
		Type        string               `json:"type"`
		SID         core.SessionID       `json:"sid"`
		Name        string               `json:"name,omitempty"`
		Room        domain.RoomID        `json:"room,omitempty"`
		Participant domain.ParticipantID `json:"participant,omitempty"`
	}{
		Type: "whoami",
		SID:  sid,
		Name: ctl.Registry.DisplayName(sid),
	}
	if room, pid, ok := ctl.Registry.RoomOf(sid); ok {
		resp.Room = room
		resp.Participant = pid
	}
	ctl.sendJSON(conn, resp)
}
