package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.disconnect(sid, c)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

// handleSignal dispatches one client message. Operations that wait on the
// media engine run off the read loop so candidates keep flowing.
func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, env.Type, errBadPayload)
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, sid, c, data)
	case "leave":
		ctl.handleLeave(ctx, sid, c)
	case "publish":
		go ctl.handlePublish(ctx, sid, c, data)
	case "unpublish":
		ctl.handleUnpublish(ctx, sid, c, data)
	case "subscribe":
		ctl.handleSubscribe(ctx, sid, c, data)
	case "unsubscribe":
		ctl.handleUnsubscribe(ctx, sid, c, data)
	case "ping":
		ctl.handlePing(c)
	case "rename":
		ctl.handleRename(ctx, sid, c, data)
	case "whoami":
		ctl.handleWhoAmI(sid, c)
	case "offer":
		ctl.handleOffer(ctx, sid, c, data)
	case "answer":
		ctl.handleAnswer(sid, c, data)
	case "candidate":
		ctl.handleCandidate(sid, c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, env.Type, errUnknownType)
	}
}

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, map[string]string{"type": "pong"})
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

var (
	errBadPayload  = errors.New("bad_payload")
	errUnknownType = errors.New("unknown_type")
	errNotInRoom   = errors.New("not_in_room")
	errNoMedia     = errors.New("no_media")
	errRateLimited = errors.New("rate_limited")
)

// ErrorCode maps an operation error to the code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, domain.ErrRoomClosed):
		return "room_closed"
	case errors.Is(err, domain.ErrDuplicateParticipant):
		return "duplicate_participant"
	case errors.Is(err, domain.ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, domain.ErrStreamNotFound):
		return "stream_not_found"
	case errors.Is(err, domain.ErrSelfSubscription):
		return "self_subscription"
	case errors.Is(err, domain.ErrNegotiationFailed):
		return "negotiation_failed"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrDisplayNameEmpty),
		errors.Is(err, domain.ErrDisplayNameTooLong),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrUnknownKind),
		errors.Is(err, domain.ErrInvalidExpectation):
		return "invalid_argument"
	case errors.Is(err, errBadPayload), errors.Is(err, errUnknownType),
		errors.Is(err, errNotInRoom), errors.Is(err, errNoMedia),
		errors.Is(err, errRateLimited):
		return err.Error()
	default:
		return "internal"
	}
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, op string, err error) {
	ctl.sendJSON(c, struct {
		Type    string `json:"type"`
		Op      string `json:"op,omitempty"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}{
		Type:    "error",
		Op:      op,
		Error:   ErrorCode(err),
		Message: err.Error(),
	})
}
