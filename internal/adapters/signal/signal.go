package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Rooms/internal/app"
	"github.com/dkeye/Rooms/internal/app/orch"
	"github.com/dkeye/Rooms/internal/app/sfu"
	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	ICE        webrtc.Configuration
}

// SignalWSController is the gateway for browser clients. It also receives
// room events and fans them out to the sockets bound to the room.
type SignalWSController struct {
	Orch     *orch.SessionCoordinator
	Registry *app.Registry
	// Engine is nil when media is only simulated; offers are then rejected.
	Engine  *sfu.Engine
	Limiter *JoinRateLimiter

	opts Options
}

func NewSignalWSController(reg *app.Registry, limiter *JoinRateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Registry: reg,
		Limiter:  limiter,
		opts:     opts,
	}
}

// Bind completes the wiring once the coordinator exists; the room manager
// needs the controller as its notifier first.
func (ctl *SignalWSController) Bind(o *orch.SessionCoordinator, engine *sfu.Engine) {
	ctl.Orch = o
	ctl.Engine = engine
	if engine != nil {
		engine.OnNegotiationNeeded(func(room domain.RoomID, pid domain.ParticipantID) {
			go ctl.renegotiate(room, pid)
		})
	}
}

// HasSession reports whether a participant is driven by a gateway socket.
// Participants joined through the harness API have none.
func (ctl *SignalWSController) HasSession(room domain.RoomID, pid domain.ParticipantID) bool {
	_, ok := ctl.Registry.SessionOf(room, pid)
	return ok
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Notify implements core.Notifier.
func (ctl *SignalWSController) Notify(ev domain.Event) {
	ctl.BroadcastRoom(ev.Room, struct {
		Type  string       `json:"type"`
		Event domain.Event `json:"event"`
	}{
		Type:  "room_event",
		Event: ev,
	})
}

func (ctl *SignalWSController) BroadcastRoom(roomID domain.RoomID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	for _, snap := range ctl.Registry.MembersOfRoom(roomID) {
		if sig := snap.Session.Signal(); sig != nil {
			if err := sig.TrySend(b); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(snap.SID)).Msg("broadcast dropped")
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	sess := core.NewMemberSession(sid).UpdateSignal(conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.BindSignal(sid, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}

// disconnect leaves the room and releases media once the socket is gone.
// A session already rebound to a newer socket is left alone.
func (ctl *SignalWSController) disconnect(sid core.SessionID, c *WsSignalConn) {
	sess, ok := ctl.Registry.GetSession(sid)
	if !ok || sess.Signal() != core.SignalConnection(c) {
		return
	}
	_, _ = ctl.leaveRoom(context.Background(), sid)
	ctl.Limiter.Forget(sid)
	if mc := sess.Media(); mc != nil {
		mc.Close()
	}
	ctl.Registry.Unbind(sid)
}
