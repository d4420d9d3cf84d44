package signal_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Rooms/internal/adapters/signal"
	"github.com/dkeye/Rooms/internal/app"
	"github.com/dkeye/Rooms/internal/app/orch"
	"github.com/dkeye/Rooms/internal/app/sfu"
	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv   *httptest.Server
	coord *orch.SessionCoordinator
	sim   *sfu.Simulated
	mixed *sfu.Mixed
}

// newEnv serves the gateway over a simulated engine, or over a pion engine
// shared with simulated participants when mixed is set.
func newEnv(t *testing.T, mixed bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := app.NewRegistry()
	ctl := signal.NewSignalWSController(reg, signal.NewJoinRateLimiter(100, time.Minute), signal.Options{})
	env := &testEnv{sim: sfu.NewSimulated(0)}
	var (
		media  core.MediaEngine = env.sim
		engine *sfu.Engine
	)
	if mixed {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		engine = sfu.NewEngine(ctx)
		env.mixed = sfu.NewMixed(engine, env.sim, ctl.HasSession)
		media = env.mixed
	}
	rooms := app.NewRoomManager(media, ctl, time.Minute)
	env.coord = orch.NewSessionCoordinator(rooms, media, app.SimplePolicy{}, orch.Options{
		JoinTimeout:        time.Second,
		NegotiationTimeout: 100 * time.Millisecond,
		BarrierTimeout:     time.Second,
	})
	ctl.Bind(env.coord, engine)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", c.Query("sid"))
		ctl.HandleSignal(context.Background(), c)
	})
	env.srv = httptest.NewServer(r)
	t.Cleanup(env.srv.Close)
	return env
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newEnv(t, false).srv
}

func dial(t *testing.T, srv *httptest.Server, sid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?sid=" + sid
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads messages until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var m map[string]any
		require.NoError(t, conn.ReadJSON(&m))
		if match(m) {
			return m
		}
	}
}

func ofType(typ string) func(map[string]any) bool {
	return func(m map[string]any) bool { return m["type"] == typ }
}

func roomEvent(typ, participant string) func(map[string]any) bool {
	return func(m map[string]any) bool {
		if m["type"] != "room_event" {
			return false
		}
		ev, _ := m["event"].(map[string]any)
		return ev["type"] == typ && ev["participant"] == participant
	}
}

func TestJoinPublishAndEvents(t *testing.T) {
	srv := newServer(t)
	a := dial(t, srv, "sa")
	b := dial(t, srv, "sb")

	require.NoError(t, a.WriteJSON(map[string]any{"type": "join", "room": "r1", "participant": "A", "publish": []string{"audio"}}))
	joined := readUntil(t, a, ofType("joined"))
	assert.Len(t, joined["streams"], 1)

	require.NoError(t, b.WriteJSON(map[string]any{"type": "join", "room": "r1", "participant": "B"}))
	joined = readUntil(t, b, ofType("joined"))
	assert.Len(t, joined["subscriptions"], 1)
	assert.Len(t, joined["members"], 2)

	readUntil(t, a, roomEvent("participant_active", "B"))

	require.NoError(t, b.WriteJSON(map[string]any{"type": "leave"}))
	left := readUntil(t, b, ofType("left"))
	assert.Equal(t, "departed", left["departure"])
	readUntil(t, a, roomEvent("participant_left", "B"))

	require.NoError(t, b.WriteJSON(map[string]any{"type": "leave"}))
	left = readUntil(t, b, ofType("left"))
	assert.Equal(t, "noop", left["departure"])
}

func TestSessionMessages(t *testing.T) {
	srv := newServer(t)
	c := dial(t, srv, "s1")

	require.NoError(t, c.WriteJSON(map[string]any{"type": "ping"}))
	readUntil(t, c, ofType("pong"))

	require.NoError(t, c.WriteJSON(map[string]any{"type": "rename", "name": "Alice"}))
	who := readUntil(t, c, ofType("whoami"))
	assert.Equal(t, "Alice", who["name"])
	assert.Equal(t, "s1", who["sid"])

	require.NoError(t, c.WriteJSON(map[string]any{"type": "publish", "kind": "video"}))
	e := readUntil(t, c, ofType("error"))
	assert.Equal(t, "not_in_room", e["error"])

	require.NoError(t, c.WriteJSON(map[string]any{"type": "offer", "sdp": "v=0"}))
	e = readUntil(t, c, ofType("error"))
	assert.Equal(t, "no_media", e["error"])

	require.NoError(t, c.WriteJSON(map[string]any{"type": "join", "room": "r1", "participant": "A", "publish": []string{"hologram"}}))
	e = readUntil(t, c, ofType("error"))
	assert.Equal(t, "bad_payload", e["error"])

	require.NoError(t, c.WriteJSON(map[string]any{"type": "join", "room": "r1", "participant": "A"}))
	joined := readUntil(t, c, ofType("joined"))
	p, _ := joined["participant"].(map[string]any)
	assert.Equal(t, "Alice", p["display_name"])
}

func TestSubscribeErrors(t *testing.T) {
	srv := newServer(t)
	a := dial(t, srv, "sa")

	require.NoError(t, a.WriteJSON(map[string]any{"type": "join", "room": "r1", "participant": "A", "publish": []string{"video"}}))
	readUntil(t, a, ofType("joined"))

	require.NoError(t, a.WriteJSON(map[string]any{"type": "subscribe", "stream": "A_video"}))
	e := readUntil(t, a, ofType("error"))
	assert.Equal(t, "self_subscription", e["error"])

	require.NoError(t, a.WriteJSON(map[string]any{"type": "subscribe", "stream": "Z_video"}))
	e = readUntil(t, a, ofType("error"))
	assert.Equal(t, "stream_not_found", e["error"])
}

func TestErrorCodeFallback(t *testing.T) {
	assert.Equal(t, "internal", signal.ErrorCode(assert.AnError))
}

func TestLeaveRightAfterJoinLeavesNoParticipant(t *testing.T) {
	env := newEnv(t, false)

	for i := range 20 {
		room := domain.RoomID(fmt.Sprintf("r%d", i))
		c := dial(t, env.srv, fmt.Sprintf("s%d", i))
		require.NoError(t, c.WriteJSON(map[string]any{"type": "join", "room": room, "participant": "A", "publish": []string{"audio", "video"}}))
		require.NoError(t, c.WriteJSON(map[string]any{"type": "leave"}))
		readUntil(t, c, ofType("left"))

		snap, err := env.coord.Snapshot(room)
		if err == nil {
			assert.Empty(t, snap.Participants, "room %s", room)
		}
		_ = c.Close()
	}
}

func TestDisconnectDuringJoinLeavesNoParticipant(t *testing.T) {
	env := newEnv(t, false)

	c := dial(t, env.srv, "s1")
	require.NoError(t, c.WriteJSON(map[string]any{"type": "join", "room": "r1", "participant": "A", "publish": []string{"video"}}))
	_ = c.Close()

	// The join is either rolled back or departed again; the room itself may
	// not exist when the join never got that far.
	time.Sleep(50 * time.Millisecond)
	require.Never(t, func() bool {
		snap, _ := env.coord.Snapshot("r1")
		return len(snap.Participants) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestMixedRoomSimulatedAndBrowser(t *testing.T) {
	env := newEnv(t, true)

	fake, err := env.coord.Join(context.Background(), orch.JoinRequest{
		Room:        "mix",
		Participant: "fake-1",
		Publish:     []domain.StreamKind{domain.KindVideo},
	})
	require.NoError(t, err)
	ref := core.StreamRef{Room: "mix", Participant: "fake-1", Stream: fake.Streams[0].ID, Kind: domain.KindVideo}
	assert.True(t, env.sim.Active(ref))

	a := dial(t, env.srv, "sa")
	require.NoError(t, a.WriteJSON(map[string]any{"type": "join", "room": "mix", "participant": "A"}))
	joined := readUntil(t, a, ofType("joined"))
	assert.Len(t, joined["subscriptions"], 1)
	assert.Len(t, joined["members"], 2)
	assert.Equal(t, 1, env.mixed.Subscribers(ref))

	// The browser's own streams wait for a remote track on its peer connection.
	require.NoError(t, a.WriteJSON(map[string]any{"type": "publish", "kind": "audio"}))
	e := readUntil(t, a, ofType("error"))
	assert.Equal(t, "negotiation_failed", e["error"])
	assert.False(t, env.sim.Active(core.StreamRef{Room: "mix", Participant: "A", Stream: "A_audio"}))
}
