package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/Rooms/internal/adapters/signal"
	"github.com/dkeye/Rooms/internal/app"
	"github.com/dkeye/Rooms/internal/app/orch"
	"github.com/dkeye/Rooms/internal/app/sfu"
	"github.com/dkeye/Rooms/internal/config"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *sfu.Simulated) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Mode: "test", StaticPath: t.TempDir(), Secret: "test-secret"}

	reg := app.NewRegistry()
	ctl := signal.NewSignalWSController(reg, nil, signal.Options{})
	sim := sfu.NewSimulated(0)
	rooms := app.NewRoomManager(sim, ctl, time.Minute)
	coord := orch.NewSessionCoordinator(rooms, sim, app.SimplePolicy{}, orch.Options{
		JoinTimeout:        time.Second,
		NegotiationTimeout: time.Second,
		BarrierTimeout:     time.Second,
	})
	ctl.Bind(coord, nil)
	return SetupRouter(context.Background(), cfg, coord, ctl), sim
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJoinAndSnapshot(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/rooms/r1/participants", gin.H{"participant": "A", "name": "Alice", "publish": []string{"audio", "video"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res JoinResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Len(t, res.Streams, 2)
	assert.Equal(t, "Alice", res.Participant.DisplayName)

	w = do(t, r, http.MethodPost, "/api/rooms/r1/participants", gin.H{"participant": "B"})
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Len(t, res.Subscriptions, 2)

	w = do(t, r, http.MethodGet, "/api/rooms/r1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap domain.RoomSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, domain.RoomActive, snap.State)
	assert.Equal(t, domain.ParticipantID("A"), snap.Participants[0].ID)

	w = do(t, r, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"participant_count":2`)
}

func TestStatusMapping(t *testing.T) {
	r, sim := newTestRouter(t)
	sim.Reject(domain.KindScreen)

	w := do(t, r, http.MethodGet, "/api/rooms/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "room_not_found")

	w = do(t, r, http.MethodPost, "/api/rooms/r1/participants", gin.H{"participant": "A", "publish": []string{"screen"}})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = do(t, r, http.MethodPost, "/api/rooms/r1/participants", gin.H{"participant": "A"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, r, http.MethodPost, "/api/rooms/r1/participants", gin.H{"participant": "A"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPost, "/api/rooms/r1/participants", gin.H{"participant": "C", "name": "a display name that is way too long to fit"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/rooms/r1/participants", gin.H{"participant": "C", "publish": []string{"hologram"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/rooms/r1/participants/A/subscriptions", gin.H{"stream": "Z_video"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/rooms/r1/await", gin.H{"transition": "active", "count": 1, "timeout_ms": 20})
	assert.Equal(t, http.StatusRequestTimeout, w.Code)

	w = do(t, r, http.MethodPost, "/api/rooms/r1/await", gin.H{"transition": "leaving", "count": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, id := range []string{"A", "B"} {
		w := do(t, r, http.MethodPost, "/api/rooms/r1/participants", gin.H{"participant": id, "subscribe_all": false})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(t, r, http.MethodPost, "/api/rooms/r1/participants/A/streams", gin.H{"kind": "video"})
	require.Equal(t, http.StatusCreated, w.Code)
	var ep domain.StreamEndpoint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ep))
	assert.True(t, ep.Active)

	w = do(t, r, http.MethodPost, "/api/rooms/r1/participants/B/subscriptions", gin.H{"stream": ep.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, r, http.MethodPost, "/api/rooms/r1/participants/A/subscriptions", gin.H{"stream": ep.ID})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodDelete, fmt.Sprintf("/api/rooms/r1/participants/B/subscriptions/%s", ep.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodDelete, fmt.Sprintf("/api/rooms/r1/participants/A/streams/%s", ep.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodPatch, "/api/rooms/r1/participants/A", gin.H{"name": "Alice"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodDelete, "/api/rooms/r1/participants/A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "departed")
	w = do(t, r, http.MethodDelete, "/api/rooms/r1/participants/A", nil)
	assert.Contains(t, w.Body.String(), "noop")

	w = do(t, r, http.MethodDelete, "/api/rooms/r1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"evicted":1`)
}

func TestAwaitReleasesOnJoin(t *testing.T) {
	r, _ := newTestRouter(t)

	done := make(chan int, 1)
	go func() {
		w := do(t, r, http.MethodPost, "/api/rooms/r1/await", gin.H{"transition": "active", "participants": []string{"A", "B"}, "timeout_ms": 1000})
		done <- w.Code
	}()
	for _, id := range []string{"A", "B"} {
		w := do(t, r, http.MethodPost, "/api/rooms/r1/participants", gin.H{"participant": id})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("await did not return")
	}

	w := do(t, r, http.MethodPost, "/api/rooms/gone/await", gin.H{"transition": "left", "participants": []string{"A"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	do(t, r, http.MethodPost, "/api/rooms/r1/participants", gin.H{"participant": "A"})

	w := do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rooms_created_total")
	assert.Contains(t, w.Body.String(), "join_duration_seconds")
}
