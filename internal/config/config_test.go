package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 30*time.Second, cfg.Room.GracePeriod)
	assert.Equal(t, EngineWebRTC, cfg.Media.Engine)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Media.ICEServers)
	assert.Equal(t, 5, cfg.Signal.JoinLimit)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
port: 9090
log_level: debug
room:
  grace_period: 2s
  barrier_timeout: 5m
media:
  engine: simulated
  simulated_latency: 15ms
`), 0o600))
	t.Setenv("ROOMS_PORT", "7070")
	t.Setenv("ROOMS_ROOM_JOIN_TIMEOUT", "3s")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.Room.GracePeriod)
	assert.Equal(t, 3*time.Second, cfg.Room.JoinTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Room.BarrierTimeout)
	assert.Equal(t, EngineSimulated, cfg.Media.Engine)
	assert.Equal(t, 15*time.Millisecond, cfg.Media.SimulatedLatency)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("media:\n  engine: carrier-pigeon\n"), 0o600))
	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "carrier-pigeon")
}
