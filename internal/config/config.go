package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type RoomConfig struct {
	GracePeriod        time.Duration `mapstructure:"grace_period"`
	JoinTimeout        time.Duration `mapstructure:"join_timeout"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	BarrierTimeout     time.Duration `mapstructure:"barrier_timeout"`
}

type MediaConfig struct {
	// Engine is "webrtc" (browser peers via pion, harness participants
	// simulated) or "simulated" (no real media at all).
	Engine           string        `mapstructure:"engine"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	SimulatedLatency time.Duration `mapstructure:"simulated_latency"`
}

type SignalConfig struct {
	JoinLimit    int           `mapstructure:"join_limit"`
	JoinInterval time.Duration `mapstructure:"join_interval"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Room   RoomConfig   `mapstructure:"room"`
	Media  MediaConfig  `mapstructure:"media"`
	Signal SignalConfig `mapstructure:"signal"`
}

const (
	EngineWebRTC    = "webrtc"
	EngineSimulated = "simulated"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")

	v.SetDefault("room.grace_period", "30s")
	v.SetDefault("room.join_timeout", "15s")
	v.SetDefault("room.negotiation_timeout", "10s")
	v.SetDefault("room.barrier_timeout", "60s")

	v.SetDefault("media.engine", EngineWebRTC)
	v.SetDefault("media.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.simulated_latency", "0s")

	v.SetDefault("signal.join_limit", 5)
	v.SetDefault("signal.join_interval", "10s")
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults. ROOMS_*
// environment variables override both, e.g. ROOMS_ROOM_GRACE_PERIOD.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("ROOMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("engine", cfg.Media.Engine).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Media.Engine {
	case EngineWebRTC, EngineSimulated:
	default:
		return fmt.Errorf("unknown media engine %q", c.Media.Engine)
	}
	if c.Room.GracePeriod < 0 {
		return fmt.Errorf("room.grace_period must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

// Level returns the zerolog level for LogLevel, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
