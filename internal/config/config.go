package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Relay  RelayConfig  `mapstructure:"relay"`
	Client ClientConfig `mapstructure:"client"`
}

// RelayConfig tunes the rendezvous registry.
type RelayConfig struct {
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	RegisterLimit  int           `mapstructure:"register_limit"`
	RegisterWindow time.Duration `mapstructure:"register_window"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// ClientConfig tunes a peer session.
type ClientConfig struct {
	RelayURL               string        `mapstructure:"relay_url"`
	ICEServers             []string      `mapstructure:"ice_servers"`
	CodeTTL                time.Duration `mapstructure:"code_ttl"`
	PingInterval           time.Duration `mapstructure:"ping_interval"`
	PongTimeout            time.Duration `mapstructure:"pong_timeout"`
	ChunkSize              int           `mapstructure:"chunk_size"`
	BufferLowWater         uint64        `mapstructure:"buffer_low_water"`
	NegotiationTimeout     time.Duration `mapstructure:"negotiation_timeout"`
	MaxNegotiationAttempts int           `mapstructure:"max_negotiation_attempts"`
	LoopbackCandidates     bool          `mapstructure:"loopback_candidates"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 100*1024*1024)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "nyx-dev-secret")

	v.SetDefault("relay.grace_period", "10s")
	v.SetDefault("relay.register_limit", 10)
	v.SetDefault("relay.register_window", "1m")
	v.SetDefault("relay.send_buffer", 256)

	v.SetDefault("client.relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("client.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("client.code_ttl", "60s")
	v.SetDefault("client.ping_interval", "30s")
	v.SetDefault("client.pong_timeout", "5s")
	v.SetDefault("client.chunk_size", 64*1024)
	v.SetDefault("client.buffer_low_water", 1024*1024)
	v.SetDefault("client.negotiation_timeout", "20s")
	v.SetDefault("client.max_negotiation_attempts", 3)
	v.SetDefault("client.loopback_candidates", false)
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("nyx")
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
	if cfg.Client.MaxNegotiationAttempts < 1 {
		return nil, fmt.Errorf("client.max_negotiation_attempts must be positive, got %d", cfg.Client.MaxNegotiationAttempts)
	}
	if cfg.Client.ChunkSize <= 0 {
		return nil, fmt.Errorf("client.chunk_size must be positive, got %d", cfg.Client.ChunkSize)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}
