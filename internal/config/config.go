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
	Mode      string          `mapstructure:"mode"`
	LogLevel  string          `mapstructure:"log_level"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Room      RoomConfig      `mapstructure:"room"`
	Physics   PhysicsConfig   `mapstructure:"physics"`
	Media     MediaConfig     `mapstructure:"media"`
	Signaling SignalingConfig `mapstructure:"signaling"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type BrokerConfig struct {
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Queue          string        `mapstructure:"queue"`
}

type AuthConfig struct {
	Secret     string `mapstructure:"secret"`
	CookieName string `mapstructure:"cookie_name"`
	Issuer     string `mapstructure:"issuer"`
}

type RoomConfig struct {
	TickRate         int           `mapstructure:"tick_rate"`
	Capacity         int           `mapstructure:"capacity"`
	ChatMaxLength    int           `mapstructure:"chat_max_length"`
	ChatRateLimit    int           `mapstructure:"chat_rate_limit"`
	ChatRateInterval time.Duration `mapstructure:"chat_rate_interval"`
	Backpressure     string        `mapstructure:"backpressure"`
}

type PhysicsConfig struct {
	LevelPath   string  `mapstructure:"level_path"`
	SpawnRadius float64 `mapstructure:"spawn_radius"`
	SpawnHeight float64 `mapstructure:"spawn_height"`
}

type MediaConfig struct {
	Workers     int      `mapstructure:"workers"`
	Strategy    string   `mapstructure:"strategy"`
	AnnouncedIP string   `mapstructure:"announced_ip"`
	MinPort     uint16   `mapstructure:"min_port"`
	MaxPort     uint16   `mapstructure:"max_port"`
	ICEServers  []string `mapstructure:"ice_servers"`
}

type SignalingConfig struct {
	ProducePolicy string `mapstructure:"produce_policy"`
	EventBuffer   int    `mapstructure:"event_buffer"`
}

// Load reads config/<service>.<CONFIG_ENV>.yaml on top of the defaults.
// VIDEOROOM_* environment variables override both.
func Load(service string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/%s.%s.yaml", service, env)
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("videoroom")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, service)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("service", service).
		Str("mode", cfg.Mode).
		Int("port", cfg.HTTP.Port).
		Str("broker", cfg.Broker.URL).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	port := 2567
	if service == "sfu" {
		port = 3000
	}
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")

	v.SetDefault("http.port", port)
	v.SetDefault("http.read_limit", 32768)
	v.SetDefault("http.ping_period", "54s")
	v.SetDefault("http.pong_wait", "60s")
	v.SetDefault("http.write_timeout", "5s")

	v.SetDefault("broker.url", "nats://127.0.0.1:4222")
	v.SetDefault("broker.name", service)
	v.SetDefault("broker.request_timeout", "5s")
	v.SetDefault("broker.queue", "")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.cookie_name", "at")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("room.tick_rate", 60)
	v.SetDefault("room.capacity", 6)
	v.SetDefault("room.chat_max_length", 1000)
	v.SetDefault("room.chat_rate_limit", 10)
	v.SetDefault("room.chat_rate_interval", "10s")
	v.SetDefault("room.backpressure", "resync")

	v.SetDefault("physics.level_path", "")
	v.SetDefault("physics.spawn_radius", 10.0)
	v.SetDefault("physics.spawn_height", 10.0)

	v.SetDefault("media.workers", 0)
	v.SetDefault("media.strategy", "random")
	v.SetDefault("media.announced_ip", "")
	v.SetDefault("media.min_port", 40000)
	v.SetDefault("media.max_port", 40999)
	v.SetDefault("media.ice_servers", []string{})

	v.SetDefault("signaling.produce_policy", "replace")
	v.SetDefault("signaling.event_buffer", 64)
}

func (c *Config) validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if c.Room.TickRate <= 0 {
		return fmt.Errorf("room.tick_rate must be positive, got %d", c.Room.TickRate)
	}
	if c.Room.Capacity <= 0 {
		return fmt.Errorf("room.capacity must be positive, got %d", c.Room.Capacity)
	}
	if c.Media.MaxPort < c.Media.MinPort {
		return fmt.Errorf("media.max_port %d below media.min_port %d", c.Media.MaxPort, c.Media.MinPort)
	}
	switch c.Room.Backpressure {
	case "resync", "kick":
	default:
		return fmt.Errorf("room.backpressure must be resync or kick, got %q", c.Room.Backpressure)
	}
	switch c.Signaling.ProducePolicy {
	case "replace", "reject":
	default:
		return fmt.Errorf("signaling.produce_policy must be replace or reject, got %q", c.Signaling.ProducePolicy)
	}
	return nil
}
