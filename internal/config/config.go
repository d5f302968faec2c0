package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/Huddle/internal/domain"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	StaticPath     string        `mapstructure:"static_path"`
	Secret         string        `mapstructure:"secret"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	SendQueue      int           `mapstructure:"send_queue"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`

	Log     LogConfig     `mapstructure:"log"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Session SessionConfig `mapstructure:"session"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Limits  LimitsConfig  `mapstructure:"limits"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EngineConfig struct {
	// Workers is the pool size; 0 means one per CPU.
	Workers     int               `mapstructure:"workers"`
	LogLevel    string            `mapstructure:"log_level"`
	RTCMinPort  uint16            `mapstructure:"rtc_min_port"`
	RTCMaxPort  uint16            `mapstructure:"rtc_max_port"`
	CallTimeout time.Duration     `mapstructure:"call_timeout"`
	Codecs      []domain.RtpCodec `mapstructure:"codecs"`
}

type SessionConfig struct {
	ReconnectTimeout time.Duration `mapstructure:"reconnect_timeout"`
	EmptyRoomGrace   time.Duration `mapstructure:"empty_room_grace"`
}

type AuthConfig struct {
	// Secret enables join tokens; empty lets clients pick their participant id.
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type LimitsConfig struct {
	JoinAttempts int           `mapstructure:"join_attempts"`
	JoinInterval time.Duration `mapstructure:"join_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("secret", "change-me")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("send_queue", 64)
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.log_level", "warn")
	v.SetDefault("engine.rtc_min_port", 0)
	v.SetDefault("engine.rtc_max_port", 0)
	v.SetDefault("engine.call_timeout", "10s")

	v.SetDefault("session.reconnect_timeout", "30s")
	v.SetDefault("session.empty_room_grace", "30s")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("limits.join_attempts", 5)
	v.SetDefault("limits.join_interval", "10s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). HUDDLE_* environment
// variables override file values, with '.' in keys spelled '_'.
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
	v.SetEnvPrefix("HUDDLE")
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
	if len(cfg.Engine.Codecs) == 0 {
		cfg.Engine.Codecs = domain.DefaultCodecs()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Int("workers", cfg.Engine.Workers).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative")
	}
	if (c.Engine.RTCMinPort == 0) != (c.Engine.RTCMaxPort == 0) || c.Engine.RTCMinPort > c.Engine.RTCMaxPort {
		return fmt.Errorf("engine rtc port range %d-%d invalid", c.Engine.RTCMinPort, c.Engine.RTCMaxPort)
	}
	if c.Session.ReconnectTimeout <= 0 || c.Session.EmptyRoomGrace <= 0 {
		return fmt.Errorf("session timeouts must be positive (reconnect %s, empty room grace %s)",
			c.Session.ReconnectTimeout, c.Session.EmptyRoomGrace)
	}
	for _, codec := range c.Engine.Codecs {
		if !codec.Kind.Valid() || codec.MimeType == "" || codec.ClockRate == 0 {
			return fmt.Errorf("engine codec %+v incomplete", codec)
		}
	}
	return nil
}
