package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type RateLimit struct {
	Attempts int           `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Config struct {
	Mode           string   `mapstructure:"mode"`
	Port           int      `mapstructure:"port"`
	LogLevel       string   `mapstructure:"log_level"`
	Secret         string   `mapstructure:"secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	SendBuffer int           `mapstructure:"send_buffer"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	MaxRoomCodeLen  int           `mapstructure:"max_room_code_len"`
	RoomIdleTimeout time.Duration `mapstructure:"room_idle_timeout"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	Backpressure    string        `mapstructure:"backpressure"`
	RateLimit       RateLimit     `mapstructure:"rate_limit"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`
	Kafka      Kafka       `mapstructure:"kafka"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3001)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "change-me")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("read_limit", 64*1024)
	v.SetDefault("send_buffer", 64)
	v.SetDefault("write_wait", "10s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("max_room_code_len", 64)
	v.SetDefault("room_idle_timeout", "0s")
	v.SetDefault("janitor_interval", "30s")
	v.SetDefault("backpressure", "kick")
	v.SetDefault("rate_limit.attempts", 20)
	v.SetDefault("rate_limit.interval", "1m")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "rendezvous.rooms")
}

// Load merges defaults, config/config.<CONFIG_ENV>.yaml (or --config),
// a local .env, RENDEZVOUS_* environment variables and flags, in rising
// precedence. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Str("module", "config").Msg("loaded .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("RENDEZVOUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileName := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			fileName = f.Value.String()
		}
		for key, flag := range map[string]string{"port": "port", "mode": "mode", "log_level": "log-level"} {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}

	v.SetConfigFile(fileName)
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
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Dur("room_idle_timeout", cfg.RoomIdleTimeout).
		Int("kafka_brokers", len(cfg.Kafka.Brokers)).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if c.ReadLimit <= 0 {
		errs = append(errs, errors.New("read_limit must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		errs = append(errs, fmt.Errorf("ping_period (%s) must be positive and below pong_wait (%s)", c.PingPeriod, c.PongWait))
	}
	if c.RoomIdleTimeout < 0 {
		errs = append(errs, errors.New("room_idle_timeout must not be negative"))
	}
	if c.RoomIdleTimeout > 0 && c.JanitorInterval <= 0 {
		errs = append(errs, errors.New("janitor_interval must be positive when room_idle_timeout is set"))
	}
	if c.RateLimit.Attempts <= 0 || c.RateLimit.Interval <= 0 {
		errs = append(errs, errors.New("rate_limit attempts and interval must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when kafka.brokers is set"))
	}
	return errors.Join(errs...)
}
