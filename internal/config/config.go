package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Slack    SlackConfig    `yaml:"slack"`
	Payment  PaymentConfig  `yaml:"payment"`
	Dialog   DialogConfig   `yaml:"dialog"`
	Receipt  ReceiptConfig  `yaml:"receipt"`
	Answer   AnswerConfig   `yaml:"answer"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MetricsPort     int           `yaml:"metricsPort"`
}

const (
	SlackModeSocket = "socket"
	SlackModeHTTP   = "http"
)

type SlackConfig struct {
	Enabled       bool            `yaml:"enabled"`
	Mode          string          `yaml:"mode"`
	BotToken      string          `yaml:"botToken"`
	AppToken      string          `yaml:"appToken"`
	SigningSecret string          `yaml:"signingSecret"`
	Commands      []string        `yaml:"commands"`
	AckBudget     time.Duration   `yaml:"ackBudget"`
	PostToChannel bool            `yaml:"postToChannel"`
	RateLimit     RateLimitConfig `yaml:"rateLimit"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
}

type PaymentConfig struct {
	Provider       string          `yaml:"provider"`
	Stripe         StripeConfig    `yaml:"stripe"`
	Simulated      SimulatedConfig `yaml:"simulated"`
	MaxAttempts    uint            `yaml:"maxAttempts"`
	InitialBackoff time.Duration   `yaml:"initialBackoff"`
	MaxBackoff     time.Duration   `yaml:"maxBackoff"`
	AttemptTimeout time.Duration   `yaml:"attemptTimeout"`
	TotalTimeout   time.Duration   `yaml:"totalTimeout"`
	Breaker        BreakerConfig   `yaml:"breaker"`
}

type StripeConfig struct {
	SecretKey string `yaml:"secretKey"`
	BaseURL   string `yaml:"baseURL"`
}

type SimulatedConfig struct {
	Latency     time.Duration `yaml:"latency"`
	FailureRate float64       `yaml:"failureRate"`
	TimeoutRate float64       `yaml:"timeoutRate"`
	Capturable  int64         `yaml:"capturable"`
}

type BreakerConfig struct {
	MaxRequests  uint32        `yaml:"maxRequests"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	MinRequests  uint32        `yaml:"minRequests"`
	FailureRatio float64       `yaml:"failureRatio"`
}

type DialogConfig struct {
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
	Redis         RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type ReceiptConfig struct {
	CurrencyPrefix string `yaml:"currencyPrefix"`
}

type AnswerConfig struct {
	Text string `yaml:"text"`
}

type DatabaseConfig struct {
	Driver string       `yaml:"driver"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

type SQLiteConfig struct {
	Path              string `yaml:"path"`
	MaxOpenConns      int    `yaml:"maxOpenConns"`
	PragmaJournalMode string `yaml:"pragmaJournalMode"`
	PragmaBusyTimeout int    `yaml:"pragmaBusyTimeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads a YAML config file and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MetricsPort:     9090,
		},
		Slack: SlackConfig{
			Enabled:       true,
			Mode:          SlackModeSocket,
			Commands:      []string{"/support", "/refund"},
			AckBudget:     2500 * time.Millisecond,
			PostToChannel: true,
			RateLimit:     RateLimitConfig{Enabled: true, RequestsPerMinute: 600},
		},
		Payment: PaymentConfig{
			Provider:       "stripe",
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			AttemptTimeout: 5 * time.Second,
			TotalTimeout:   15 * time.Second,
			Simulated: SimulatedConfig{
				Latency:    150 * time.Millisecond,
				Capturable: 100_000,
			},
			Breaker: BreakerConfig{
				MaxRequests:  1,
				Interval:     60 * time.Second,
				Timeout:      30 * time.Second,
				MinRequests:  5,
				FailureRatio: 0.6,
			},
		},
		Dialog: DialogConfig{
			Backend:       "memory",
			TTL:           10 * time.Minute,
			SweepInterval: time.Minute,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "refundbot:dialog:",
			},
		},
		Receipt: ReceiptConfig{
			CurrencyPrefix: "$",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:              "/data/refundbot.db",
				MaxOpenConns:      1,
				PragmaJournalMode: "wal",
				PragmaBusyTimeout: 5000,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// expandEnvVars replaces ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "${" + key + "}"
	})
}

// HandlesCommand reports whether command is one of the configured slash commands.
func (c *SlackConfig) HandlesCommand(command string) bool {
	if len(c.Commands) == 0 {
		return true
	}
	for _, cmd := range c.Commands {
		if cmd == command {
			return true
		}
	}
	return false
}
