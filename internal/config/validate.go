package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks the config for errors.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		errs = append(errs, "server.metricsPort must be between 0 and 65535")
	}

	if cfg.Slack.Enabled {
		if cfg.Slack.BotToken == "" {
			errs = append(errs, "slack.botToken is required when slack is enabled")
		}
		switch cfg.Slack.Mode {
		case SlackModeSocket:
			if cfg.Slack.AppToken == "" {
				errs = append(errs, "slack.appToken is required in socket mode")
			}
		case SlackModeHTTP:
			if cfg.Slack.SigningSecret == "" {
				errs = append(errs, "slack.signingSecret is required in http mode")
			}
		default:
			errs = append(errs, fmt.Sprintf("slack.mode must be socket or http (got %q)", cfg.Slack.Mode))
		}
		if cfg.Slack.AckBudget <= 0 || cfg.Slack.AckBudget >= 3*time.Second {
			errs = append(errs, "slack.ackBudget must be between 0 and 3s")
		}
		for _, cmd := range cfg.Slack.Commands {
			if !strings.HasPrefix(cmd, "/") {
				errs = append(errs, fmt.Sprintf("slack.commands entry %q must start with /", cmd))
			}
		}
	}

	switch cfg.Payment.Provider {
	case "stripe":
		if cfg.Payment.Stripe.SecretKey == "" {
			errs = append(errs, "payment.stripe.secretKey is required when provider is stripe")
		}
	case "simulated":
		if r := cfg.Payment.Simulated.FailureRate; r < 0 || r > 1 {
			errs = append(errs, "payment.simulated.failureRate must be between 0 and 1")
		}
		if r := cfg.Payment.Simulated.TimeoutRate; r < 0 || r > 1 {
			errs = append(errs, "payment.simulated.timeoutRate must be between 0 and 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("payment.provider must be stripe or simulated (got %q)", cfg.Payment.Provider))
	}
	if cfg.Payment.MaxAttempts == 0 || cfg.Payment.MaxAttempts > 10 {
		errs = append(errs, "payment.maxAttempts must be between 1 and 10")
	}
	if cfg.Payment.AttemptTimeout <= 0 {
		errs = append(errs, "payment.attemptTimeout must be positive")
	}
	if cfg.Payment.TotalTimeout < cfg.Payment.AttemptTimeout {
		errs = append(errs, "payment.totalTimeout must be at least payment.attemptTimeout")
	}
	if cfg.Payment.MaxBackoff < cfg.Payment.InitialBackoff {
		errs = append(errs, "payment.maxBackoff must be at least payment.initialBackoff")
	}
	if r := cfg.Payment.Breaker.FailureRatio; r <= 0 || r > 1 {
		errs = append(errs, "payment.breaker.failureRatio must be in (0, 1]")
	}

	switch cfg.Dialog.Backend {
	case "memory":
	case "redis":
		if cfg.Dialog.Redis.Addr == "" {
			errs = append(errs, "dialog.redis.addr is required when backend is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("dialog.backend must be memory or redis (got %q)", cfg.Dialog.Backend))
	}
	if cfg.Dialog.TTL <= 0 {
		errs = append(errs, "dialog.ttl must be positive")
	}

	if cfg.Database.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("database.driver must be sqlite (got %q)", cfg.Database.Driver))
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.SQLite.Path == "" {
		errs = append(errs, "database.sqlite.path is required when driver is sqlite")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
