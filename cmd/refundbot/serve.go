package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonny/refundbot/internal/adapter/inbound/slackbot"
	"github.com/jonny/refundbot/internal/adapter/inbound/webhook"
	"github.com/jonny/refundbot/internal/adapter/outbound/answer"
	"github.com/jonny/refundbot/internal/adapter/outbound/dialogstore"
	slacknotifier "github.com/jonny/refundbot/internal/adapter/outbound/notification/slack"
	"github.com/jonny/refundbot/internal/adapter/outbound/payment"
	"github.com/jonny/refundbot/internal/adapter/outbound/payment/simulated"
	"github.com/jonny/refundbot/internal/adapter/outbound/payment/stripe"
	"github.com/jonny/refundbot/internal/adapter/outbound/persistence/sqlite"
	"github.com/jonny/refundbot/internal/config"
	"github.com/jonny/refundbot/internal/domain/port/outbound"
	"github.com/jonny/refundbot/internal/domain/receipt"
	"github.com/jonny/refundbot/internal/domain/service"
	"github.com/jonny/refundbot/internal/observability"
	"github.com/jonny/refundbot/pkg/health"
	"github.com/jonny/refundbot/pkg/version"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Slack bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, buildLogger(cfg.Logging))
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("refundbot", reg)

	checker := health.NewChecker(0)

	// --- Database ---
	store, err := sqlite.NewStore(sqlite.Config{
		Path:              cfg.Database.SQLite.Path,
		MaxOpenConns:      cfg.Database.SQLite.MaxOpenConns,
		PragmaJournalMode: cfg.Database.SQLite.PragmaJournalMode,
		PragmaBusyTimeout: cfg.Database.SQLite.PragmaBusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to open sqlite store: %w", err)
	}
	defer store.Close()
	checker.Register("database", store.Ping)

	// --- Payment gateway ---
	processor, err := buildProcessor(cfg.Payment)
	if err != nil {
		return err
	}
	gateway := payment.NewClient(processor, payment.Config{
		MaxAttempts:    cfg.Payment.MaxAttempts,
		InitialBackoff: cfg.Payment.InitialBackoff,
		MaxBackoff:     cfg.Payment.MaxBackoff,
		AttemptTimeout: cfg.Payment.AttemptTimeout,
		TotalTimeout:   cfg.Payment.TotalTimeout,
		Breaker: payment.BreakerConfig{
			MaxRequests:  cfg.Payment.Breaker.MaxRequests,
			Interval:     cfg.Payment.Breaker.Interval,
			Timeout:      cfg.Payment.Breaker.Timeout,
			MinRequests:  cfg.Payment.Breaker.MinRequests,
			FailureRatio: cfg.Payment.Breaker.FailureRatio,
		},
	}, payment.WithLogger(logger), payment.WithMetrics(metrics))

	g, gCtx := errgroup.WithContext(ctx)

	// --- Dialog store ---
	var dialogs outbound.DialogStore
	switch cfg.Dialog.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Dialog.Redis.Addr,
			Password: cfg.Dialog.Redis.Password,
			DB:       cfg.Dialog.Redis.DB,
		})
		defer rdb.Close()
		redisStore := dialogstore.NewRedisStore(rdb, cfg.Dialog.TTL, cfg.Dialog.Redis.KeyPrefix)
		checker.Register("redis", redisStore.Ping)
		dialogs = redisStore
	default:
		memStore := dialogstore.NewMemoryStore(cfg.Dialog.TTL,
			dialogstore.WithMetrics(metrics),
			dialogstore.WithLogger(logger),
		)
		g.Go(func() error { return memStore.Run(gCtx, cfg.Dialog.SweepInterval) })
		dialogs = memStore
	}

	// --- Domain ---
	orchestrator := service.NewOrchestrator(service.Dependencies{
		Store:    dialogs,
		Gateway:  gateway,
		Answers:  answer.NewStatic(cfg.Answer.Text),
		Ledger:   sqlite.NewRefundRepo(store),
		Renderer: receipt.NewRenderer(cfg.Receipt.CurrencyPrefix),
		Logger:   logger,
	})

	// --- Slack ---
	notifier := slacknotifier.NewNotifier(slacknotifier.Config{
		BotToken:      cfg.Slack.BotToken,
		PostToChannel: cfg.Slack.PostToChannel,
	}, logger)
	dispatcher := slackbot.NewDispatcher(orchestrator, notifier, slackbot.DispatcherConfig{
		Accepts:   cfg.Slack.HandlesCommand,
		AckBudget: cfg.Slack.AckBudget,
	}, metrics, logger)

	switch {
	case !cfg.Slack.Enabled:
		logger.Info("slack disabled; serving health and metrics only")
	case cfg.Slack.Mode == config.SlackModeHTTP:
		rpm := 0
		if cfg.Slack.RateLimit.Enabled {
			rpm = cfg.Slack.RateLimit.RequestsPerMinute
		}
		server := webhook.NewServer(webhook.ServerConfig{
			Port:              cfg.Server.Port,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			ShutdownTimeout:   cfg.Server.ShutdownTimeout,
			SigningSecret:     cfg.Slack.SigningSecret,
			RequestsPerMinute: rpm,
		}, webhook.NewHandler(dispatcher, logger), metrics, logger)
		g.Go(func() error { return server.Start(gCtx) })
	default:
		bot := slackbot.NewBot(slackbot.Config{
			BotToken: cfg.Slack.BotToken,
			AppToken: cfg.Slack.AppToken,
		}, dispatcher, logger)
		g.Go(func() error {
			logger.Info("starting slack bot", "mode", config.SlackModeSocket)
			return bot.Start(gCtx)
		})
	}

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsMux.HandleFunc("/healthz", checker.LivenessHandler())
	metricsMux.HandleFunc("/readyz", checker.ReadinessHandler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	g.Go(func() error {
		logger.Info("starting metrics server", "port", cfg.Server.MetricsPort)
		errCh := make(chan error, 1)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()
		select {
		case <-gCtx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	})

	logger.Info("refundbot started", "version", version.String(), "processor", processor.Name(), "dialog_backend", cfg.Dialog.Backend)

	err = g.Wait()
	// Late deliveries hold their own contexts; let them finish before the store closes.
	dispatcher.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited with error", "error", err)
		return err
	}

	logger.Info("refundbot stopped")
	return nil
}

func buildProcessor(cfg config.PaymentConfig) (outbound.RefundProcessor, error) {
	switch cfg.Provider {
	case "simulated":
		return simulated.New(
			simulated.WithLatency(cfg.Simulated.Latency),
			simulated.WithFailureRate(cfg.Simulated.FailureRate),
			simulated.WithTimeoutRate(cfg.Simulated.TimeoutRate),
			simulated.WithCapturable(cfg.Simulated.Capturable),
		), nil
	default:
		p, err := stripe.New(stripe.Config{
			SecretKey: cfg.Stripe.SecretKey,
			BaseURL:   cfg.Stripe.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stripe processor: %w", err)
		}
		return p, nil
	}
}
