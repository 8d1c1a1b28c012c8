package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/config"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/database"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/fieldcrypt"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/gateway"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/handler"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/logging"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/notify"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/ratelimit"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/repository"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/service"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// ── 1. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.ConnString(), logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("connected to PostgreSQL")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	crypt := fieldcrypt.New(fieldcrypt.StaticSecret(cfg.EncryptionKey))
	if _, err := crypt.BlindIndex("startup"); err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	m := metrics.New()

	notifiers := notify.Multi{notify.NewWebhookNotifier(cfg.WebhookTimeout)}
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		notifiers = append(notifiers, notify.NewPubNubPublisher(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, "ticket-ledger"))
		logger.Info("availability publishing enabled")
	}

	deps := service.Deps{
		Events:        repository.NewEventRepository(pool, crypt),
		Ledger:        repository.NewRegistrationRepository(pool, crypt),
		Payments:      repository.NewPaymentRepository(pool),
		Activity:      repository.NewActivityRepository(pool, crypt),
		Gateway:       gw,
		Notifier:      notifiers,
		Crypt:         crypt,
		Metrics:       m,
		Logger:        logger,
		PublicBaseURL: cfg.PublicBaseURL,
		Currency:      cfg.Currency,
	}

	limiter, closeRedis := newLimiter(ctx, cfg, logger, m)
	defer closeRedis()

	// ── 3. Build the router ───────────────────────────────────────────────
	router := handler.NewRouter(handler.RouterConfig{
		Events:     handler.NewEventHandler(service.NewEventService(deps), service.NewBookingService(deps), logger),
		Payments:   handler.NewPaymentHandler(service.NewReconcileService(deps), gw, logger),
		Tickets:    handler.NewTicketHandler(service.NewTicketService(deps), logger),
		Metrics:    m,
		Limiter:    limiter,
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "provider", gw.Provider(), "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// newLimiter connects to REDIS_URL when set. Without Redis, or when it is
// unreachable at start-up, requests are not rate limited.
func newLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ratelimit.Limiter, func()) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set, rate limiting disabled")
		return nil, func() {}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, rate limiting disabled", "error", err)
		return nil, func() {}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, limiter will fail open until it recovers", "error", err)
	}
	return ratelimit.New(client, cfg.RateLimitPerMinute, logger, m), func() { _ = client.Close() }
}
