package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/glowdesk/backend/libs/config"
	"github.com/glowdesk/backend/libs/db"
	"github.com/glowdesk/backend/libs/httpx"
	"github.com/glowdesk/backend/libs/kafkax"
	otelx "github.com/glowdesk/backend/libs/otel"
	"github.com/glowdesk/backend/libs/runtime"
	"github.com/glowdesk/backend/services/reminder-service/internal/dispatch"
	"github.com/glowdesk/backend/services/reminder-service/internal/push"
	"github.com/glowdesk/backend/services/reminder-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "reminder-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewRepository(pool)

	var sender push.Sender
	switch strings.ToLower(config.String("PUSH_PROVIDER", "webhook")) {
	case "noop":
		sender = push.NewNoopSender()
	default:
		sender = push.NewWebhookSender(
			config.String("PUSH_WEBHOOK_URL", ""),
			config.String("PUSH_WEBHOOK_TOKEN", ""),
		)
	}
	logger.Info("push sender configured", "provider", sender.ProviderID())

	brokers := config.String("KAFKA_BROKERS", "")
	events := kafkax.NewPublisher(brokers, logger)
	defer func() { _ = events.Close() }()

	leadMinutes := 15
	if v, err := strconv.Atoi(config.String("REMINDER_LEAD_MINUTES", "15")); err == nil && v > 0 {
		leadMinutes = v
	}
	intervalSeconds := 60
	if v, err := strconv.Atoi(config.String("REMINDER_INTERVAL_SECONDS", "60")); err == nil && v > 0 {
		intervalSeconds = v
	}

	dispatcher := dispatch.New(repo, sender, events, logger, dispatch.Config{
		Lead:        time.Duration(leadMinutes) * time.Minute,
		Interval:    time.Duration(intervalSeconds) * time.Second,
		PruneTokens: config.String("PUSH_PRUNE_INVALID_TOKENS", "true") != "false",
	})
	go dispatcher.Run(ctx)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "reminder")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
