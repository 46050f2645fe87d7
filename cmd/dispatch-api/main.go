// Package main provides the dispatch API service entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vitaqr/go-eds/internal/api/handlers"
	"github.com/vitaqr/go-eds/internal/api/middleware"
	"github.com/vitaqr/go-eds/internal/config"
	"github.com/vitaqr/go-eds/internal/dispatch"
	"github.com/vitaqr/go-eds/internal/domain/alert"
	"github.com/vitaqr/go-eds/internal/domain/profile"
	"github.com/vitaqr/go-eds/internal/hospital"
	"github.com/vitaqr/go-eds/internal/infrastructure/postgres"
	"github.com/vitaqr/go-eds/internal/infrastructure/redpanda"
	"github.com/vitaqr/go-eds/internal/notify"
	"github.com/vitaqr/go-eds/internal/observability/metrics"
	"github.com/vitaqr/go-eds/internal/observability/tracing"
	"github.com/vitaqr/go-eds/internal/realtime"
	"github.com/vitaqr/go-eds/pkg/circuitbreaker"
	"github.com/vitaqr/go-eds/pkg/idempotency"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Tracing
	tp, err := tracing.Init(context.Background(), tracing.DefaultConfig("dispatch-api"))
	if err != nil {
		logger.Warn("tracing init failed, continuing without export", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	// Database
	pool, err := pgxpool.New(context.Background(), cfg.DB.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(context.Background()); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	m := metrics.New()

	// Notification pipeline
	breakers := circuitbreaker.NewManager(logger)
	channels, err := notify.BuildChannels(cfg, breakers, logger)
	if err != nil {
		logger.Fatal("notification channel wiring failed", zap.Error(err))
	}
	if cfg.Notify.Simulation {
		logger.Warn("simulation mode: no real notifications will be sent")
	}

	alertRepo := alert.NewRepository(pool, logger)
	auditRecords := postgres.NewAuditRecordStore(alertRepo, pool, redpanda.TopicNotificationsAudit, logger)
	dispatcher := notify.NewDispatcher(channels, auditRecords, m, logger)

	// Realtime fan-out: events go through the outbox to Redpanda, then back
	// in through the consumer so every API replica sees every alert.
	hub := realtime.NewHub()
	defer hub.Close()
	publisher := postgres.NewEventPublisher(pool, redpanda.TopicPanicEvents)

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Kafka.Brokers
	consumerCfg.GroupID = cfg.Kafka.GroupID
	consumerCfg.Topics = []string{redpanda.TopicPanicEvents}
	consumer, err := redpanda.NewConsumer(consumerCfg, feedHub(hub, m, logger), logger)
	if err != nil {
		logger.Warn("event consumer unavailable, streams limited to this replica", zap.Error(err))
	} else {
		consumer.Start()
		defer consumer.Stop()
	}

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	orch := dispatch.New(
		alertRepo,
		profile.NewPGStore(pool),
		hospital.NewMatcher(hospital.NewPGDirectory(pool), logger),
		dispatcher,
		publisher,
		logger,
		dispatch.WithMetrics(m),
		dispatch.WithInbox(inbox),
	)

	alertHandler := handlers.NewAlertHandler(orch, logger)
	accessHandler := handlers.NewAccessHandler(orch, logger)
	streamHandler := handlers.NewStreamHandler(hub, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("dispatch-api"))

	// Health and metrics (no auth)
	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.Server.APIKeys))
		r.Mount("/alerts", alertHandler.Routes())
		r.Mount("/access", accessHandler.Routes())
		r.Mount("/stream", streamHandler.Routes())
		r.Get("/providers/health", handlers.ProviderHealthHandler(dispatcher, breakers))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams outlive any fixed write deadline
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting dispatch API", zap.String("port", cfg.Server.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// feedHub turns consumed alert events back into hub messages. The outbox
// payload is a marshaled realtime.Message, so the envelope round-trips.
func feedHub(hub *realtime.Hub, m *metrics.Metrics, logger *zap.Logger) redpanda.MessageHandler {
	return func(_ context.Context, msg *redpanda.ConsumedMessage) error {
		m.KafkaMessagesConsumed.Inc()

		var evt realtime.Message
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			// Commit malformed records; replaying them cannot help.
			logger.Warn("dropping malformed event", zap.String("topic", msg.Topic), zap.Error(err))
			return nil
		}
		hub.Dispatch(&evt)
		return nil
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"dispatch-api","version":"1.0.0"}`)
}
