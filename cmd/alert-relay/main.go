// Package main provides the alert event relay service entry point.
// Implements the Transactional Outbox pattern relay: alert events written
// alongside the alert row are shipped to Redpanda here, not in the request
// path.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vitaqr/go-eds/internal/config"
	"github.com/vitaqr/go-eds/internal/infrastructure/postgres"
	"github.com/vitaqr/go-eds/internal/infrastructure/redpanda"
	"github.com/vitaqr/go-eds/internal/observability/metrics"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Connect to database
	pool, err := pgxpool.New(context.Background(), cfg.DB.URL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	logger.Info("connected to database")

	// Make sure the alert topics exist before relaying into them.
	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	ensureCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := admin.EnsureTopics(ensureCtx); err != nil {
		logger.Warn("topic setup failed, relaying anyway", zap.Error(err))
	}
	cancel()
	admin.Close()

	// Create Redpanda producer
	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Kafka.Brokers))

	m := metrics.New()

	// Create outbox relay
	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.DeadLetterTopic = redpanda.TopicDeadLetter
	outbox := postgres.NewOutbox(pool, &producerAdapter{producer, m}, outboxCfg, logger)

	outbox.Start()
	logger.Info("alert relay started")

	// Sample outbox depth so a stuck relay shows up on dashboards.
	samplerCtx, stopSampler := context.WithCancel(context.Background())
	defer stopSampler()
	go sampleOutboxDepth(samplerCtx, pool, m, logger)

	// Metrics endpoint for scraping relay lag and outbox depth.
	metricsAddr := ":9091"
	if v := os.Getenv("METRICS_PORT"); v != "" {
		metricsAddr = ":" + v
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	outbox.Stop()
	logger.Info("alert relay stopped")
}

// producerAdapter adapts the Redpanda producer to OutboxPublisher interface
type producerAdapter struct {
	producer *redpanda.Producer
	metrics  *metrics.Metrics
}

func (a *producerAdapter) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := a.producer.ProduceMessage(ctx, topic, key, value); err != nil {
		return err
	}
	a.metrics.KafkaMessagesProduced.Inc()
	return nil
}

// sampleOutboxDepth periodically gauges pending outbox entries.
func sampleOutboxDepth(ctx context.Context, pool *pgxpool.Pool, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var pending int64
			err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL").Scan(&pending)
			if err != nil {
				logger.Debug("outbox depth sample failed", zap.Error(err))
				continue
			}
			m.OutboxPending.Set(float64(pending))
		}
	}
}
