package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mockpair/internal/config"
	"mockpair/internal/database"
	"mockpair/internal/events"
	"mockpair/internal/logging"
	"mockpair/internal/matching"
	"mockpair/internal/metrics"
	"mockpair/internal/notify"
	"mockpair/internal/queue"
	"mockpair/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	recoverStranded := flag.Bool("recover", false, "move messages left on the redis processing list back onto the queue before consuming")
	flag.Parse()

	if err := run(*recoverStranded); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(recoverStranded bool) error {
	cfg, base, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := logging.Component(base, "worker-main")

	db, err := database.NewDB(cfg.Database, logging.Component(base, "database"))
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	loc, err := cfg.Matching.Location()
	if err != nil {
		return err
	}

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := queue.OpenSource(cfg.Queue, redisClient, db, logging.Component(base, "queue"))
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Queue.Driver).Msg("open intent queue")
		return err
	}
	defer source.Close()

	if rq, ok := source.(*queue.RedisQueue); ok && recoverStranded {
		n, err := rq.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover processing list: %w", err)
		}
		logger.Info().Int("count", n).Msg("recovered stranded intents")
	}

	bus := events.NewEventBus()
	bus.OnError(func(e *events.Event, err error) {
		logger.Warn().Err(err).Str("event", e.Type).Msg("event handler failed")
	})
	notifier := notify.NewNotifier(redisClient, cfg.Matching.NotificationTTL, logging.Component(base, "notify"))
	notifier.Attach(bus)
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		notifier.Run(ctx)
	}()
	defer func() {
		stop()
		<-notifyDone
	}()

	matcher := matching.NewMatcher(db, bus, cfg.Matching.NotificationTTL, logging.Component(base, "matching"))

	retention := database.NewRetentionService(db, cfg.Retention, logging.Component(base, "retention"))
	go retention.Start(ctx)

	startMetrics(ctx, cfg, logger)

	retry := worker.RetryPolicy{
		MaxRetries:    cfg.Worker.MaxRetries,
		InitialDelay:  cfg.Worker.InitialDelay,
		MaxDelay:      cfg.Worker.MaxDelay,
		BackoffFactor: cfg.Worker.BackoffFactor,
	}
	w := worker.NewWorker(source, matcher, retry, loc, cfg.Matching.AllowedMockTypes(), logging.Component(base, "worker"))

	logger.Info().Str("queue_driver", cfg.Queue.Driver).Msg("worker starting")
	return w.Run(ctx)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, baseLogger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := notify.NewRedisClient(cfg.Redis)
	if err := notify.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}
