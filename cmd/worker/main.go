package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/flyimg/internal/config"
	"github.com/dunamismax/flyimg/internal/ratelimit"
	"github.com/dunamismax/flyimg/internal/storage"
	"github.com/dunamismax/flyimg/internal/store"
	"github.com/dunamismax/flyimg/internal/telemetry"
	"github.com/dunamismax/flyimg/internal/transport"
	"github.com/dunamismax/flyimg/internal/webhook"
	"github.com/dunamismax/flyimg/internal/worker"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s flyimg=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Flyimg.URL,
	)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	shutdownTracing, err := telemetry.SetupTracing(startupCtx, telemetry.TraceConfig{
		ServiceName:  "flyimg-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	optionsCfg, err := cfg.Flyimg.OptionsConfig()
	if err != nil {
		logger.Fatalf("load options: %v", err)
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}
	if err := storageClient.EnsureBucket(startupCtx); err != nil {
		logger.Fatalf("ensure bucket failed: %v", err)
	}

	jobStore, closeStore, err := store.Open(startupCtx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("open job store: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}()

	var outbound transport.Limiter
	if cfg.RateLimit.OutboundCapacity > 0 {
		redisClient := redis.NewClient(cfg.Queue.RedisOptions())
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("redis client close error: %v", err)
			}
		}()
		bucket, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.OutboundCapacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("outbound limiter setup failed: %v", err)
		}
		outbound = bucket
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Flyimg, worker.Dependencies{
		Storage: storageClient,
		Transport: transport.NewClient(transport.Config{
			Timeout:     cfg.Flyimg.HTTPTimeout,
			UploadField: cfg.Flyimg.UploadField,
			Limiter:     outbound,
			Logger:      logger,
		}),
		Options: optionsCfg,
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
		JobStore:   jobStore,
		UsageStore: jobStore,
	})
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Printf("metrics shutdown failed: %v", err)
			}
		}()
		return srv.Run()
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
