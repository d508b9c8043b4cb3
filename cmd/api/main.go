package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/flyimg/internal/api"
	"github.com/dunamismax/flyimg/internal/config"
	"github.com/dunamismax/flyimg/internal/queue"
	"github.com/dunamismax/flyimg/internal/ratelimit"
	"github.com/dunamismax/flyimg/internal/storage"
	"github.com/dunamismax/flyimg/internal/store"
	"github.com/dunamismax/flyimg/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	shutdownTracing, err := telemetry.SetupTracing(startupCtx, telemetry.TraceConfig{
		ServiceName:  "flyimg-api",
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

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	jobStore, closeStore, err := store.Open(startupCtx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("open job store: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}()
	if cfg.Database.DSN == "" {
		logger.Println("POSTGRES_DSN not set, jobs are kept in memory")
	}

	var objectStorage interface {
		PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
		PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
		ObjectExists(ctx context.Context, objectKey string) (bool, error)
	}
	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else if err := storageClient.EnsureBucket(startupCtx); err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else {
		objectStorage = storageClient
	}

	var limiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(cfg.Queue.RedisOptions())
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("redis client close error: %v", err)
			}
		}()
		bucket, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		limiter = bucket
	}

	app := api.NewServer(logger, queueClient, jobStore, objectStorage, api.Config{
		PresignTTL:            cfg.API.PresignTTL,
		InstanceURL:           cfg.Flyimg.URL,
		SigningSecret:         cfg.Flyimg.SigningSecret,
		Options:               optionsCfg,
		RateLimiter:           limiter,
		RateLimitUserIDHeader: cfg.API.RateLimitUserIDHeader,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s flyimg=%s", cfg.API.Addr, cfg.Flyimg.URL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
