package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"resume-pipeline/internal/api"
	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/ocr"
	"resume-pipeline/internal/pipeline"
	"resume-pipeline/internal/queue"
	"resume-pipeline/internal/ratelimit"
	"resume-pipeline/internal/reliability"
	"resume-pipeline/internal/storage"
	"resume-pipeline/internal/store"
)

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		zlog.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		zlog.Fatal("migrations", zap.Error(err))
	}

	q := queue.NewRedisQueue(cfg)
	redisLimiter := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisLimiter, cfg)

	objects, err := storage.New(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("init object store", zap.Error(err))
	}

	var ocrClient ocr.Client
	if cfg.ResumeBucket != "" {
		ocrClient, err = ocr.NewTextract(ctx, cfg.S3Region)
		if err != nil {
			zlog.Fatal("init text detection client", zap.Error(err))
		}
	}

	breakers := newBreakers(cfg, zlog)
	retry := reliability.NewExecutor(retryPolicy(cfg), zlog)
	p := pipeline.New(st, q, objects, ocrClient, cfg.ResumeBucket, breakers, retry, zlog)

	server := api.New(cfg, st, p, q, limiter, breakers, zlog)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	zlog.Info("api listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func newBreakers(cfg config.Config, zlog *zap.Logger) *reliability.Registry {
	bcfg := reliability.BreakerConfig{
		FailureThreshold: cfg.BreakerFailures,
		RecoveryTimeout:  cfg.BreakerRecovery,
		SuccessThreshold: cfg.BreakerSuccesses,
	}
	reg := reliability.NewRegistry()
	reg.Register(reliability.NewBreaker(pipeline.DepStorage, bcfg, zlog))
	reg.Register(reliability.NewBreaker(pipeline.DepOCR, bcfg, zlog))
	return reg
}

func retryPolicy(cfg config.Config) reliability.RetryPolicy {
	policy := reliability.DefaultRetryPolicy()
	policy.MaxRetries = cfg.RetryMaxRetries
	policy.BackoffFactor = cfg.RetryBackoff
	policy.Budget = cfg.RetryBudget
	return policy
}
