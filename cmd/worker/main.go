package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/ocr"
	"resume-pipeline/internal/pipeline"
	"resume-pipeline/internal/queue"
	"resume-pipeline/internal/reliability"
	"resume-pipeline/internal/storage"
	"resume-pipeline/internal/store"
	"resume-pipeline/internal/telemetry"
	workerproc "resume-pipeline/internal/worker"
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

	bcfg := reliability.BreakerConfig{
		FailureThreshold: cfg.BreakerFailures,
		RecoveryTimeout:  cfg.BreakerRecovery,
		SuccessThreshold: cfg.BreakerSuccesses,
	}
	breakers := reliability.NewRegistry()
	breakers.Register(reliability.NewBreaker(pipeline.DepStorage, bcfg, zlog))
	breakers.Register(reliability.NewBreaker(pipeline.DepOCR, bcfg, zlog))

	policy := reliability.DefaultRetryPolicy()
	policy.MaxRetries = cfg.RetryMaxRetries
	policy.BackoffFactor = cfg.RetryBackoff
	policy.Budget = cfg.RetryBudget
	retry := reliability.NewExecutor(policy, zlog)

	p := pipeline.New(st, q, objects, ocrClient, cfg.ResumeBucket, breakers, retry, zlog)

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	processor := workerproc.NewProcessor(cfg, q, p.HandleTask, p, workerID, zlog)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			zlog.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	zlog.Info("worker started",
		zap.String("worker_id", workerID),
		zap.Duration("visibility", cfg.VisibilityTimeout),
		zap.Duration("backoff_initial", cfg.BackoffInitial))
	if err := processor.Run(ctx); err != nil {
		zlog.Info("worker stopped", zap.Error(err))
	}
}
