package worker

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/models"
	"resume-pipeline/internal/queue"
	"resume-pipeline/internal/telemetry"
)

// Handler executes one leased stage task. A nil return acks the task; an
// error return triggers the retry/dead-letter decision.
type Handler func(ctx context.Context, task models.StageTask) error

// Abandoner records a permanent failure once the worker gives up on a task.
type Abandoner interface {
	Abandon(ctx context.Context, task models.StageTask, err error) error
}

// Processor drives the worker execution loop: promote due retries, reclaim
// expired leases, lease one task, dispatch it, and decide its fate.
type Processor struct {
	cfg       config.Config
	queue     *queue.RedisQueue
	handler   Handler
	abandoner Abandoner
	workerID  string
	log       *zap.Logger
}

// NewProcessor builds the worker loop around a task handler.
func NewProcessor(cfg config.Config, q *queue.RedisQueue, handler Handler, abandoner Abandoner, workerID string, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		cfg:       cfg,
		queue:     q,
		handler:   handler,
		abandoner: abandoner,
		workerID:  workerID,
		log:       log.Named("worker").With(zap.String("worker_id", workerID)),
	}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, _ = p.queue.PromoteScheduled(ctx, time.Now(), int64(p.cfg.ScheduledBatchSize))
		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
			p.log.Warn("reclaimed expired leases", zap.Int("count", len(reclaimed)))
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		task, err := p.queue.DequeueWithLease(ctx)
		if err != nil {
			p.log.Warn("dequeue failed", zap.Error(err))
			time.Sleep(p.cfg.WorkerPollInterval)
			continue
		}
		if task == nil {
			time.Sleep(p.cfg.WorkerPollInterval)
			continue
		}

		telemetry.InFlightGauge.Inc()
		p.process(ctx, *task)
		telemetry.InFlightGauge.Dec()
	}
}

func (p *Processor) process(ctx context.Context, task models.StageTask) {
	err := p.handler(ctx, task)
	if err == nil {
		_ = p.queue.Ack(ctx, task.ID)
		telemetry.StageSuccess.WithLabelValues(task.Kind).Inc()
		return
	}

	task.Attempts++
	if task.Attempts >= p.cfg.MaxAttempts {
		p.log.Error("task exhausted retries",
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.Int("attempts", task.Attempts),
			zap.Error(err))
		if p.abandoner != nil {
			if abandonErr := p.abandoner.Abandon(ctx, task, err); abandonErr != nil {
				p.log.Error("abandon failed", zap.String("task_id", task.ID), zap.Error(abandonErr))
			}
		}
		_ = p.queue.DLQPush(ctx, task)
		telemetry.StageDeadLetter.WithLabelValues(task.Kind).Inc()
		return
	}

	backoff := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, task.Attempts)
	nextRun := time.Now().Add(backoff)
	p.log.Warn("task failed, retry scheduled",
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.Int("attempts", task.Attempts),
		zap.Duration("backoff", backoff),
		zap.Error(err))
	_ = p.queue.Ack(ctx, task.ID)
	_ = p.queue.Schedule(ctx, task, nextRun)
	telemetry.StageRetries.WithLabelValues(task.Kind).Inc()
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
