package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/models"
)

// RedisQueue coordinates ready, in-flight, and scheduled stage tasks in
// Redis. The list and sorted sets carry task IDs; the serialized task body
// lives in a per-task hash until the task is acked or dead-lettered.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	taskKeyPrefix string
	visibilityTTL time.Duration
	dlqKey        string
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisQueueWithClient(client, cfg)
}

// NewRedisQueueWithClient wires the queue onto an existing Redis client.
func NewRedisQueueWithClient(client *redis.Client, cfg config.Config) *RedisQueue {
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	dlq := cfg.DLQName
	if dlq == "" {
		dlq = "pipeline:dlq"
	}
	return &RedisQueue{
		client:        client,
		readyKey:      "pipeline:ready",
		inflightKey:   "pipeline:inflight",
		scheduledKey:  "pipeline:scheduled",
		taskKeyPrefix: "pipeline:task:",
		visibilityTTL: visibility,
		dlqKey:        dlq,
	}
}

func (q *RedisQueue) taskKey(taskID string) string {
	return q.taskKeyPrefix + taskID
}

// Enqueue inserts a stage task into either the scheduled set or the ready
// queue, persisting its body first.
func (q *RedisQueue) Enqueue(ctx context.Context, task models.StageTask, runAt time.Time) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.taskKey(task.ID), "body", body)
	if runAt.After(time.Now()) {
		pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: task.ID})
	} else {
		pipe.RPush(ctx, q.readyKey, task.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Schedule defers a stage task, typically for a retry with backoff.
func (q *RedisQueue) Schedule(ctx context.Context, task models.StageTask, runAt time.Time) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.taskKey(task.ID), "body", body)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: task.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due scheduled tasks into the ready queue. It returns
// how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops a task from the ready queue and places it into
// inflight with a visibility timeout. Returns nil when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (*models.StageTask, error) {
	keys := []string{q.readyKey, q.inflightKey}
	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	taskID, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	body, err := q.client.HGet(ctx, q.taskKey(taskID), "body").Result()
	if err == redis.Nil {
		// Body gone (e.g. acked by a competing lease); drop the orphan.
		_ = q.client.ZRem(ctx, q.inflightKey, taskID).Err()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var task models.StageTask
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", taskID, err)
	}
	return &task, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight task.
func (q *RedisQueue) ExtendLease(ctx context.Context, taskID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: taskID,
	}).Err()
}

// Ack removes a task from in-flight tracking and deletes its body.
func (q *RedisQueue) Ack(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, taskID)
	pipe.Del(ctx, q.taskKey(taskID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing the tasks.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DLQPush moves a task to the dead-letter queue for operational inspection,
// storing the full serialized body so the original payload survives.
func (q *RedisQueue) DLQPush(ctx context.Context, task models.StageTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.dlqKey, body)
	pipe.ZRem(ctx, q.inflightKey, task.ID)
	pipe.Del(ctx, q.taskKey(task.ID))
	_, err = pipe.Exec(ctx)
	return err
}

// DLQPeek reads the oldest dead-lettered tasks.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]models.StageTask, error) {
	bodies, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]models.StageTask, 0, len(bodies))
	for _, b := range bodies {
		var task models.StageTask
		if err := json.Unmarshal([]byte(b), &task); err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// ReadyDepth returns the length of the ready queue.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local task = redis.call('LPOP', KEYS[i])
  if task then
    redis.call('ZADD', inflight, ARGV[1], task)
    return task
  end
end
return nil
`)
