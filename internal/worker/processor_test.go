package worker

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/models"
	"resume-pipeline/internal/queue"
)

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}
}

type recordingAbandoner struct {
	tasks []models.StageTask
	errs  []error
}

func (r *recordingAbandoner) Abandon(_ context.Context, task models.StageTask, err error) error {
	r.tasks = append(r.tasks, task)
	r.errs = append(r.errs, err)
	return nil
}

func newProcessorQueue(t *testing.T, cfg config.Config) *queue.RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.NewRedisQueueWithClient(client, cfg)
}

func TestProcessRetriesThenDeadLetters(t *testing.T) {
	cfg := config.Config{
		MaxAttempts:       2,
		BackoffInitial:    10 * time.Millisecond,
		BackoffMax:        20 * time.Millisecond,
		VisibilityTimeout: time.Minute,
	}
	q := newProcessorQueue(t, cfg)
	abandoner := &recordingAbandoner{}
	handlerErr := errors.New("network connection refused")
	calls := 0
	p := NewProcessor(cfg, q, func(context.Context, models.StageTask) error {
		calls++
		return handlerErr
	}, abandoner, "w1", nil)

	ctx := context.Background()
	task := models.StageTask{ID: "t1", Kind: models.TaskExtract, CandidateID: "cand-1"}
	require.NoError(t, q.Enqueue(ctx, task, time.Time{}))

	// First delivery fails and schedules a retry with backoff.
	leased, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, leased)
	p.process(ctx, *leased)
	assert.Equal(t, 1, calls)
	assert.Empty(t, abandoner.tasks)

	// Promote the scheduled retry and fail again: attempts hit the cap.
	_, err = q.PromoteScheduled(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	leased, err = q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, leased)
	assert.Equal(t, 1, leased.Attempts)
	p.process(ctx, *leased)
	assert.Equal(t, 2, calls)

	require.Len(t, abandoner.tasks, 1)
	assert.Equal(t, "cand-1", abandoner.tasks[0].CandidateID)
	assert.ErrorIs(t, abandoner.errs[0], handlerErr)

	dead, err := q.DLQPeek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "t1", dead[0].ID)
	assert.Equal(t, 2, dead[0].Attempts)
}

func TestProcessAcksSuccess(t *testing.T) {
	cfg := config.Config{MaxAttempts: 3, BackoffInitial: time.Millisecond, BackoffMax: time.Millisecond, VisibilityTimeout: time.Minute}
	q := newProcessorQueue(t, cfg)
	p := NewProcessor(cfg, q, func(context.Context, models.StageTask) error { return nil }, nil, "w1", nil)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, models.StageTask{ID: "t1", Kind: models.TaskStructure}, time.Time{}))
	leased, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, leased)
	p.process(ctx, *leased)

	// Nothing left anywhere: acked, not rescheduled, not dead-lettered.
	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
	dead, err := q.DLQPeek(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
}
