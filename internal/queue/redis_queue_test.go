package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/models"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueueWithClient(client, config.Config{VisibilityTimeout: 30 * time.Second})
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	task := models.StageTask{ID: "t1", Kind: models.TaskExtract, CandidateID: "cand-1"}
	require.NoError(t, q.Enqueue(ctx, task, time.Time{}))

	got, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, models.TaskExtract, got.Kind)
	assert.Equal(t, "cand-1", got.CandidateID)

	// Queue drained; next dequeue is empty, not an error.
	got, err = q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestScheduledTaskNotReadyUntilPromoted(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	task := models.StageTask{ID: "t1", Kind: models.TaskStructure, CandidateID: "cand-1"}
	runAt := time.Now().Add(time.Minute)
	require.NoError(t, q.Schedule(ctx, task, runAt))

	got, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := q.PromoteScheduled(ctx, runAt.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.ID)
}

func TestExpiredLeaseRequeues(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	task := models.StageTask{ID: "t1", Kind: models.TaskExtract, CandidateID: "cand-1"}
	require.NoError(t, q.Enqueue(ctx, task, time.Time{}))

	got, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)

	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, ids)

	got, err = q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.ID)
}

func TestAckDropsBody(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	task := models.StageTask{ID: "t1", Kind: models.TaskExtract, CandidateID: "cand-1"}
	require.NoError(t, q.Enqueue(ctx, task, time.Time{}))

	got, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, q.Ack(ctx, got.ID))

	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	// An expired lease for an acked task must not resurrect it.
	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDLQPushAndPeek(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	task := models.StageTask{ID: "t1", Kind: models.TaskOCRResult, JobRef: "job-9", JobStatus: "FAILED", Attempts: 5}
	require.NoError(t, q.Enqueue(ctx, task, time.Time{}))

	got, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, q.DLQPush(ctx, *got))

	dead, err := q.DLQPeek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "job-9", dead[0].JobRef)
	assert.Equal(t, 5, dead[0].Attempts)
}
