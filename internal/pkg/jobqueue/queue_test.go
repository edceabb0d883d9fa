package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
)

const gtasks = "google_tasks"

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := newQueueWithClient(nil, tt.workers)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.False(t, queue.running)
			assert.Equal(t, time.UTC, queue.now().Location())
		})
	}
}

func TestEnqueue_RejectsIncompleteJob(t *testing.T) {
	q := newQueueWithClient(nil, 1)
	_, _, err := q.Enqueue(context.Background(), 0, gtasks, SyncTriggerManual)
	assert.Error(t, err)
	_, _, err = q.Enqueue(context.Background(), 7, "", SyncTriggerManual)
	assert.Error(t, err)
}

func TestEnqueue_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:0",
		DialTimeout:  100 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
		PoolTimeout:  100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	queue := newQueueWithClient(client, 1)

	job, err := queue.EnqueueSync(1, gtasks, SyncTriggerManual)
	require.Error(t, err)
	assert.Nil(t, job)
}

func TestEnqueue_DeduplicatesWaitingSync(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(t, &now)
	ctx := context.Background()

	first, queued, err := q.Enqueue(ctx, 7, gtasks, SyncTriggerSchedule)
	require.NoError(t, err)
	assert.True(t, queued)

	second, queued, err := q.Enqueue(ctx, 7, gtasks, SyncTriggerManual)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, first.ID, second.ID)

	other, queued, err := q.Enqueue(ctx, 8, gtasks, SyncTriggerManual)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.NotEqual(t, first.ID, other.ID)

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, size)

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats[StatEnqueued])
	assert.EqualValues(t, 1, stats[StatDeduplicated])
}

func TestEnqueue_QueuesBehindRunningSync(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(t, &now)
	ctx := context.Background()

	first, _, err := q.Enqueue(ctx, 7, gtasks, SyncTriggerSchedule)
	require.NoError(t, err)
	running, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, running.ID)

	// Changes made while the first run is in flight need a run of their own.
	next, queued, err := q.Enqueue(ctx, 7, gtasks, SyncTriggerManual)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestEnqueue_TakesOverStaleMarker(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(t, &now)
	ctx := context.Background()

	require.NoError(t, q.client.Set(ctx, queuedKey(7, gtasks), "expired-job", JobTTL).Err())

	job, queued, err := q.Enqueue(ctx, 7, gtasks, SyncTriggerManual)
	require.NoError(t, err)
	assert.True(t, queued)

	owner, err := q.client.Get(ctx, queuedKey(7, gtasks)).Result()
	require.NoError(t, err)
	assert.Equal(t, job.ID, owner)
}

// runOnce enqueues a sync for user 7, takes it off the queue and processes it.
func runOnce(t *testing.T, q *Queue, result tasksync.RunResult) *Job {
	t.Helper()
	ctx := context.Background()
	q.SetSyncer(&fakeSyncer{result: result})

	_, _, err := q.Enqueue(ctx, 7, gtasks, SyncTriggerManual)
	require.NoError(t, err)
	job, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	q.processJob(ctx, job)
	return job
}

func TestProcessJob_FilesJobByOutcome(t *testing.T) {
	tests := []struct {
		name      string
		result    tasksync.RunResult
		stat      string
		kept      bool
		status    JobStatus
		retryable bool
	}{
		{name: "completed", result: okResult, stat: StatCompleted},
		{name: "lock held elsewhere", result: failed(tasksync.ErrSyncInProgress), stat: StatSkipped},
		{name: "revoked credentials", result: failed(tasksync.ErrUnauthorized), stat: StatFailed, kept: true, status: JobStatusFailed},
		{name: "provider outage", result: failed(errors.New("fetch snapshot: 503")), stat: StatRetried, kept: true, status: JobStatusRetrying, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			q := newTestQueue(t, &now)
			ctx := context.Background()

			job := runOnce(t, q, tt.result)

			stored, err := q.GetJob(ctx, job.ID)
			if tt.kept {
				require.NoError(t, err)
				assert.Equal(t, tt.status, stored.Status)
				assert.Equal(t, tt.result.Error, stored.LastError)
				assert.Equal(t, 1, stored.Attempts)
			} else {
				assert.ErrorIs(t, err, redis.Nil)
			}

			retrying, err := q.GetRetrySize(ctx)
			require.NoError(t, err)
			if tt.retryable {
				assert.EqualValues(t, 1, retrying)
				score, err := q.client.ZScore(ctx, retryKey, job.ID).Result()
				require.NoError(t, err)
				assert.Equal(t, float64(now.Add(time.Minute).Unix()), score)
			} else {
				assert.Zero(t, retrying)
			}

			processing, err := q.GetProcessingSize(ctx)
			require.NoError(t, err)
			assert.Zero(t, processing)

			stats, err := q.GetJobStats(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 1, stats[tt.stat])
		})
	}
}

func TestProcessJob_FailsOnLastAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(t, &now)
	ctx := context.Background()
	q.SetSyncer(&fakeSyncer{result: failed(errors.New("fetch snapshot: timeout"))})

	_, _, err := q.Enqueue(ctx, 7, gtasks, SyncTriggerManual)
	require.NoError(t, err)
	job, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	job.Attempts = DefaultMaxAttempts - 1

	q.processJob(ctx, job)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, DefaultMaxAttempts, stored.Attempts)
	retrying, err := q.GetRetrySize(ctx)
	require.NoError(t, err)
	assert.Zero(t, retrying)
}

func TestPromoteRetries_RequeuesWhenDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(t, &now)
	ctx := context.Background()

	job := runOnce(t, q, failed(errors.New("fetch snapshot: 503")))

	n, err := q.promoteRetries(ctx, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = q.promoteRetries(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)

	// The promoted retry now stands in for new requests.
	again, queued, err := q.Enqueue(ctx, 7, gtasks, SyncTriggerManual)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, job.ID, again.ID)
}

func TestPromoteRetries_DropsRetryCoveredByNewerSync(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(t, &now)
	ctx := context.Background()

	stale := runOnce(t, q, failed(errors.New("fetch snapshot: 503")))
	fresh, queued, err := q.Enqueue(ctx, 7, gtasks, SyncTriggerManual)
	require.NoError(t, err)
	require.True(t, queued)

	n, err := q.promoteRetries(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = q.GetJob(ctx, stale.ID)
	assert.ErrorIs(t, err, redis.Nil)
	ids, err := q.client.LRange(ctx, queueKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID}, ids)

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats[StatSuperseded])
}

func TestRecoverStuck(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(t, &now)
	ctx := context.Background()

	created, _, err := q.Enqueue(ctx, 7, gtasks, SyncTriggerManual)
	require.NoError(t, err)
	job, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	// The worker dies right after claiming the job.
	job.markStarted(now)
	q.saveJob(ctx, job)

	n, err := q.recoverStuck(ctx, now.Add(5*time.Minute), 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = q.recoverStuck(ctx, now.Add(11*time.Minute), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	processing, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, processing)
	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)

	stored, err := q.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
	assert.Equal(t, "recovered after worker stopped", stored.LastError)
}

func TestQueue_WorkersRunQueuedSync(t *testing.T) {
	client := newTestRedis(t)
	q := newQueueWithClient(client, 1)
	syncer := &fakeSyncer{result: okResult}
	q.SetSyncer(syncer)

	_, err := q.EnqueueSync(7, gtasks, SyncTriggerManual)
	require.NoError(t, err)

	q.Start()
	defer q.Stop()

	assert.Eventually(t, func() bool {
		syncer.mu.Lock()
		defer syncer.mu.Unlock()
		return len(syncer.calls) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestQueue_Restart(t *testing.T) {
	q := newQueueWithClient(newTestRedis(t), 1)

	q.Start()
	assert.True(t, q.running)
	q.Stop()
	assert.False(t, q.running)

	// A stopped queue can be started again with fresh workers.
	q.Start()
	assert.True(t, q.running)
	q.Stop()
	assert.False(t, q.running)
}
