package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/TaskFox/app/models"
	"github.com/ManuelReschke/TaskFox/internal/pkg/cache"
	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
)

const (
	jobKeyPrefix    = "sync:job:"
	queuedKeyPrefix = "sync:queued:"
	queueKey        = "sync:queue"
	processingKey   = "sync:processing"
	retryKey        = "sync:retry"
	statsKey        = "sync:job_stats"

	DefaultMaxAttempts = 4
	JobTTL             = 24 * time.Hour

	maintenanceInterval = 15 * time.Second
)

// Counters kept in the stats hash.
const (
	StatEnqueued     = "enqueued"
	StatDeduplicated = "deduplicated"
	StatCompleted    = "completed"
	StatSkipped      = "skipped"
	StatRetried      = "retried"
	StatFailed       = "failed"
	StatSuperseded   = "superseded"
	StatRecovered    = "recovered"
)

// releaseQueued drops the per-pair marker only while it still names the job.
var releaseQueued = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Queue runs sync jobs from Redis. At most one job per user and provider
// waits in the queue at any time.
type Queue struct {
	client  *redis.Client
	syncer  Syncer
	workers int
	now     func() time.Time
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewQueue creates a new job queue
func NewQueue(workers int) *Queue {
	return newQueueWithClient(cache.GetClient(), workers)
}

func newQueueWithClient(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = 3
	}
	return &Queue{
		client:  client,
		workers: workers,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func queuedKey(userID uint, provider string) string {
	return fmt.Sprintf("%s%d:%s", queuedKeyPrefix, userID, provider)
}

// Start starts the workers and the maintenance loop
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.stopCh = make(chan struct{})
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i, q.stopCh)
	}

	q.wg.Add(1)
	go q.maintain(maintenanceInterval, q.stopCh)
}

// Stop stops the job queue workers
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.mu.Unlock()

	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// maintain promotes due retries and recovers jobs whose worker died.
func (q *Queue) maintain(interval time.Duration, stopCh <-chan struct{}) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			now := q.now()
			if n, err := q.promoteRetries(ctx, now); err != nil {
				log.Errorf("[JobQueue] Promoting retries failed: %v", err)
			} else if n > 0 {
				log.Infof("[JobQueue] Promoted %d sync retries", n)
			}
			// A worker that outlives the sync lock can no longer be holding it.
			maxAge := models.GetAppSettings().GetSyncLockStaleAfter()
			if n, err := q.recoverStuck(ctx, now, maxAge); err != nil {
				log.Errorf("[JobQueue] Recovering stuck jobs failed: %v", err)
			} else if n > 0 {
				log.Warnf("[JobQueue] Recovered %d stuck sync jobs", n)
			}
		}
	}
}

func (q *Queue) worker(id int, stopCh <-chan struct{}) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)
	ctx := context.Background()

	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		default:
		}

		job, err := q.dequeueJob(ctx)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
				time.Sleep(time.Second)
			}
			continue
		}
		log.Infof("[JobQueue] Worker %d syncing user %d (%s), attempt %d", id, job.UserID, job.Provider, job.Attempts+1)
		q.processJob(ctx, job)
	}
}

// EnqueueSync queues a sync for one integration and returns the job that
// will run it. When a sync for the same pair is already waiting that job is
// returned instead of a new one.
func (q *Queue) EnqueueSync(userID uint, provider, trigger string) (*Job, error) {
	job, _, err := q.Enqueue(context.Background(), userID, provider, trigger)
	return job, err
}

// Enqueue is EnqueueSync with a context. queued is false when an already
// waiting job was returned.
func (q *Queue) Enqueue(ctx context.Context, userID uint, provider, trigger string) (*Job, bool, error) {
	if userID == 0 || provider == "" {
		return nil, false, fmt.Errorf("sync job needs a user and a provider")
	}

	job := newSyncJob(uuid.New().String(), userID, provider, trigger, q.now())
	marker := queuedKey(userID, provider)

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := q.client.SetNX(ctx, marker, job.ID, JobTTL).Result()
		if err != nil {
			return nil, false, fmt.Errorf("failed to enqueue job: %w", err)
		}
		if ok {
			break
		}

		existing, err := q.waitingJob(ctx, marker)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			q.incrStat(ctx, StatDeduplicated)
			log.Debugf("[JobQueue] Sync for user %d (%s) already queued as %s", userID, provider, existing.ID)
			return existing, false, nil
		}
		if attempt == 1 {
			return nil, false, fmt.Errorf("failed to enqueue job: queue marker for user %d (%s) is contended", userID, provider)
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		_ = releaseQueued.Run(ctx, q.client, []string{marker}, job.ID).Err()
		return nil, false, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, JobTTL)
	pipe.LPush(ctx, queueKey, job.ID)
	pipe.HIncrBy(ctx, statsKey, StatEnqueued, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = releaseQueued.Run(ctx, q.client, []string{marker}, job.ID).Err()
		return nil, false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue] Enqueued sync %s for user %d (%s, %s)", job.ID, userID, provider, trigger)
	return job, true, nil
}

// waitingJob returns the job a queue marker points at when it is still
// pending. A stale marker is removed and nil is returned.
func (q *Queue) waitingJob(ctx context.Context, marker string) (*Job, error) {
	id, err := q.client.Get(ctx, marker).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue marker: %w", err)
	}

	job, err := q.GetJob(ctx, id)
	if err == nil && job.Status == JobStatusPending {
		return job, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if err := releaseQueued.Run(ctx, q.client, []string{marker}, id).Err(); err != nil {
		return nil, fmt.Errorf("failed to release stale queue marker: %w", err)
	}
	return nil, nil
}

// dequeueJob moves the next job to the processing list. Once a job leaves the
// queue a new sync for the same pair may be queued behind it.
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, queueKey, processingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		q.client.LRem(ctx, processingKey, 1, id)
		return nil, fmt.Errorf("job data not found for ID %s: %w", id, err)
	}

	if err := releaseQueued.Run(ctx, q.client, []string{queuedKey(job.UserID, job.Provider)}, job.ID).Err(); err != nil {
		log.Warnf("[JobQueue] Failed to release queue marker for %s: %v", job.ID, err)
	}
	return job, nil
}

// processJob runs the sync and files the job by its outcome.
func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.markStarted(q.now())
	q.saveJob(ctx, job)

	res := q.runSyncJob(ctx, job)
	status := outcome(res)
	if status == JobStatusRetrying && !job.CanRetry() {
		status = JobStatusFailed
	}

	now := q.now()
	switch status {
	case JobStatusCompleted, JobStatusSkipped:
		job.markFinished(status, res, now)
		if status == JobStatusCompleted {
			log.Infof("[JobQueue] Sync %s for user %d (%s) finished: %+v", job.ID, job.UserID, job.Provider, res.Stats)
			q.incrStat(ctx, StatCompleted)
		} else {
			log.Infof("[JobQueue] Sync %s for user %d (%s) skipped, run already in progress", job.ID, job.UserID, job.Provider)
			q.incrStat(ctx, StatSkipped)
		}
		q.deleteJob(ctx, job.ID)

	case JobStatusRetrying:
		next := now.Add(retryDelay(job.Attempts))
		job.markRetrying(res, next)
		q.saveJob(ctx, job)
		if err := q.client.ZAdd(ctx, retryKey, redis.Z{Score: float64(next.Unix()), Member: job.ID}).Err(); err != nil {
			log.Errorf("[JobQueue] Failed to schedule retry for %s: %v", job.ID, err)
		}
		q.incrStat(ctx, StatRetried)
		log.Warnf("[JobQueue] Sync %s for user %d (%s) failed, retry %d/%d at %s: %s",
			job.ID, job.UserID, job.Provider, job.Attempts, job.MaxAttempts-1, next.Format(time.RFC3339), res.Error)

	default:
		job.markFinished(JobStatusFailed, res, now)
		q.saveJob(ctx, job)
		q.incrStat(ctx, StatFailed)
		log.Errorf("[JobQueue] Sync %s for user %d (%s) failed after %d attempts: %s",
			job.ID, job.UserID, job.Provider, job.Attempts, res.Error)
	}

	if err := q.client.LRem(ctx, processingKey, 1, job.ID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing list: %v", job.ID, err)
	}
}

// promoteRetries moves retries that are due back into the queue. A retry is
// dropped when a newer sync for the same pair is already waiting.
func (q *Queue) promoteRetries(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, retryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		// Another instance may have claimed it first.
		removed, err := q.client.ZRem(ctx, retryKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		job, err := q.GetJob(ctx, id)
		if err != nil {
			log.Warnf("[JobQueue] Dropping retry %s without job data: %v", id, err)
			continue
		}
		ok, err := q.requeue(ctx, job, "", now)
		if err != nil {
			q.client.ZAdd(ctx, retryKey, redis.Z{Score: float64(now.Unix()), Member: id})
			return promoted, err
		}
		if ok {
			promoted++
		}
	}
	return promoted, nil
}

// recoverStuck requeues jobs that stayed in processing for longer than maxAge.
func (q *Queue) recoverStuck(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	ids, err := q.client.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Loading processing job %s failed: %v", id, err)
			}
			q.client.LRem(ctx, processingKey, 1, id)
			continue
		}
		if job.Status != JobStatusProcessing {
			q.client.LRem(ctx, processingKey, 1, id)
			continue
		}
		started := job.UpdatedAt
		if job.StartedAt != nil {
			started = *job.StartedAt
		}
		if now.Sub(started) <= maxAge {
			continue
		}

		if err := q.client.LRem(ctx, processingKey, 1, id).Err(); err != nil {
			return recovered, err
		}
		ok, err := q.requeue(ctx, job, "recovered after worker stopped", now)
		if err != nil {
			return recovered, err
		}
		if ok {
			q.incrStat(ctx, StatRecovered)
			recovered++
		}
	}
	return recovered, nil
}

// requeue puts a job back in the queue unless another sync for its pair is
// already waiting, in which case the job is superseded and removed.
func (q *Queue) requeue(ctx context.Context, job *Job, reason string, now time.Time) (bool, error) {
	ok, err := q.client.SetNX(ctx, queuedKey(job.UserID, job.Provider), job.ID, JobTTL).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		log.Infof("[JobQueue] Dropping %s, a newer sync for user %d (%s) is queued", job.ID, job.UserID, job.Provider)
		q.deleteJob(ctx, job.ID)
		q.incrStat(ctx, StatSuperseded)
		return false, nil
	}

	job.markRequeued(reason, now)
	data, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, JobTTL)
	pipe.RPush(ctx, queueKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = releaseQueued.Run(ctx, q.client, []string{queuedKey(job.UserID, job.Provider)}, job.ID).Err()
		return false, err
	}
	return true, nil
}

func (q *Queue) saveJob(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, jobKey(job.ID), data, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

func (q *Queue) deleteJob(ctx context.Context, id string) {
	if err := q.client.Del(ctx, jobKey(id)).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s: %v", id, err)
	}
}

func (q *Queue) incrStat(ctx context.Context, name string) {
	if err := q.client.HIncrBy(ctx, statsKey, name, 1).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.Get(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// GetJobStats returns the queue counters keyed by Stat* name.
func (q *Queue) GetJobStats(ctx context.Context) (map[string]int64, error) {
	raw, err := q.client.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int64, len(raw))
	for name, count := range raw {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			stats[name] = n
		}
	}
	return stats, nil
}

// GetQueueSize returns the number of pending jobs
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, queueKey).Result()
}

// GetProcessingSize returns the number of jobs being processed
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, processingKey).Result()
}

// GetRetrySize returns the number of jobs waiting for a retry
func (q *Queue) GetRetrySize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, retryKey).Result()
}

// syncResult builds a failed run for errors raised before the engine ran.
func syncResult(err error) tasksync.RunResult {
	return tasksync.RunResult{Status: tasksync.RunStatusError, Error: err.Error(), Err: err}
}
