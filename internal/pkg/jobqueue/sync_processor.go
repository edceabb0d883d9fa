package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
)

const (
	retryBaseDelay = time.Minute
	retryMaxDelay  = 30 * time.Minute
)

var (
	errIncompleteJob  = errors.New("sync job without user or provider")
	errUnknownJobType = errors.New("unknown job type")
	errNoSyncer       = errors.New("no syncer configured for external sync jobs")
)

// Syncer runs one reconciliation for a user and provider.
type Syncer interface {
	Sync(ctx context.Context, userID uint, provider string) tasksync.RunResult
}

// SetSyncer wires the service that executes external_sync jobs.
func (q *Queue) SetSyncer(s Syncer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.syncer = s
}

func (q *Queue) runSyncJob(ctx context.Context, job *Job) tasksync.RunResult {
	if job.Type != JobTypeExternalSync {
		return syncResult(fmt.Errorf("%w: %s", errUnknownJobType, job.Type))
	}
	if !job.complete() {
		return syncResult(errIncompleteJob)
	}

	q.mu.Lock()
	syncer := q.syncer
	q.mu.Unlock()
	if syncer == nil {
		return syncResult(errNoSyncer)
	}
	return syncer.Sync(ctx, job.UserID, job.Provider)
}

// outcome maps a run result to the status its job ends in. A run that lost
// the lock to another one is skipped. Missing integrations, rejected
// credentials and malformed jobs never succeed on retry.
func outcome(res tasksync.RunResult) JobStatus {
	if res.OK() {
		return JobStatusCompleted
	}
	switch {
	case errors.Is(res.Err, tasksync.ErrSyncInProgress):
		return JobStatusSkipped
	case errors.Is(res.Err, tasksync.ErrNoIntegration),
		errors.Is(res.Err, tasksync.ErrUnauthorized),
		errors.Is(res.Err, errIncompleteJob),
		errors.Is(res.Err, errUnknownJobType):
		return JobStatusFailed
	}
	return JobStatusRetrying
}

// retryDelay doubles from one minute per attempt and caps at thirty.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}
