package jobqueue

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeExternalSync JobType = "external_sync"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	// JobStatusSkipped means another run held the sync lock.
	JobStatusSkipped  JobStatus = "skipped"
	JobStatusRetrying JobStatus = "retrying"
	JobStatusFailed   JobStatus = "failed"
)

// Sync triggers
const (
	SyncTriggerSchedule = "schedule"
	SyncTriggerManual   = "manual"
)

// Job is one queued sync run for a user and provider.
type Job struct {
	ID          string             `json:"id"`
	Type        JobType            `json:"type"`
	Status      JobStatus          `json:"status"`
	UserID      uint               `json:"user_id"`
	Provider    string             `json:"provider"`
	Trigger     string             `json:"trigger"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	NextRunAt   *time.Time         `json:"next_run_at,omitempty"`
	Attempts    int                `json:"attempts"`
	MaxAttempts int                `json:"max_attempts"`
	LastError   string             `json:"last_error,omitempty"`
	LastStats   *tasksync.RunStats `json:"last_stats,omitempty"`
}

func newSyncJob(id string, userID uint, provider, trigger string, now time.Time) *Job {
	return &Job{
		ID:          id,
		Type:        JobTypeExternalSync,
		Status:      JobStatusPending,
		UserID:      userID,
		Provider:    provider,
		Trigger:     trigger,
		CreatedAt:   now,
		UpdatedAt:   now,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Pair identifies the integration the job syncs.
func (j *Job) Pair() string {
	return fmt.Sprintf("%d:%s", j.UserID, j.Provider)
}

func (j *Job) complete() bool {
	return j.UserID != 0 && j.Provider != ""
}

// CanRetry reports whether another attempt is allowed.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

func (j *Job) markStarted(now time.Time) {
	j.Status = JobStatusProcessing
	j.Attempts++
	j.StartedAt = &now
	j.UpdatedAt = now
	j.NextRunAt = nil
}

func (j *Job) markFinished(status JobStatus, res tasksync.RunResult, now time.Time) {
	j.Status = status
	j.FinishedAt = &now
	j.UpdatedAt = now
	j.LastError = res.Error
	if res.OK() {
		stats := res.Stats
		j.LastStats = &stats
	}
}

func (j *Job) markRetrying(res tasksync.RunResult, next time.Time) {
	j.Status = JobStatusRetrying
	j.UpdatedAt = next
	j.LastError = res.Error
	j.NextRunAt = &next
}

func (j *Job) markRequeued(reason string, now time.Time) {
	j.Status = JobStatusPending
	j.UpdatedAt = now
	if reason != "" {
		j.LastError = reason
	}
}
