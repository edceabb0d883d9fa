package apiv1

import (
	"time"

	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
)

// Pong defines model for Pong.
type Pong struct {
	Ping string `json:"ping"`
}

// Error defines model for Error.
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SyncQueued defines model for SyncQueued.
type SyncQueued struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// SyncRun defines model for SyncRun.
type SyncRun struct {
	Status     string            `json:"status"`
	Error      string            `json:"error,omitempty"`
	Stats      tasksync.RunStats `json:"stats"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// IntegrationStatus defines model for IntegrationStatus.
type IntegrationStatus struct {
	Provider       string     `json:"provider"`
	Connected      bool       `json:"connected"`
	AccountEmail   string     `json:"account_email,omitempty"`
	Status         string     `json:"status"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	RunStartedAt   *time.Time `json:"run_started_at,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

// ResolveConflictJSONBody defines parameters for ResolveConflict.
type ResolveConflictJSONBody struct {
	Resolution string `json:"resolution"`
}

// PostIntegrationSyncParams defines parameters for PostIntegrationSync.
type PostIntegrationSyncParams struct {
	Async *bool `json:"async,omitempty"`
}

// ListConflictsParams defines parameters for ListConflicts.
type ListConflictsParams struct {
	Provider *string `json:"provider,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// GetListTasksParams defines parameters for GetListTasks.
type GetListTasksParams struct {
	IncludeCompleted *bool `json:"include_completed,omitempty"`
}

// ListSummary defines model for ListSummary.
type ListSummary struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	OpenTasks int64     `json:"open_tasks"`
	UpdatedAt time.Time `json:"updated_at"`
}
