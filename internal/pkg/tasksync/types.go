package tasksync

import (
	"context"
	"time"

	"github.com/ManuelReschke/TaskFox/app/models"
)

// Remote task status values.
const (
	RemoteStatusNeedsAction = "needsAction"
	RemoteStatusCompleted   = "completed"
)

// RemoteTaskList is a tasklist as reported by the provider.
type RemoteTaskList struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Etag    string     `json:"etag,omitempty"`
	Updated *time.Time `json:"updated,omitempty"`
}

// RemoteTask is a task as reported by the provider.
type RemoteTask struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes,omitempty"`
	Status    string     `json:"status"`
	Due       *time.Time `json:"due,omitempty"`
	Completed *time.Time `json:"completed,omitempty"`
	Updated   *time.Time `json:"updated,omitempty"`
	Etag      string     `json:"etag,omitempty"`
	Parent    string     `json:"parent,omitempty"`
	Position  string     `json:"position,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
	Hidden    bool       `json:"hidden,omitempty"`

	// DecodeErr is set when the provider payload could not be read in full.
	// The task still counts as present so it is not taken for a deletion.
	DecodeErr error `json:"-"`
}

// IsCompleted reports whether the provider marks the task done.
func (t RemoteTask) IsCompleted() bool {
	return t.Status == RemoteStatusCompleted
}

// TaskInput carries the writable task fields sent to the provider.
type TaskInput struct {
	Title     string
	Notes     string
	Status    string
	Due       *time.Time
	Completed *time.Time
}

// Client is one provider API binding for one integration.
type Client interface {
	ListTaskLists(ctx context.Context) ([]RemoteTaskList, error)
	ListTasks(ctx context.Context, listID string) ([]RemoteTask, error)
	GetTask(ctx context.Context, listID, taskID string) (*RemoteTask, error)
	CreateTask(ctx context.Context, listID, parentID string, in TaskInput) (*RemoteTask, error)
	UpdateTask(ctx context.Context, listID, taskID string, in TaskInput) (*RemoteTask, error)
	DeleteTask(ctx context.Context, listID, taskID string) error
	CreateTasklist(ctx context.Context, title string) (*RemoteTaskList, error)
	UpdateTasklist(ctx context.Context, listID, title string) (*RemoteTaskList, error)
	DeleteTasklist(ctx context.Context, listID string) error
}

// ClientFactory builds a provider client from a resolved access token.
type ClientFactory func(accessToken string, integration *models.ExternalIntegration) (Client, error)

// AccessToken is a usable bearer token plus the integration it belongs to.
type AccessToken struct {
	Token       string
	Integration *models.ExternalIntegration
}

// CredentialResolver decrypts stored credentials and refreshes them when expired.
type CredentialResolver interface {
	GetAccessToken(ctx context.Context, userID uint, provider string) (*AccessToken, error)
}

// SnapshotArchiver stores a copy of a fetched snapshot. Failures never abort a run.
type SnapshotArchiver interface {
	Archive(ctx context.Context, userID uint, provider string, runStart time.Time, snap *Snapshot) error
}

// Run result status values.
const (
	RunStatusOK    = "ok"
	RunStatusError = "error"
)

// RunStats counts what one reconciliation run changed.
type RunStats struct {
	ListsPulled  int `json:"lists_pulled"`
	ListsPushed  int `json:"lists_pushed"`
	ListsUpdated int `json:"lists_updated"`
	ListsDeleted int `json:"lists_deleted"`
	TasksPulled  int `json:"tasks_pulled"`
	TasksPushed  int `json:"tasks_pushed"`
	TasksUpdated int `json:"tasks_updated"`
	TasksDeleted int `json:"tasks_deleted"`
	Conflicts    int `json:"conflicts"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
}

// RunResult is what a sync run reports to its caller.
type RunResult struct {
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Err        error     `json:"-"`
	Stats      RunStats  `json:"stats"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// OK reports whether the run completed.
func (r RunResult) OK() bool {
	return r.Status == RunStatusOK
}

func errorResult(started time.Time, err error) RunResult {
	return RunResult{Status: RunStatusError, Error: err.Error(), Err: err, StartedAt: started, FinishedAt: started}
}
