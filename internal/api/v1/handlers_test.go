package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TaskFox/app/models"
	"github.com/ManuelReschke/TaskFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
	"github.com/ManuelReschke/TaskFox/internal/pkg/usercontext"
)

const testUserID uint = 7

type fakeSync struct {
	result     tasksync.RunResult
	state      *models.ExternalSyncState
	conflicts  []models.ExternalSyncConflict
	listErr    error
	conflict   *models.ExternalSyncConflict
	resolveErr error
	calls      int
}

func (f *fakeSync) Sync(ctx context.Context, userID uint, provider string) tasksync.RunResult {
	f.calls++
	return f.result
}

func (f *fakeSync) Status(ctx context.Context, userID uint, provider string) (*models.ExternalSyncState, error) {
	if f.state == nil {
		return &models.ExternalSyncState{UserID: userID, Provider: provider, Status: models.SyncStatusIdle}, nil
	}
	return f.state, nil
}

func (f *fakeSync) ListConflicts(ctx context.Context, userID uint, provider, status string) ([]models.ExternalSyncConflict, error) {
	return f.conflicts, f.listErr
}

func (f *fakeSync) GetConflict(ctx context.Context, userID uint, conflictID string) (*models.ExternalSyncConflict, error) {
	if f.conflict == nil || f.conflict.PublicID != conflictID {
		return nil, tasksync.ErrConflictNotFound
	}
	return f.conflict, nil
}

func (f *fakeSync) ResolveConflict(ctx context.Context, userID uint, conflictID, resolution string) (*tasksync.ResolveResult, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return &tasksync.ResolveResult{Conflict: f.conflict}, nil
}

type fakeIntegrations struct {
	integration *models.ExternalIntegration
}

func (f *fakeIntegrations) Integration(ctx context.Context, userID uint, provider string) (*models.ExternalIntegration, error) {
	if f.integration == nil {
		return nil, tasksync.ErrNoIntegration
	}
	return f.integration, nil
}

type fakeQueue struct {
	enqueued []string
}

func (f *fakeQueue) EnqueueSync(userID uint, provider, trigger string) (*jobqueue.Job, error) {
	f.enqueued = append(f.enqueued, fmt.Sprintf("%d:%s:%s", userID, provider, trigger))
	return &jobqueue.Job{ID: "job-1", Type: jobqueue.JobTypeExternalSync}, nil
}

type fakeLists struct {
	lists []models.List
	tasks map[uint][]models.Task
}

func (f *fakeLists) GetByID(userID, id uint) (*models.List, error) {
	for i := range f.lists {
		if f.lists[i].ID == id && f.lists[i].UserID == userID {
			return &f.lists[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeLists) GetByUserID(userID uint) ([]models.List, error) {
	return f.lists, nil
}

func (f *fakeLists) GetTasks(userID, listID uint, includeCompleted bool) ([]models.Task, error) {
	var out []models.Task
	for _, t := range f.tasks[listID] {
		if includeCompleted || !t.IsCompleted {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeLists) CountTasks(userID, listID uint) (int64, error) {
	var n int64
	for _, t := range f.tasks[listID] {
		if !t.IsCompleted {
			n++
		}
	}
	return n, nil
}

func supportsGoogle(p string) bool { return p == models.ExternalProviderGoogleTasks }

func newTestApp(server *APIServer) *fiber.App {
	app := fiber.New()
	auth := func(c *fiber.Ctx) error {
		usercontext.Set(c, usercontext.Identity{UserID: testUserID, Method: usercontext.APIKey})
		return c.Next()
	}
	RegisterHandlersWithOptions(app.Group("/api/v1"), server, FiberServerOptions{Middlewares: []fiber.Handler{auth}})
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestGetPing(t *testing.T) {
	app := newTestApp(NewAPIServer(nil, nil, nil, nil, nil))
	status, body := doRequest(t, app, fiber.MethodGet, "/api/v1/ping", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "pong", body["ping"])
}

func TestPostIntegrationSync(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name       string
		provider   string
		result     tasksync.RunResult
		wantStatus int
	}{
		{"ok", models.ExternalProviderGoogleTasks, tasksync.RunResult{Status: tasksync.RunStatusOK, StartedAt: now, Stats: tasksync.RunStats{TasksPulled: 3}}, fiber.StatusOK},
		{"in progress", models.ExternalProviderGoogleTasks, tasksync.RunResult{Status: tasksync.RunStatusError, Err: tasksync.ErrSyncInProgress, Error: "busy"}, fiber.StatusConflict},
		{"not connected", models.ExternalProviderGoogleTasks, tasksync.RunResult{Status: tasksync.RunStatusError, Err: tasksync.ErrNoIntegration, Error: "none"}, fiber.StatusNotFound},
		{"unauthorized", models.ExternalProviderGoogleTasks, tasksync.RunResult{Status: tasksync.RunStatusError, Err: fmt.Errorf("list: %w", tasksync.ErrUnauthorized), Error: "denied"}, fiber.StatusForbidden},
		{"provider failure", models.ExternalProviderGoogleTasks, tasksync.RunResult{Status: tasksync.RunStatusError, Err: errors.New("503"), Error: "503"}, fiber.StatusBadGateway},
		{"unknown provider", "todoist", tasksync.RunResult{Status: tasksync.RunStatusOK}, fiber.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sync := &fakeSync{result: tt.result}
			app := newTestApp(NewAPIServer(sync, nil, nil, nil, supportsGoogle))
			status, body := doRequest(t, app, fiber.MethodPost, "/api/v1/integrations/"+tt.provider+"/sync", "")
			assert.Equal(t, tt.wantStatus, status)
			if tt.provider == models.ExternalProviderGoogleTasks {
				assert.Equal(t, tt.result.Status, body["status"])
				assert.Equal(t, 1, sync.calls)
			} else {
				assert.Equal(t, 0, sync.calls)
			}
		})
	}
}

func TestPostIntegrationSync_Async(t *testing.T) {
	sync := &fakeSync{}
	queue := &fakeQueue{}
	app := newTestApp(NewAPIServer(sync, nil, queue, nil, supportsGoogle))

	status, body := doRequest(t, app, fiber.MethodPost, "/api/v1/integrations/google_tasks/sync?async=true", "")
	assert.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, []string{"7:google_tasks:manual"}, queue.enqueued)
	assert.Equal(t, 0, sync.calls)

	status, _ = doRequest(t, app, fiber.MethodPost, "/api/v1/integrations/google_tasks/sync?async=maybe", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestSyncEndpointsUnavailableWithoutService(t *testing.T) {
	app := newTestApp(NewAPIServer(nil, nil, nil, nil, supportsGoogle))
	status, body := doRequest(t, app, fiber.MethodPost, "/api/v1/integrations/google_tasks/sync", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "unavailable", body["error"])
}

func TestGetIntegrationStatus(t *testing.T) {
	synced := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	sync := &fakeSync{state: &models.ExternalSyncState{Status: models.SyncStatusIdle, LastSyncedAt: &synced}}

	app := newTestApp(NewAPIServer(sync, &fakeIntegrations{}, nil, nil, supportsGoogle))
	status, body := doRequest(t, app, fiber.MethodGet, "/api/v1/integrations/google_tasks/status", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, "idle", body["status"])

	in := &models.ExternalIntegration{Email: "me@example.com"}
	app = newTestApp(NewAPIServer(sync, &fakeIntegrations{integration: in}, nil, nil, supportsGoogle))
	status, body = doRequest(t, app, fiber.MethodGet, "/api/v1/integrations/google_tasks/status", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "me@example.com", body["account_email"])
}

func TestListConflicts_InvalidFilter(t *testing.T) {
	sync := &fakeSync{listErr: fmt.Errorf("invalid conflict filter: %w", validator.ValidationErrors{})}
	app := newTestApp(NewAPIServer(sync, nil, nil, nil, supportsGoogle))
	status, body := doRequest(t, app, fiber.MethodGet, "/api/v1/conflicts?status=open", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "bad_request", body["error"])
}

func TestGetConflict_NotFound(t *testing.T) {
	app := newTestApp(NewAPIServer(&fakeSync{}, nil, nil, nil, supportsGoogle))
	status, body := doRequest(t, app, fiber.MethodGet, "/api/v1/conflicts/2b7f1c6e-9a55-4e59-8b8f-0d3c3f1a2b11", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])
}

func TestResolveConflict_ErrorMapping(t *testing.T) {
	id := "2b7f1c6e-9a55-4e59-8b8f-0d3c3f1a2b11"
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"resolved", `{"resolution":"remote"}`, nil, fiber.StatusOK, ""},
		{"bad body", `{`, nil, fiber.StatusBadRequest, "bad_request"},
		{"invalid resolution", `{"resolution":"both"}`, fmt.Errorf("%w: oneof", tasksync.ErrInvalidResolution), fiber.StatusBadRequest, "bad_request"},
		{"not found", `{"resolution":"local"}`, tasksync.ErrConflictNotFound, fiber.StatusNotFound, "not_found"},
		{"already resolved", `{"resolution":"local"}`, tasksync.ErrConflictAlreadyResolved, fiber.StatusConflict, "already_resolved"},
		{"mapping gone", `{"resolution":"local"}`, fmt.Errorf("%w: gone", tasksync.ErrMappingNotFound), fiber.StatusConflict, "mapping_not_found"},
		{"task deleted", `{"resolution":"remote"}`, tasksync.ErrConflictObsolete, fiber.StatusGone, "conflict_obsolete"},
		{"push failed", `{"resolution":"local"}`, fmt.Errorf("%w: push local version: %w", tasksync.ErrProviderRequest, errors.New("503")), fiber.StatusBadGateway, "provider_error"},
		{"store failed", `{"resolution":"remote"}`, errors.New("db down"), fiber.StatusInternalServerError, "internal_server_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sync := &fakeSync{
				conflict:   &models.ExternalSyncConflict{PublicID: id, Status: models.ConflictStatusResolved},
				resolveErr: tt.err,
			}
			app := newTestApp(NewAPIServer(sync, nil, nil, nil, supportsGoogle))
			status, body := doRequest(t, app, fiber.MethodPost, "/api/v1/conflicts/"+id+"/resolve", tt.body)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error"])
			} else {
				assert.Contains(t, body, "conflict")
			}
		})
	}
}

func TestListsEndpoints(t *testing.T) {
	lists := &fakeLists{
		lists: []models.List{{ID: 1, UserID: testUserID, Title: "Inbox"}},
		tasks: map[uint][]models.Task{
			1: {
				{ID: 10, ListID: 1, Title: "open"},
				{ID: 11, ListID: 1, Title: "done", IsCompleted: true},
			},
		},
	}
	app := newTestApp(NewAPIServer(nil, nil, nil, lists, supportsGoogle))

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/lists", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	var summaries []ListSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(1), summaries[0].OpenTasks)

	req = httptest.NewRequest(fiber.MethodGet, "/api/v1/lists/1/tasks?include_completed=true", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	var tasks []models.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tasks))
	assert.Len(t, tasks, 2)

	status, _ := doRequest(t, app, fiber.MethodGet, "/api/v1/lists/99/tasks", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = doRequest(t, app, fiber.MethodGet, "/api/v1/lists/abc/tasks", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}
