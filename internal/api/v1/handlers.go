package apiv1

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TaskFox/app/controllers"
	"github.com/ManuelReschke/TaskFox/app/models"
	"github.com/ManuelReschke/TaskFox/app/repository"
	"github.com/ManuelReschke/TaskFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
	"github.com/ManuelReschke/TaskFox/internal/pkg/usercontext"
)

// SyncService is the part of tasksync.Service the API needs.
type SyncService interface {
	Sync(ctx context.Context, userID uint, provider string) tasksync.RunResult
	Status(ctx context.Context, userID uint, provider string) (*models.ExternalSyncState, error)
	ListConflicts(ctx context.Context, userID uint, provider, status string) ([]models.ExternalSyncConflict, error)
	GetConflict(ctx context.Context, userID uint, conflictID string) (*models.ExternalSyncConflict, error)
	ResolveConflict(ctx context.Context, userID uint, conflictID, resolution string) (*tasksync.ResolveResult, error)
}

// IntegrationLookup loads a user's stored integration.
type IntegrationLookup interface {
	Integration(ctx context.Context, userID uint, provider string) (*models.ExternalIntegration, error)
}

// SyncEnqueuer queues background sync runs.
type SyncEnqueuer interface {
	EnqueueSync(userID uint, provider, trigger string) (*jobqueue.Job, error)
}

// APIServer implements the ServerInterface
type APIServer struct {
	sync         SyncService
	integrations IntegrationLookup
	queue        SyncEnqueuer
	lists        repository.ListRepository
	supported    func(provider string) bool
}

// NewAPIServer creates a new API server instance. A nil sync service makes
// the sync and conflict endpoints answer 503.
func NewAPIServer(sync SyncService, integrations IntegrationLookup, queue SyncEnqueuer, lists repository.ListRepository, supported func(string) bool) *APIServer {
	return &APIServer{
		sync:         sync,
		integrations: integrations,
		queue:        queue,
		lists:        lists,
		supported:    supported,
	}
}

var _ ServerInterface = (*APIServer)(nil)

func apiError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(Error{Error: code, Message: message})
}

func (s *APIServer) available() bool {
	return s.sync != nil
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetUserProfile returns account information for the authenticated user.
func (s *APIServer) GetUserProfile(c *fiber.Ctx) error {
	return controllers.HandleGetUserAccount(c)
}

// PostIntegrationSync runs a sync inline, or queues it with ?async=true.
func (s *APIServer) PostIntegrationSync(c *fiber.Ctx, provider string, params PostIntegrationSyncParams) error {
	if !s.available() {
		return apiError(c, fiber.StatusServiceUnavailable, "unavailable", "Task sync is not configured")
	}
	if s.supported != nil && !s.supported(provider) {
		return apiError(c, fiber.StatusNotFound, "not_found", "Unknown provider")
	}
	userID := usercontext.UserID(c)

	if params.Async != nil && *params.Async {
		if s.queue == nil {
			return apiError(c, fiber.StatusServiceUnavailable, "unavailable", "Job queue is not configured")
		}
		job, err := s.queue.EnqueueSync(userID, provider, jobqueue.SyncTriggerManual)
		if err != nil {
			log.Errorf("[API] Failed to enqueue sync for user %d: %v", userID, err)
			return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to queue sync")
		}
		return c.Status(fiber.StatusAccepted).JSON(SyncQueued{Status: "queued", JobID: job.ID})
	}

	res := s.sync.Sync(c.UserContext(), userID, provider)
	return c.Status(syncHTTPStatus(res)).JSON(SyncRun{
		Status:     res.Status,
		Error:      res.Error,
		Stats:      res.Stats,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	})
}

// syncHTTPStatus maps a run outcome to the response code.
func syncHTTPStatus(res tasksync.RunResult) int {
	if res.OK() {
		return fiber.StatusOK
	}
	switch {
	case errors.Is(res.Err, tasksync.ErrSyncInProgress):
		return fiber.StatusConflict
	case errors.Is(res.Err, tasksync.ErrNoIntegration):
		return fiber.StatusNotFound
	case errors.Is(res.Err, tasksync.ErrUnauthorized):
		return fiber.StatusForbidden
	}
	return fiber.StatusBadGateway
}

// GetIntegrationStatus reports the connection and last run of a provider.
func (s *APIServer) GetIntegrationStatus(c *fiber.Ctx, provider string) error {
	if !s.available() {
		return apiError(c, fiber.StatusServiceUnavailable, "unavailable", "Task sync is not configured")
	}
	if s.supported != nil && !s.supported(provider) {
		return apiError(c, fiber.StatusNotFound, "not_found", "Unknown provider")
	}
	userID := usercontext.UserID(c)

	state, err := s.sync.Status(c.UserContext(), userID, provider)
	if err != nil {
		log.Errorf("[API] Failed to load sync state for user %d: %v", userID, err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load sync state")
	}
	out := IntegrationStatus{
		Provider:     provider,
		Status:       state.Status,
		LastSyncedAt: state.LastSyncedAt,
		LastError:    state.LastError,
		RunStartedAt: state.RunStartedAt,
	}
	if s.integrations != nil {
		in, err := s.integrations.Integration(c.UserContext(), userID, provider)
		switch {
		case err == nil:
			out.Connected = true
			out.AccountEmail = in.Email
			out.TokenExpiresAt = in.TokenExpiresAt
		case !errors.Is(err, tasksync.ErrNoIntegration):
			log.Errorf("[API] Failed to load integration for user %d: %v", userID, err)
			return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load integration")
		}
	}
	return c.JSON(out)
}

// ListConflicts returns the user's conflicts, optionally filtered.
func (s *APIServer) ListConflicts(c *fiber.Ctx, params ListConflictsParams) error {
	if !s.available() {
		return apiError(c, fiber.StatusServiceUnavailable, "unavailable", "Task sync is not configured")
	}
	var provider, status string
	if params.Provider != nil {
		provider = *params.Provider
	}
	if params.Status != nil {
		status = *params.Status
	}
	conflicts, err := s.sync.ListConflicts(c.UserContext(), usercontext.UserID(c), provider, status)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return apiError(c, fiber.StatusBadRequest, "bad_request", err.Error())
		}
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load conflicts")
	}
	if conflicts == nil {
		conflicts = []models.ExternalSyncConflict{}
	}
	return c.JSON(conflicts)
}

// GetConflict returns one conflict with both payloads.
func (s *APIServer) GetConflict(c *fiber.Ctx, id string) error {
	if !s.available() {
		return apiError(c, fiber.StatusServiceUnavailable, "unavailable", "Task sync is not configured")
	}
	conflict, err := s.sync.GetConflict(c.UserContext(), usercontext.UserID(c), id)
	if err != nil {
		return conflictError(c, err)
	}
	return c.JSON(conflict)
}

// ResolveConflict applies the chosen side of a pending conflict.
func (s *APIServer) ResolveConflict(c *fiber.Ctx, id string) error {
	if !s.available() {
		return apiError(c, fiber.StatusServiceUnavailable, "unavailable", "Task sync is not configured")
	}
	var body ResolveConflictJSONBody
	if err := c.BodyParser(&body); err != nil {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	res, err := s.sync.ResolveConflict(c.UserContext(), usercontext.UserID(c), id, body.Resolution)
	if err != nil {
		return conflictError(c, err)
	}
	return c.JSON(res)
}

// conflictError maps resolution failures to HTTP responses.
func conflictError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, tasksync.ErrInvalidResolution):
		return apiError(c, fiber.StatusBadRequest, "bad_request", "Resolution must be local or remote")
	case errors.Is(err, tasksync.ErrConflictNotFound):
		return apiError(c, fiber.StatusNotFound, "not_found", "Conflict not found")
	case errors.Is(err, tasksync.ErrConflictAlreadyResolved):
		return apiError(c, fiber.StatusConflict, "already_resolved", "Conflict is already resolved")
	case errors.Is(err, tasksync.ErrConflictObsolete):
		return apiError(c, fiber.StatusGone, "conflict_obsolete", "The task was deleted, the conflict has been closed")
	case errors.Is(err, tasksync.ErrMappingNotFound):
		return apiError(c, fiber.StatusConflict, "mapping_not_found", "The task is no longer linked to the provider")
	case errors.Is(err, tasksync.ErrProviderRequest):
		return apiError(c, fiber.StatusBadGateway, "provider_error", err.Error())
	}
	log.Errorf("[API] Conflict request failed: %v", err)
	return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Conflict request failed")
}

// GetLists returns the user's local lists with open task counts.
func (s *APIServer) GetLists(c *fiber.Ctx) error {
	if s.lists == nil {
		return apiError(c, fiber.StatusServiceUnavailable, "unavailable", "Lists are not available")
	}
	userID := usercontext.UserID(c)
	lists, err := s.lists.GetByUserID(userID)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load lists")
	}
	out := make([]ListSummary, 0, len(lists))
	for _, l := range lists {
		open, err := s.lists.CountTasks(userID, l.ID)
		if err != nil {
			return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count tasks")
		}
		out = append(out, ListSummary{ID: l.ID, Title: l.Title, Position: l.Position, OpenTasks: open, UpdatedAt: l.UpdatedAt})
	}
	return c.JSON(out)
}

// GetListTasks returns the tasks of one list.
func (s *APIServer) GetListTasks(c *fiber.Ctx, id uint, params GetListTasksParams) error {
	if s.lists == nil {
		return apiError(c, fiber.StatusServiceUnavailable, "unavailable", "Lists are not available")
	}
	userID := usercontext.UserID(c)
	if _, err := s.lists.GetByID(userID, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apiError(c, fiber.StatusNotFound, "not_found", "List not found")
		}
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load list")
	}
	includeCompleted := params.IncludeCompleted != nil && *params.IncludeCompleted
	tasks, err := s.lists.GetTasks(userID, id, includeCompleted)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load tasks")
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return c.JSON(tasks)
}
