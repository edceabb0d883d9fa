package tasksync

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/TaskFox/app/models"
)

// Service is the entry point used by controllers, the job queue and the CLI.
type Service struct {
	repo        Repository
	entities    *EntityMap
	engine      *Engine
	credentials CredentialResolver
	newClient   ClientFactory
	opts        options
	validate    *validator.Validate
	runs        singleflight.Group
}

// NewService creates a sync service from an injected repository and adapters.
func NewService(repo Repository, credentials CredentialResolver, newClient ClientFactory, opts ...Option) *Service {
	engine := NewEngine(repo, credentials, newClient, opts...)
	return &Service{
		repo:        repo,
		entities:    engine.entities,
		engine:      engine,
		credentials: credentials,
		newClient:   newClient,
		opts:        engine.opts,
		validate:    validator.New(),
	}
}

// Sync runs reconciliation for one user and provider. Concurrent calls for the
// same pair in this process share one run and its result.
func (s *Service) Sync(ctx context.Context, userID uint, provider string) RunResult {
	key := fmt.Sprintf("%d:%s", userID, provider)
	v, _, _ := s.runs.Do(key, func() (interface{}, error) {
		return s.engine.Run(ctx, userID, provider), nil
	})
	return v.(RunResult)
}

// Status returns the sync state of a pair. A pair that never ran reports idle.
func (s *Service) Status(ctx context.Context, userID uint, provider string) (*models.ExternalSyncState, error) {
	state, err := s.repo.GetSyncState(ctx, userID, provider)
	if errors.Is(err, ErrNotFound) {
		return &models.ExternalSyncState{UserID: userID, Provider: provider, Status: models.SyncStatusIdle}, nil
	}
	return state, err
}

type listConflictsRequest struct {
	Provider string `validate:"omitempty,max=50"`
	Status   string `validate:"omitempty,oneof=pending resolved"`
}

// ListConflicts returns the user's conflicts, newest first. Empty filters match all.
func (s *Service) ListConflicts(ctx context.Context, userID uint, provider, status string) ([]models.ExternalSyncConflict, error) {
	if err := s.validate.Struct(listConflictsRequest{Provider: provider, Status: status}); err != nil {
		return nil, fmt.Errorf("invalid conflict filter: %w", err)
	}
	return s.repo.ListConflicts(ctx, userID, provider, status)
}

// GetConflict loads one conflict of the user by its public id.
func (s *Service) GetConflict(ctx context.Context, userID uint, conflictID string) (*models.ExternalSyncConflict, error) {
	c, err := s.repo.GetConflict(ctx, userID, conflictID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflictNotFound
	}
	return c, err
}
