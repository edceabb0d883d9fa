package tasksync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TaskFox/app/models"
)

type resolveRequest struct {
	ConflictID string `validate:"required,uuid"`
	Resolution string `validate:"required,oneof=local remote"`
}

// ResolveResult reports the outcome of a conflict resolution.
type ResolveResult struct {
	Conflict *models.ExternalSyncConflict `json:"conflict"`
	Task     *models.Task                 `json:"task"`
}

// ResolveConflict applies the chosen side of a pending conflict. The pairing
// comes from the entity map at resolution time, not from the stored payloads.
// A failed push for "local" leaves the conflict pending.
func (s *Service) ResolveConflict(ctx context.Context, userID uint, conflictID, resolution string) (*ResolveResult, error) {
	if err := s.validate.Struct(resolveRequest{ConflictID: conflictID, Resolution: resolution}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResolution, err)
	}

	c, err := s.GetConflict(ctx, userID, conflictID)
	if err != nil {
		return nil, err
	}
	if !c.IsPending() {
		return nil, ErrConflictAlreadyResolved
	}

	now := s.opts.now().UTC()
	m, err := s.currentMapping(ctx, c)
	if errors.Is(err, ErrConflictObsolete) {
		return nil, s.closeObsolete(ctx, c, now)
	}
	if err != nil {
		return nil, err
	}
	local, err := s.repo.GetTask(ctx, userID, *m.LocalID)
	if errors.Is(err, ErrNotFound) {
		return nil, s.closeObsolete(ctx, c, now)
	}
	if err != nil {
		return nil, err
	}

	var fp Fingerprint
	switch resolution {
	case models.ConflictResolutionRemote:
		rt, err := DecodeRemotePayload(c.RemotePayload)
		if err != nil {
			return nil, err
		}
		applyRemoteFields(local, *rt, now)
		local.UpdatedAt = now
		if err := s.repo.SaveSyncedTask(ctx, local); err != nil {
			return nil, fmt.Errorf("apply remote version: %w", err)
		}
		if rt.ID == m.ExternalID {
			fp = taskFingerprint(*rt)
		}

	case models.ConflictResolutionLocal:
		if m.ParentExternalID() == "" {
			return nil, fmt.Errorf("%w: task %s has no tasklist", ErrMappingNotFound, m.ExternalID)
		}
		token, err := s.credentials.GetAccessToken(ctx, userID, c.Provider)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve credentials: %w", ErrProviderRequest, err)
		}
		client, err := s.newClient(token.Token, token.Integration)
		if err != nil {
			return nil, fmt.Errorf("%w: build client: %w", ErrProviderRequest, err)
		}
		updated, err := client.UpdateTask(ctx, m.ParentExternalID(), m.ExternalID, taskInputFromLocal(local))
		if err != nil {
			log.Warnf("[TaskSync] conflict %s: push local version failed: %v", c.PublicID, err)
			return nil, fmt.Errorf("%w: push local version: %w", ErrProviderRequest, err)
		}
		fp = taskFingerprint(*updated)
	}

	localID := local.ID
	if _, err := s.entities.UpsertMapping(ctx, MappingInput{
		UserID:           userID,
		Provider:         c.Provider,
		EntityType:       models.EntityTypeTask,
		LocalID:          &localID,
		ExternalID:       m.ExternalID,
		ParentExternalID: m.ParentExternalID(),
		Fingerprint:      fp,
	}); err != nil {
		return nil, fmt.Errorf("refresh mapping: %w", err)
	}

	if err := s.repo.MarkConflictResolved(ctx, c.ID, resolution, now); err != nil {
		return nil, err
	}
	c.Status = models.ConflictStatusResolved
	c.Resolution = &resolution
	c.ResolvedAt = &now
	log.Infof("[TaskSync] conflict %s resolved with %s version", c.PublicID, resolution)
	return &ResolveResult{Conflict: c, Task: local}, nil
}

// closeObsolete marks a conflict on a deleted task as closed and reports
// ErrConflictObsolete so the caller learns why nothing was applied.
func (s *Service) closeObsolete(ctx context.Context, c *models.ExternalSyncConflict, now time.Time) error {
	if err := s.repo.MarkConflictResolved(ctx, c.ID, models.ConflictResolutionDeleted, now); err != nil && !errors.Is(err, ErrConflictAlreadyResolved) {
		return err
	}
	log.Infof("[TaskSync] conflict %s closed, its task was deleted", c.PublicID)
	return ErrConflictObsolete
}

// currentMapping finds the live pairing for a conflict, first by external id
// and then by the local id recorded at detection time. A pairing that only
// survives as a tombstone means the task was deleted.
func (s *Service) currentMapping(ctx context.Context, c *models.ExternalSyncConflict) (*models.ExternalEntityMap, error) {
	m, err := s.entities.Lookup(ctx, c.UserID, c.Provider, c.EntityType, c.ExternalID)
	if err != nil {
		return nil, err
	}
	if m.IsActive() && m.LocalID != nil {
		return m, nil
	}
	tombstoned := m != nil && !m.IsActive()
	if c.LocalID != nil {
		m, err = s.entities.LookupByLocalID(ctx, c.UserID, c.Provider, c.EntityType, *c.LocalID, false)
		if err != nil {
			return nil, err
		}
		if m != nil && m.LocalID != nil {
			return m, nil
		}
	}
	if tombstoned {
		return nil, ErrConflictObsolete
	}
	return nil, ErrMappingNotFound
}
