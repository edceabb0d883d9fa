package tasksync

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/TaskFox/app/models"
)

// Fingerprint identifies one observed version of a remote entity.
type Fingerprint struct {
	Etag    string
	Updated *time.Time
}

func listFingerprint(l RemoteTaskList) Fingerprint {
	return Fingerprint{Etag: l.Etag, Updated: l.Updated}
}

func taskFingerprint(t RemoteTask) Fingerprint {
	return Fingerprint{Etag: t.Etag, Updated: t.Updated}
}

// Differs reports whether fp names a different remote version than the one
// recorded on m. Etags win over timestamps when both sides carry one.
func (fp Fingerprint) Differs(m *models.ExternalEntityMap) bool {
	if m == nil {
		return true
	}
	if fp.Etag != "" && m.ExternalEtag != nil {
		return *m.ExternalEtag != fp.Etag
	}
	if fp.Updated != nil && m.ExternalUpdatedAt != nil {
		return !fp.Updated.Equal(*m.ExternalUpdatedAt)
	}
	return fp.Etag != "" || fp.Updated != nil
}

// MappingInput describes one cross-system link to record.
type MappingInput struct {
	UserID           uint
	Provider         string
	EntityType       string
	LocalID          *uint
	ExternalID       string
	ParentExternalID string
	Fingerprint      Fingerprint
}

// EntityMap is the identity map between local rows and provider ids.
type EntityMap struct {
	repo Repository
	now  func() time.Time
}

// NewEntityMap creates an entity map on top of the repository.
func NewEntityMap(repo Repository, now func() time.Time) *EntityMap {
	if now == nil {
		now = time.Now
	}
	return &EntityMap{repo: repo, now: now}
}

// Lookup returns the mapping for externalID including tombstones, or nil when
// the entity was never linked.
func (e *EntityMap) Lookup(ctx context.Context, userID uint, provider, entityType, externalID string) (*models.ExternalEntityMap, error) {
	m, err := e.repo.FindMapping(ctx, userID, provider, entityType, externalID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// LookupByLocalID returns the newest mapping for a local id, or nil.
func (e *EntityMap) LookupByLocalID(ctx context.Context, userID uint, provider, entityType string, localID uint, includeTombstoned bool) (*models.ExternalEntityMap, error) {
	m, err := e.repo.FindMappingByLocalID(ctx, userID, provider, entityType, localID, includeTombstoned)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// FindLocalID returns the local id of an active mapping, or nil.
func (e *EntityMap) FindLocalID(ctx context.Context, userID uint, provider, entityType, externalID string) (*uint, error) {
	m, err := e.Lookup(ctx, userID, provider, entityType, externalID)
	if err != nil || !m.IsActive() {
		return nil, err
	}
	return m.LocalID, nil
}

// FindExternalID resolves the local to external direction over active mappings.
func (e *EntityMap) FindExternalID(ctx context.Context, userID uint, provider, entityType string, localID uint) (string, bool, error) {
	m, err := e.LookupByLocalID(ctx, userID, provider, entityType, localID, false)
	if err != nil || m == nil {
		return "", false, err
	}
	return m.ExternalID, true, nil
}

// UpsertMapping records or refreshes a link in place and clears any tombstone.
// Other active mappings of the same local id are tombstoned so a local entity
// keeps at most one live pairing per provider.
func (e *EntityMap) UpsertMapping(ctx context.Context, in MappingInput) (*models.ExternalEntityMap, error) {
	if in.ExternalID == "" {
		return nil, errors.New("tasksync: mapping needs an external id")
	}
	at := e.now().UTC()
	m := &models.ExternalEntityMap{
		UserID:            in.UserID,
		Provider:          in.Provider,
		EntityType:        in.EntityType,
		ExternalID:        in.ExternalID,
		LocalID:           in.LocalID,
		ExternalUpdatedAt: in.Fingerprint.Updated,
		LastSyncedAt:      &at,
	}
	if in.ParentExternalID != "" {
		parent := in.ParentExternalID
		m.ExternalParentID = &parent
	}
	if in.Fingerprint.Etag != "" {
		etag := in.Fingerprint.Etag
		m.ExternalEtag = &etag
	}
	if err := e.repo.UpsertMapping(ctx, m); err != nil {
		return nil, err
	}
	if in.LocalID != nil {
		if err := e.repo.TombstoneOtherMappings(ctx, in.UserID, in.Provider, in.EntityType, *in.LocalID, in.ExternalID, at); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SoftDelete tombstones the mapping so the entity is not re-created on pull.
func (e *EntityMap) SoftDelete(ctx context.Context, userID uint, provider, entityType, externalID string) error {
	return e.repo.TombstoneMapping(ctx, userID, provider, entityType, externalID, e.now().UTC())
}
