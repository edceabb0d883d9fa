package tasksync

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/TaskFox/app/models"
)

// Repository provides the DB operations used by the sync engine.
type Repository interface {
	FindMapping(ctx context.Context, userID uint, provider, entityType, externalID string) (*models.ExternalEntityMap, error)
	FindMappingByLocalID(ctx context.Context, userID uint, provider, entityType string, localID uint, includeTombstoned bool) (*models.ExternalEntityMap, error)
	ListMappings(ctx context.Context, userID uint, provider, entityType string) ([]models.ExternalEntityMap, error)
	UpsertMapping(ctx context.Context, m *models.ExternalEntityMap) error
	TombstoneMapping(ctx context.Context, userID uint, provider, entityType, externalID string, at time.Time) error
	TombstoneOtherMappings(ctx context.Context, userID uint, provider, entityType string, localID uint, keepExternalID string, at time.Time) error

	GetList(ctx context.Context, userID, id uint) (*models.List, error)
	ListLists(ctx context.Context, userID uint) ([]models.List, error)
	CreateList(ctx context.Context, l *models.List) error
	SaveSyncedList(ctx context.Context, l *models.List) error

	GetTask(ctx context.Context, userID, id uint) (*models.Task, error)
	ListTasks(ctx context.Context, userID, listID uint) ([]models.Task, error)
	CreateTask(ctx context.Context, t *models.Task) error
	SaveSyncedTask(ctx context.Context, t *models.Task) error
	SoftDeleteTask(ctx context.Context, userID, id uint) error

	GetSyncState(ctx context.Context, userID uint, provider string) (*models.ExternalSyncState, error)
	AcquireSyncLock(ctx context.Context, userID uint, provider string, now time.Time, staleAfter time.Duration) (bool, *models.ExternalSyncState, error)
	SaveSyncState(ctx context.Context, s *models.ExternalSyncState) error

	FindPendingConflict(ctx context.Context, userID uint, provider, entityType, externalID string) (*models.ExternalSyncConflict, error)
	CreateConflict(ctx context.Context, c *models.ExternalSyncConflict) error
	UpdateConflictPayloads(ctx context.Context, id uint, local, remote datatypes.JSON) error
	GetConflict(ctx context.Context, userID uint, publicID string) (*models.ExternalSyncConflict, error)
	ListConflicts(ctx context.Context, userID uint, provider, status string) ([]models.ExternalSyncConflict, error)
	MarkConflictResolved(ctx context.Context, id uint, resolution string, at time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a sync repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *gormRepository) FindMapping(ctx context.Context, userID uint, provider, entityType, externalID string) (*models.ExternalEntityMap, error) {
	var m models.ExternalEntityMap
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND entity_type = ? AND external_id = ?", userID, provider, entityType, externalID).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *gormRepository) FindMappingByLocalID(ctx context.Context, userID uint, provider, entityType string, localID uint, includeTombstoned bool) (*models.ExternalEntityMap, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND entity_type = ? AND local_id = ?", userID, provider, entityType, localID)
	if !includeTombstoned {
		q = q.Where("deleted_at IS NULL")
	}
	var m models.ExternalEntityMap
	// Active rows sort first so callers see the live pairing when one exists.
	if err := q.Order("deleted_at IS NOT NULL, id DESC").First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *gormRepository) ListMappings(ctx context.Context, userID uint, provider, entityType string) ([]models.ExternalEntityMap, error) {
	var maps []models.ExternalEntityMap
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND entity_type = ?", userID, provider, entityType).
		Order("id").
		Find(&maps).Error
	return maps, err
}

func (r *gormRepository) UpsertMapping(ctx context.Context, m *models.ExternalEntityMap) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "provider"},
			{Name: "entity_type"},
			{Name: "external_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"local_id",
			"external_parent_id",
			"external_etag",
			"external_updated_at",
			"last_synced_at",
			"deleted_at",
			"updated_at",
		}),
	}).Create(m).Error; err != nil {
		return err
	}

	// MySQL reports no usable insert id when the upsert hit an existing row,
	// so reload by the unique tuple instead of trusting m.ID.
	var stored models.ExternalEntityMap
	if err := db.Where("user_id = ? AND provider = ? AND entity_type = ? AND external_id = ?", m.UserID, m.Provider, m.EntityType, m.ExternalID).
		First(&stored).Error; err != nil {
		return err
	}
	*m = stored
	return nil
}

func (r *gormRepository) TombstoneMapping(ctx context.Context, userID uint, provider, entityType, externalID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ExternalEntityMap{}).
		Where("user_id = ? AND provider = ? AND entity_type = ? AND external_id = ? AND deleted_at IS NULL", userID, provider, entityType, externalID).
		Updates(map[string]interface{}{"deleted_at": at, "updated_at": at}).Error
}

func (r *gormRepository) TombstoneOtherMappings(ctx context.Context, userID uint, provider, entityType string, localID uint, keepExternalID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ExternalEntityMap{}).
		Where("user_id = ? AND provider = ? AND entity_type = ? AND local_id = ? AND external_id <> ? AND deleted_at IS NULL", userID, provider, entityType, localID, keepExternalID).
		Updates(map[string]interface{}{"deleted_at": at, "updated_at": at}).Error
}

func (r *gormRepository) GetList(ctx context.Context, userID, id uint) (*models.List, error) {
	var l models.List
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&l).Error; err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (r *gormRepository) ListLists(ctx context.Context, userID uint) ([]models.List, error) {
	var lists []models.List
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("position, id").Find(&lists).Error
	return lists, err
}

func (r *gormRepository) CreateList(ctx context.Context, l *models.List) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// SaveSyncedList writes list fields without touching updated_at tracking, so
// the caller decides which timestamp the row carries.
func (r *gormRepository) SaveSyncedList(ctx context.Context, l *models.List) error {
	return r.db.WithContext(ctx).Model(&models.List{}).
		Where("id = ? AND user_id = ?", l.ID, l.UserID).
		UpdateColumns(map[string]interface{}{
			"title":      l.Title,
			"updated_at": l.UpdatedAt,
		}).Error
}

func (r *gormRepository) GetTask(ctx context.Context, userID, id uint) (*models.Task, error) {
	var t models.Task
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *gormRepository) ListTasks(ctx context.Context, userID, listID uint) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND list_id = ?", userID, listID).
		Order("position, id").
		Find(&tasks).Error
	return tasks, err
}

func (r *gormRepository) CreateTask(ctx context.Context, t *models.Task) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// SaveSyncedTask writes the synced task fields with the caller's updated_at.
func (r *gormRepository) SaveSyncedTask(ctx context.Context, t *models.Task) error {
	return r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND user_id = ?", t.ID, t.UserID).
		UpdateColumns(map[string]interface{}{
			"list_id":      t.ListID,
			"parent_id":    t.ParentID,
			"title":        t.Title,
			"description":  t.Description,
			"is_completed": t.IsCompleted,
			"completed_at": t.CompletedAt,
			"due_date":     t.DueDate,
			"updated_at":   t.UpdatedAt,
		}).Error
}

func (r *gormRepository) SoftDeleteTask(ctx context.Context, userID, id uint) error {
	return r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Task{}).Error
}

func (r *gormRepository) GetSyncState(ctx context.Context, userID uint, provider string) (*models.ExternalSyncState, error) {
	var s models.ExternalSyncState
	if err := r.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// AcquireSyncLock flips the state row to syncing unless a fresh run holds it.
// The conditional UPDATE is atomic, so only one caller sees a changed row.
func (r *gormRepository) AcquireSyncLock(ctx context.Context, userID uint, provider string, now time.Time, staleAfter time.Duration) (bool, *models.ExternalSyncState, error) {
	db := r.db.WithContext(ctx)
	seed := &models.ExternalSyncState{UserID: userID, Provider: provider, Status: models.SyncStatusIdle}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return false, nil, err
	}

	res := db.Model(&models.ExternalSyncState{}).
		Where("user_id = ? AND provider = ? AND (status <> ? OR run_started_at IS NULL OR run_started_at < ?)",
			userID, provider, models.SyncStatusSyncing, now.Add(-staleAfter)).
		Updates(map[string]interface{}{
			"status":         models.SyncStatusSyncing,
			"run_started_at": now,
		})
	if res.Error != nil {
		return false, nil, res.Error
	}

	state, err := r.GetSyncState(ctx, userID, provider)
	if err != nil {
		return false, nil, err
	}
	return res.RowsAffected > 0, state, nil
}

func (r *gormRepository) SaveSyncState(ctx context.Context, s *models.ExternalSyncState) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *gormRepository) FindPendingConflict(ctx context.Context, userID uint, provider, entityType, externalID string) (*models.ExternalSyncConflict, error) {
	var c models.ExternalSyncConflict
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND entity_type = ? AND external_id = ? AND status = ?",
			userID, provider, entityType, externalID, models.ConflictStatusPending).
		Order("id DESC").
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *gormRepository) CreateConflict(ctx context.Context, c *models.ExternalSyncConflict) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *gormRepository) UpdateConflictPayloads(ctx context.Context, id uint, local, remote datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&models.ExternalSyncConflict{}).
		Where("id = ? AND status = ?", id, models.ConflictStatusPending).
		Updates(map[string]interface{}{
			"local_payload":  local,
			"remote_payload": remote,
		}).Error
}

func (r *gormRepository) GetConflict(ctx context.Context, userID uint, publicID string) (*models.ExternalSyncConflict, error) {
	var c models.ExternalSyncConflict
	if err := r.db.WithContext(ctx).Where("public_id = ? AND user_id = ?", publicID, userID).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *gormRepository) ListConflicts(ctx context.Context, userID uint, provider, status string) ([]models.ExternalSyncConflict, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var conflicts []models.ExternalSyncConflict
	err := q.Order("detected_at DESC, id DESC").Find(&conflicts).Error
	return conflicts, err
}

func (r *gormRepository) MarkConflictResolved(ctx context.Context, id uint, resolution string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.ExternalSyncConflict{}).
		Where("id = ? AND status = ?", id, models.ConflictStatusPending).
		Updates(map[string]interface{}{
			"status":      models.ConflictStatusResolved,
			"resolution":  resolution,
			"resolved_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflictAlreadyResolved
	}
	return nil
}
