package credentials

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/TaskFox/app/models"
)

var ErrNotFound = errors.New("credentials: integration not found")

// Store persists integrations and the sync data hanging off them.
type Store interface {
	GetIntegration(ctx context.Context, userID uint, provider string) (*models.ExternalIntegration, error)
	SaveIntegration(ctx context.Context, in *models.ExternalIntegration) error
	DeleteIntegration(ctx context.Context, userID uint, provider string) error
	PurgeSyncData(ctx context.Context, userID uint, provider string) error
	ListIntegrations(ctx context.Context, provider string) ([]models.ExternalIntegration, error)
	ListIntegrationsNotOnKey(ctx context.Context, keyID string) ([]models.ExternalIntegration, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates an integration store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) GetIntegration(ctx context.Context, userID uint, provider string) (*models.ExternalIntegration, error) {
	var in models.ExternalIntegration
	err := s.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).First(&in).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// SaveIntegration inserts or replaces the (user, provider) row.
func (s *gormStore) SaveIntegration(ctx context.Context, in *models.ExternalIntegration) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_account_id", "email",
			"access_token_enc", "access_token_iv", "access_token_tag",
			"refresh_token_enc", "refresh_token_iv", "refresh_token_tag",
			"key_id", "token_expires_at", "scopes", "metadata", "updated_at",
		}),
	}).Create(in).Error
}

// DeleteIntegration removes the credentials and the run state. Entity
// mappings survive so reconnecting the same account resumes where it left off.
func (s *gormStore) DeleteIntegration(ctx context.Context, userID uint, provider string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND provider = ?", userID, provider).Delete(&models.ExternalSyncState{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND provider = ?", userID, provider).Delete(&models.ExternalIntegration{}).Error
	})
}

// PurgeSyncData drops mappings, conflicts and run state, used when a
// different provider account is connected.
func (s *gormStore) PurgeSyncData(ctx context.Context, userID uint, provider string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&models.ExternalEntityMap{}, &models.ExternalSyncConflict{}, &models.ExternalSyncState{}} {
			if err := tx.Where("user_id = ? AND provider = ?", userID, provider).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *gormStore) ListIntegrations(ctx context.Context, provider string) ([]models.ExternalIntegration, error) {
	var out []models.ExternalIntegration
	q := s.db.WithContext(ctx).Order("id ASC")
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *gormStore) ListIntegrationsNotOnKey(ctx context.Context, keyID string) ([]models.ExternalIntegration, error) {
	var out []models.ExternalIntegration
	err := s.db.WithContext(ctx).Where("key_id <> ?", keyID).Order("id ASC").Find(&out).Error
	return out, err
}
