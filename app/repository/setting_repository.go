package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/TaskFox/app/models"
)

type settingRepository struct {
	db *gorm.DB
}

// NewSettingRepository creates a new setting repository instance
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

// Get returns a copy of the loaded settings that callers may modify.
func (r *settingRepository) Get() (*models.AppSettings, error) {
	data, err := models.GetAppSettings().ToJSON()
	if err != nil {
		return nil, err
	}
	settings := &models.AppSettings{}
	if err := settings.FromJSON(data); err != nil {
		return nil, err
	}
	return settings, nil
}

// Save validates and persists settings, then makes them the active ones.
func (r *settingRepository) Save(settings *models.AppSettings) error {
	return models.SaveSettings(r.db, settings)
}

// Reload reads the settings table again.
func (r *settingRepository) Reload() error {
	return models.LoadSettings(r.db)
}
