package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Setting represents a runtime setting row
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppSettings holds the runtime settings of the sync subsystem
type AppSettings struct {
	SiteTitle              string `json:"site_title" validate:"required,min=1,max=255"`
	ExternalSyncEnabled    bool   `json:"external_sync_enabled"`
	SyncWorkerCount        int    `json:"sync_worker_count" validate:"min=1,max=20"`
	SyncIntervalMinutes    int    `json:"sync_interval_minutes" validate:"min=0,max=1440"`
	SyncLockStaleMinutes   int    `json:"sync_lock_stale_minutes" validate:"min=1,max=1440"`
	SnapshotArchiveEnabled bool   `json:"snapshot_archive_enabled"`
	mu                     sync.RWMutex
}

const (
	settingSiteTitle              = "site_title"
	settingExternalSyncEnabled    = "external_sync_enabled"
	settingSyncWorkerCount        = "sync_worker_count"
	settingSyncIntervalMinutes    = "sync_interval_minutes"
	settingSyncLockStaleMinutes   = "sync_lock_stale_minutes"
	settingSnapshotArchiveEnabled = "snapshot_archive_enabled"
)

// Global settings instance
var (
	appSettings *AppSettings
	settingsMu  sync.RWMutex
)

// DefaultAppSettings returns the settings used when the table is empty.
func DefaultAppSettings() *AppSettings {
	return &AppSettings{
		SiteTitle:              "TaskFox",
		ExternalSyncEnabled:    true,
		SyncWorkerCount:        2,
		SyncIntervalMinutes:    15,
		SyncLockStaleMinutes:   30,
		SnapshotArchiveEnabled: false,
	}
}

// GetAppSettings returns the current application settings. Before LoadSettings
// ran it returns the defaults.
func GetAppSettings() *AppSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	if appSettings == nil {
		return DefaultAppSettings()
	}
	return appSettings
}

// LoadSettings loads settings from database into memory
func LoadSettings(db *gorm.DB) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	loaded := DefaultAppSettings()

	var settings []Setting
	if err := db.Find(&settings).Error; err != nil {
		appSettings = loaded
		return fmt.Errorf("failed to load settings: %w", err)
	}

	for _, setting := range settings {
		loaded.apply(setting.Key, setting.Value)
	}

	appSettings = loaded
	return nil
}

func (s *AppSettings) apply(key, value string) {
	switch key {
	case settingSiteTitle:
		s.SiteTitle = value
	case settingExternalSyncEnabled:
		s.ExternalSyncEnabled = value == "true"
	case settingSyncWorkerCount:
		if n, err := strconv.Atoi(value); err == nil {
			s.SyncWorkerCount = n
		}
	case settingSyncIntervalMinutes:
		if n, err := strconv.Atoi(value); err == nil {
			s.SyncIntervalMinutes = n
		}
	case settingSyncLockStaleMinutes:
		if n, err := strconv.Atoi(value); err == nil {
			s.SyncLockStaleMinutes = n
		}
	case settingSnapshotArchiveEnabled:
		s.SnapshotArchiveEnabled = value == "true"
	}
}

func (s *AppSettings) toMap() map[string]string {
	return map[string]string{
		settingSiteTitle:              s.SiteTitle,
		settingExternalSyncEnabled:    strconv.FormatBool(s.ExternalSyncEnabled),
		settingSyncWorkerCount:        strconv.Itoa(s.SyncWorkerCount),
		settingSyncIntervalMinutes:    strconv.Itoa(s.SyncIntervalMinutes),
		settingSyncLockStaleMinutes:   strconv.Itoa(s.SyncLockStaleMinutes),
		settingSnapshotArchiveEnabled: strconv.FormatBool(s.SnapshotArchiveEnabled),
	}
}

// SaveSettings saves current settings to database
func SaveSettings(db *gorm.DB, settings *AppSettings) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	if err := settings.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	for key, value := range settings.toMap() {
		var setting Setting
		result := db.Where("setting_key = ?", key).First(&setting)

		if result.Error != nil {
			if result.Error == gorm.ErrRecordNotFound {
				setting = Setting{
					Key:   key,
					Value: value,
					Type:  getSettingType(key),
				}
				if err := db.Create(&setting).Error; err != nil {
					return fmt.Errorf("failed to create setting %s: %w", key, err)
				}
			} else {
				return fmt.Errorf("failed to query setting %s: %w", key, result.Error)
			}
		} else {
			setting.Value = value
			if err := db.Save(&setting).Error; err != nil {
				return fmt.Errorf("failed to update setting %s: %w", key, err)
			}
		}
	}

	appSettings = settings
	return nil
}

// getSettingType returns the type of a setting based on its key
func getSettingType(key string) string {
	switch key {
	case settingExternalSyncEnabled, settingSnapshotArchiveEnabled:
		return "boolean"
	case settingSyncWorkerCount, settingSyncIntervalMinutes, settingSyncLockStaleMinutes:
		return "integer"
	default:
		return "string"
	}
}

// Validate validates the settings
func (s *AppSettings) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// ToJSON converts settings to JSON
func (s *AppSettings) ToJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s)
}

// FromJSON loads settings from JSON
func (s *AppSettings) FromJSON(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(data, s)
}

// IsExternalSyncEnabled returns whether scheduled and manual syncs may run
func (s *AppSettings) IsExternalSyncEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ExternalSyncEnabled
}

// GetSyncWorkerCount returns the number of job queue workers
func (s *AppSettings) GetSyncWorkerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.SyncWorkerCount < 1 {
		return 1
	}
	return s.SyncWorkerCount
}

// GetSyncInterval returns the scheduled sync interval. Zero disables scheduling.
func (s *AppSettings) GetSyncInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.SyncIntervalMinutes <= 0 {
		return 0
	}
	return time.Duration(s.SyncIntervalMinutes) * time.Minute
}

// GetSyncLockStaleAfter returns how long a syncing status is honoured before
// another run may take over.
func (s *AppSettings) GetSyncLockStaleAfter() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.SyncLockStaleMinutes < 1 {
		return 30 * time.Minute
	}
	return time.Duration(s.SyncLockStaleMinutes) * time.Minute
}

// IsSnapshotArchiveEnabled returns whether fetched snapshots are archived to S3
func (s *AppSettings) IsSnapshotArchiveEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SnapshotArchiveEnabled
}
