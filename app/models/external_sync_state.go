package models

import (
	"time"

	"gorm.io/datatypes"
)

// Sync run status values.
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

// ExternalSyncState tracks the last run of one (user, provider) pair. Status
// doubles as an advisory lock: a run only starts after flipping it to syncing.
type ExternalSyncState struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UserID       uint           `gorm:"not null;index:ux_external_sync_states_user_provider,unique,priority:1" json:"user_id"`
	Provider     string         `gorm:"type:varchar(50);not null;index:ux_external_sync_states_user_provider,unique,priority:2" json:"provider"`
	SyncToken    *string        `gorm:"type:text" json:"-"`
	LastSyncedAt *time.Time     `gorm:"type:timestamp(3);default:null" json:"last_synced_at,omitempty"`
	Status       string         `gorm:"type:varchar(20);not null;default:'idle'" json:"status"`
	LastError    string         `gorm:"type:text" json:"last_error,omitempty"`
	RunStartedAt *time.Time     `gorm:"type:timestamp(3);default:null" json:"run_started_at,omitempty"`
	LastRunStats datatypes.JSON `gorm:"type:json" json:"last_run_stats,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsStale reports whether the last successful run is older than maxAge.
func (s *ExternalSyncState) IsStale(now time.Time, maxAge time.Duration) bool {
	if s == nil || s.LastSyncedAt == nil {
		return true
	}
	return now.Sub(*s.LastSyncedAt) > maxAge
}
