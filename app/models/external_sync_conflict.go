package models

import (
	"time"

	"gorm.io/datatypes"
)

// Conflict status and resolution values.
const (
	ConflictStatusPending  = "pending"
	ConflictStatusResolved = "resolved"

	ConflictTypeTaskUpdate = "task_update"

	ConflictResolutionLocal  = "local"
	ConflictResolutionRemote = "remote"
	// ConflictResolutionDeleted closes a conflict whose task was deleted
	// before anyone picked a side.
	ConflictResolutionDeleted = "deleted"
)

// ExternalSyncConflict records a divergent concurrent edit. Both payloads are
// copies taken at detection time so the row survives later mapping changes.
type ExternalSyncConflict struct {
	ID            uint           `gorm:"primaryKey" json:"-"`
	PublicID      string         `gorm:"type:char(36);not null;uniqueIndex" json:"id"`
	UserID        uint           `gorm:"not null;index:ix_external_sync_conflicts_lookup,priority:1" json:"user_id"`
	Provider      string         `gorm:"type:varchar(50);not null;index:ix_external_sync_conflicts_lookup,priority:2" json:"provider"`
	EntityType    string         `gorm:"type:varchar(20);not null;index:ix_external_sync_conflicts_lookup,priority:3" json:"entity_type"`
	ExternalID    string         `gorm:"type:varchar(191);not null;index:ix_external_sync_conflicts_lookup,priority:4" json:"external_id"`
	LocalID       *uint          `json:"local_id,omitempty"`
	ConflictType  string         `gorm:"type:varchar(50);not null" json:"conflict_type"`
	LocalPayload  datatypes.JSON `gorm:"type:json" json:"local_payload"`
	RemotePayload datatypes.JSON `gorm:"type:json" json:"remote_payload"`
	Status        string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Resolution    *string        `gorm:"type:varchar(20)" json:"resolution,omitempty"`
	DetectedAt    time.Time      `gorm:"type:timestamp(3);not null" json:"detected_at"`
	ResolvedAt    *time.Time     `gorm:"type:timestamp(3);default:null" json:"resolved_at,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPending reports whether the conflict still awaits a decision.
func (c *ExternalSyncConflict) IsPending() bool {
	return c != nil && c.Status == ConflictStatusPending
}
