package models

import "time"

// Entity types tracked by the identity map.
const (
	EntityTypeList = "list"
	EntityTypeTask = "task"
)

// ExternalEntityMap links a local row to its id at an external provider.
// DeletedAt is a plain nullable column instead of gorm.DeletedAt: tombstones
// must stay visible to the sync engine so deleted entities are not resurrected.
type ExternalEntityMap struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"not null;index:ux_external_entity_maps_tuple,unique,priority:1;index:ix_external_entity_maps_local,priority:1" json:"user_id"`
	Provider          string     `gorm:"type:varchar(50);not null;index:ux_external_entity_maps_tuple,unique,priority:2;index:ix_external_entity_maps_local,priority:2" json:"provider"`
	EntityType        string     `gorm:"type:varchar(20);not null;index:ux_external_entity_maps_tuple,unique,priority:3;index:ix_external_entity_maps_local,priority:3" json:"entity_type"`
	ExternalID        string     `gorm:"type:varchar(191);not null;index:ux_external_entity_maps_tuple,unique,priority:4" json:"external_id"`
	LocalID           *uint      `gorm:"index:ix_external_entity_maps_local,priority:4" json:"local_id,omitempty"`
	ExternalParentID  *string    `gorm:"type:varchar(191);index" json:"external_parent_id,omitempty"`
	ExternalEtag      *string    `gorm:"type:varchar(191)" json:"external_etag,omitempty"`
	ExternalUpdatedAt *time.Time `gorm:"type:timestamp(3);default:null" json:"external_updated_at,omitempty"`
	LastSyncedAt      *time.Time `gorm:"type:timestamp(3);default:null" json:"last_synced_at,omitempty"`
	DeletedAt         *time.Time `gorm:"type:timestamp(3);default:null;index" json:"deleted_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the mapping has not been tombstoned.
func (m *ExternalEntityMap) IsActive() bool {
	return m != nil && m.DeletedAt == nil
}

// ParentExternalID returns the external parent id or an empty string.
func (m *ExternalEntityMap) ParentExternalID() string {
	if m == nil || m.ExternalParentID == nil {
		return ""
	}
	return *m.ExternalParentID
}
