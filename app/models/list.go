package models

import (
	"time"

	"gorm.io/gorm"
)

// List is a user-owned container of tasks.
type List struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"index;not null" json:"user_id"`
	Title     string         `gorm:"type:varchar(255);not null" json:"title" validate:"required,min=1,max=255"`
	Position  int            `gorm:"default:0" json:"position"`
	Tasks     []Task         `gorm:"foreignKey:ListID" json:"tasks,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsDeleted reports whether the list was soft-deleted.
func (l *List) IsDeleted() bool {
	return l != nil && l.DeletedAt.Valid
}
