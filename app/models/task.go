package models

import (
	"time"

	"gorm.io/gorm"
)

// Task is a single to-do item. Subtasks point at their parent via ParentID.
type Task struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      uint           `gorm:"index;not null" json:"user_id"`
	ListID      uint           `gorm:"index;not null" json:"list_id"`
	ParentID    *uint          `gorm:"index" json:"parent_id,omitempty"`
	Title       string         `gorm:"type:varchar(500);not null" json:"title" validate:"required,max=500"`
	Description string         `gorm:"type:text" json:"description"`
	IsCompleted bool           `gorm:"default:false;index" json:"is_completed"`
	CompletedAt *time.Time     `gorm:"type:timestamp(3);default:null" json:"completed_at,omitempty"`
	DueDate     *time.Time     `gorm:"type:timestamp(3);default:null" json:"due_date,omitempty"`
	Priority    int            `gorm:"default:0" json:"priority"`
	Position    int            `gorm:"default:0" json:"position"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime;index" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsDeleted reports whether the task was soft-deleted.
func (t *Task) IsDeleted() bool {
	return t != nil && t.DeletedAt.Valid
}

// MarkCompleted toggles completion and keeps CompletedAt consistent with it.
func (t *Task) MarkCompleted(done bool, at time.Time) {
	t.IsCompleted = done
	if !done {
		t.CompletedAt = nil
		return
	}
	if t.CompletedAt == nil {
		ts := at.UTC()
		t.CompletedAt = &ts
	}
}
