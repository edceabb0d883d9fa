package tasksync

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/ManuelReschke/TaskFox/app/models"
)

// applyRemoteFields copies the synced provider fields onto a local task.
// notes map to Description, status to IsCompleted and due to DueDate.
func applyRemoteFields(t *models.Task, rt RemoteTask, at time.Time) {
	t.Title = rt.Title
	t.Description = rt.Notes
	t.DueDate = NormalizeDueDate(rt.Due)
	if !rt.IsCompleted() {
		t.IsCompleted = false
		t.CompletedAt = nil
		return
	}
	t.IsCompleted = true
	switch {
	case rt.Completed != nil:
		c := rt.Completed.UTC()
		t.CompletedAt = &c
	case t.CompletedAt == nil:
		c := at.UTC()
		t.CompletedAt = &c
	}
}

// taskInputFromLocal builds the provider write payload from a local task.
func taskInputFromLocal(t *models.Task) TaskInput {
	in := TaskInput{
		Title:  t.Title,
		Notes:  t.Description,
		Status: RemoteStatusNeedsAction,
		Due:    NormalizeDueDate(t.DueDate),
	}
	if t.IsCompleted {
		in.Status = RemoteStatusCompleted
		in.Completed = t.CompletedAt
	}
	return in
}

// taskContentEqual compares the fields both systems share.
func taskContentEqual(t *models.Task, rt RemoteTask) bool {
	return strings.TrimSpace(t.Title) == strings.TrimSpace(rt.Title) &&
		strings.TrimSpace(t.Description) == strings.TrimSpace(rt.Notes) &&
		t.IsCompleted == rt.IsCompleted() &&
		SameDueDate(t.DueDate, rt.Due)
}

// LocalTaskPayload is the local side of a conflict as stored on the row.
type LocalTaskPayload struct {
	ID          uint       `json:"id"`
	ListID      uint       `json:"list_id"`
	ParentID    *uint      `json:"parent_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func encodeLocalPayload(t *models.Task) (datatypes.JSON, error) {
	b, err := json.Marshal(LocalTaskPayload{
		ID:          t.ID,
		ListID:      t.ListID,
		ParentID:    t.ParentID,
		Title:       t.Title,
		Description: t.Description,
		IsCompleted: t.IsCompleted,
		CompletedAt: t.CompletedAt,
		DueDate:     t.DueDate,
		UpdatedAt:   t.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode local payload: %w", err)
	}
	return datatypes.JSON(b), nil
}

func encodeRemotePayload(rt RemoteTask) (datatypes.JSON, error) {
	b, err := json.Marshal(rt)
	if err != nil {
		return nil, fmt.Errorf("encode remote payload: %w", err)
	}
	return datatypes.JSON(b), nil
}

// DecodeLocalPayload parses the stored local side of a conflict.
func DecodeLocalPayload(raw datatypes.JSON) (*LocalTaskPayload, error) {
	var p LocalTaskPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode local payload: %w", err)
	}
	return &p, nil
}

// DecodeRemotePayload parses the stored remote side of a conflict.
func DecodeRemotePayload(raw datatypes.JSON) (*RemoteTask, error) {
	var rt RemoteTask
	if err := json.Unmarshal(raw, &rt); err != nil {
		return nil, fmt.Errorf("decode remote payload: %w", err)
	}
	if rt.ID == "" {
		return nil, fmt.Errorf("decode remote payload: missing id")
	}
	return &rt, nil
}
