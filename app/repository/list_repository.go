package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/TaskFox/app/models"
)

// listRepository implements the ListRepository interface
type listRepository struct {
	db *gorm.DB
}

// NewListRepository creates a new list repository instance
func NewListRepository(db *gorm.DB) ListRepository {
	return &listRepository{db: db}
}

// GetByID retrieves one of the user's lists
func (r *listRepository) GetByID(userID, id uint) (*models.List, error) {
	var list models.List
	err := r.db.Where("user_id = ?", userID).First(&list, id).Error
	if err != nil {
		return nil, err
	}
	return &list, nil
}

// GetByUserID retrieves all lists of a user in display order
func (r *listRepository) GetByUserID(userID uint) ([]models.List, error) {
	var lists []models.List
	err := r.db.Where("user_id = ?", userID).Order("position ASC, id ASC").Find(&lists).Error
	return lists, err
}

// GetTasks retrieves the tasks of a list, parents before their subtasks
func (r *listRepository) GetTasks(userID, listID uint, includeCompleted bool) ([]models.Task, error) {
	var tasks []models.Task
	q := r.db.Where("user_id = ? AND list_id = ?", userID, listID)
	if !includeCompleted {
		q = q.Where("is_completed = ?", false)
	}
	err := q.Order("parent_id IS NOT NULL, position ASC, id ASC").Find(&tasks).Error
	return tasks, err
}

// CountTasks returns the number of open tasks in a list
func (r *listRepository) CountTasks(userID, listID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Task{}).
		Where("user_id = ? AND list_id = ? AND is_completed = ?", userID, listID, false).
		Count(&count).Error
	return count, err
}
