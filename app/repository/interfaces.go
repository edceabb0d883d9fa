package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/TaskFox/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	GetByProviderAccount(provider, providerUserID string) (*models.User, error)
	LinkProviderAccount(account *models.ProviderAccount) error
	TouchLastLogin(id uint) error
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// ListRepository defines read access to a user's local lists and tasks
type ListRepository interface {
	GetByID(userID, id uint) (*models.List, error)
	GetByUserID(userID uint) ([]models.List, error)
	GetTasks(userID, listID uint, includeCompleted bool) ([]models.Task, error)
	CountTasks(userID, listID uint) (int64, error)
}

// SettingRepository defines the interface for application settings
type SettingRepository interface {
	Get() (*models.AppSettings, error)
	Save(settings *models.AppSettings) error
	Reload() error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User    UserRepository
	List    ListRepository
	Setting SettingRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:    NewUserRepository(db),
		List:    NewListRepository(db),
		Setting: NewSettingRepository(db),
	}
}
