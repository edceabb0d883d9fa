// Package integrations assembles the sync service and its adapters for the
// running process. Web, API, job queue and CLI all share one Registry.
package integrations

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TaskFox/app/models"
	"github.com/ManuelReschke/TaskFox/internal/pkg/credentials"
	"github.com/ManuelReschke/TaskFox/internal/pkg/googletasks"
	"github.com/ManuelReschke/TaskFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/TaskFox/internal/pkg/s3archive"
	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
)

// Registry holds the wired services.
type Registry struct {
	Sync        *tasksync.Service
	Credentials *credentials.Service
	Store       credentials.Store
	Keys        *credentials.Keyring
}

var (
	registry *Registry
	mu       sync.RWMutex
)

// Providers returns the provider keys that have a client adapter.
func Providers() []string {
	return []string{models.ExternalProviderGoogleTasks}
}

// IsSupported reports whether provider has a client adapter.
func IsSupported(provider string) bool {
	for _, p := range Providers() {
		if p == provider {
			return true
		}
	}
	return false
}

// NewClient dispatches to the client adapter of the integration's provider.
func NewClient(accessToken string, integration *models.ExternalIntegration) (tasksync.Client, error) {
	if integration == nil {
		return nil, fmt.Errorf("integration is required")
	}
	switch integration.Provider {
	case models.ExternalProviderGoogleTasks:
		return googletasks.Factory(accessToken, integration)
	}
	return nil, fmt.Errorf("unsupported provider %q", integration.Provider)
}

// New wires the services from explicit dependencies.
func New(db *gorm.DB, keys *credentials.Keyring, refresher credentials.Refresher, opts ...tasksync.Option) *Registry {
	store := credentials.NewStore(db)
	creds := credentials.NewService(store, keys, refresher)
	return &Registry{
		Sync:        tasksync.NewService(tasksync.NewRepository(db), creds, NewClient, opts...),
		Credentials: creds,
		Store:       store,
		Keys:        keys,
	}
}

// Setup builds the process-wide Registry from environment and app settings.
func Setup(ctx context.Context, db *gorm.DB) (*Registry, error) {
	keys, err := credentials.KeyringFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load encryption keys: %w", err)
	}

	settings := models.GetAppSettings()
	opts := []tasksync.Option{
		tasksync.WithLockStaleAfter(settings.GetSyncLockStaleAfter()),
		tasksync.WithRunObserver(counter.RecordSyncRun),
	}

	if settings.IsSnapshotArchiveEnabled() {
		cfg, err := s3archive.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("load snapshot archive config: %w", err)
		}
		if cfg.IsEnabled() {
			archiver, err := s3archive.NewArchiver(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("create snapshot archiver: %w", err)
			}
			opts = append(opts, tasksync.WithArchiver(archiver))
			log.Infof("[Integrations] Snapshot archive enabled (bucket %s)", cfg.BucketName)
		}
	}

	r := New(db, keys, credentials.NewOAuthRefresherFromEnv(), opts...)
	mu.Lock()
	registry = r
	mu.Unlock()
	log.Infof("[Integrations] Ready (active key %s, providers %v)", keys.ActiveKeyID(), Providers())
	return r, nil
}

// Get returns the Registry built by Setup, or nil before Setup ran.
func Get() *Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}
