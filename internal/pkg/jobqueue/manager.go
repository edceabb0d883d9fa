package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TaskFox/app/models"
)

const scheduledSyncKeyPrefix = "sync_scheduled:"

// IntegrationLister returns the integrations the scheduler fans out to.
type IntegrationLister interface {
	ListIntegrations(ctx context.Context, provider string) ([]models.ExternalIntegration, error)
}

// Manager manages the global job queue and the sync scheduler
type Manager struct {
	queue          *Queue
	lister         IntegrationLister
	scheduleTicker *time.Ticker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := models.DefaultAppSettings().GetSyncWorkerCount()
		if settings := getAppSettings(); settings != nil {
			workerCount = settings.GetSyncWorkerCount()
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Configure wires the sync service and the integration source. It must be
// called before Start for sync jobs to run.
func (m *Manager) Configure(syncer Syncer, lister IntegrationLister) {
	m.queue.SetSyncer(syncer)
	m.mu.Lock()
	m.lister = lister
	m.mu.Unlock()
}

// Start starts the job queue and the scheduler
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	settings := getAppSettings()
	interval := settings.GetSyncInterval()
	if settings.IsExternalSyncEnabled() && interval > 0 && m.lister != nil {
		m.scheduleTicker = time.NewTicker(interval)
		m.wg.Add(1)
		go m.scheduleWorker(interval, m.stopCh)
	} else {
		log.Info("[JobQueue Manager] Scheduled sync disabled")
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and the scheduler
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.scheduleTicker != nil {
		m.scheduleTicker.Stop()
	}

	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// scheduleWorker enqueues one sync job per integration every interval
func (m *Manager) scheduleWorker(interval time.Duration, stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started sync scheduler (interval: %s)", interval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Sync scheduler stopping")
			return
		case <-m.scheduleTicker.C:
			n, err := m.ScheduleSyncsOnce(context.Background(), interval)
			if err != nil {
				log.Errorf("[JobQueue Manager] Error scheduling syncs: %v", err)
			}
			log.Debugf("[JobQueue Manager] Scheduled %d sync jobs", n)
		}
	}
}

// ScheduleSyncsOnce enqueues a sync for every integration that has not been
// scheduled within the last interval and returns how many new jobs it queued.
// Integrations with a sync already waiting, from a manual trigger for
// example, are not counted.
func (m *Manager) ScheduleSyncsOnce(ctx context.Context, interval time.Duration) (int, error) {
	m.mu.Lock()
	lister := m.lister
	m.mu.Unlock()
	if lister == nil {
		return 0, fmt.Errorf("no integration lister configured")
	}

	integrations, err := lister.ListIntegrations(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list integrations: %w", err)
	}

	scheduled := 0
	for _, in := range integrations {
		key := fmt.Sprintf("%s%d:%s", scheduledSyncKeyPrefix, in.UserID, in.Provider)
		ok, err := m.queue.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), interval).Result()
		if err != nil {
			log.Errorf("[JobQueue Manager] Failed to mark sync for user %d (%s): %v", in.UserID, in.Provider, err)
			continue
		}
		if !ok {
			continue
		}
		_, queued, err := m.queue.Enqueue(ctx, in.UserID, in.Provider, SyncTriggerSchedule)
		if err != nil {
			log.Errorf("[JobQueue Manager] Failed to enqueue sync for user %d (%s): %v", in.UserID, in.Provider, err)
			_ = m.queue.client.Del(ctx, key).Err()
			continue
		}
		if !queued {
			continue
		}
		scheduled++
	}
	return scheduled, nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// getAppSettings safely returns the current app settings
func getAppSettings() *models.AppSettings {
	return models.GetAppSettings()
}
