package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TaskFox/app/models"
	"github.com/ManuelReschke/TaskFox/internal/pkg/cache"
	"github.com/ManuelReschke/TaskFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/TaskFox/internal/pkg/metrics/counter"
)

// HandleAdminQueues reports job queue counters and the sync scheduler state.
func HandleAdminQueues(c *fiber.Ctx) error {
	manager := jobqueue.GetManager()
	queue := manager.GetQueue()
	ctx := c.UserContext()

	stats, err := queue.GetJobStats(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load job stats"})
	}
	pending, err := queue.GetQueueSize(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load queue size"})
	}
	processing, err := queue.GetProcessingSize(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load processing size"})
	}
	retrying, err := queue.GetRetrySize(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load retry size"})
	}

	totals, err := counter.SyncTotals(ctx, cache.GetClient())
	if err != nil {
		log.Warnf("[Admin] Loading sync counters failed: %v", err)
	}

	settings := models.GetAppSettings()
	return c.JSON(fiber.Map{
		"running":    manager.IsRunning(),
		"pending":    pending,
		"processing": processing,
		"retrying":   retrying,
		"jobs":       stats,
		"counters":   totals,
		"sync": fiber.Map{
			"enabled":          settings.IsExternalSyncEnabled(),
			"interval_minutes": int(settings.GetSyncInterval().Minutes()),
			"workers":          settings.GetSyncWorkerCount(),
		},
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleAdminScheduleSyncs enqueues one sync job per integration now.
func HandleAdminScheduleSyncs(c *fiber.Ctx) error {
	interval := models.GetAppSettings().GetSyncInterval()
	n, err := jobqueue.GetManager().ScheduleSyncsOnce(c.UserContext(), interval)
	if err != nil {
		log.Errorf("[Admin] Scheduling syncs failed after %d jobs: %v", n, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error(), "scheduled": n})
	}
	return c.JSON(fiber.Map{"scheduled": n})
}
