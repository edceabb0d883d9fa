package controllers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TaskFox/internal/pkg/integrations"
	"github.com/ManuelReschke/TaskFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
	"github.com/ManuelReschke/TaskFox/internal/pkg/usercontext"
)

// HandleIntegrationSync runs "Sync Now" for the logged-in user. With
// ?async=1 the run is queued for a background worker instead.
func HandleIntegrationSync(c *fiber.Ctx) error {
	provider := c.Params("provider")
	back := safeRedirectTarget(c.FormValue("redirect"), "/")
	if !integrations.IsSupported(provider) {
		return redirectWithError(c, "Unknown task provider.", back)
	}
	reg := integrations.Get()
	if reg == nil {
		return redirectWithError(c, "Task sync is not configured.", back)
	}
	userID := usercontext.UserID(c)

	if c.QueryBool("async") {
		job, err := jobqueue.GetManager().GetQueue().EnqueueSync(userID, provider, jobqueue.SyncTriggerManual)
		if err != nil {
			log.Errorf("[Integrations] Failed to enqueue sync for user %d: %v", userID, err)
			if wantsJSON(c) {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to queue sync"})
			}
			return redirectWithError(c, "Sync failed", back)
		}
		if wantsJSON(c) {
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued", "job_id": job.ID})
		}
		return redirectWithInfo(c, "Sync queued.", back)
	}

	res := reg.Sync.Sync(c.UserContext(), userID, provider)
	if wantsJSON(c) {
		return c.JSON(res)
	}
	if !res.OK() {
		if errors.Is(res.Err, tasksync.ErrSyncInProgress) {
			return redirectWithInfo(c, "A sync is already running.", back)
		}
		log.Warnf("[Integrations] Sync for user %d (%s) failed: %s", userID, provider, res.Error)
		return redirectWithError(c, "Sync failed", back)
	}
	return redirectWithSuccess(c, syncSummary(res.Stats), back)
}

// HandleIntegrationDisconnect removes the user's integration and sync state.
func HandleIntegrationDisconnect(c *fiber.Ctx) error {
	provider := c.Params("provider")
	back := safeRedirectTarget(c.FormValue("redirect"), "/")
	reg := integrations.Get()
	if reg == nil {
		return redirectWithError(c, "Task sync is not configured.", back)
	}
	userID := usercontext.UserID(c)

	err := reg.Credentials.Disconnect(c.UserContext(), userID, provider)
	switch {
	case errors.Is(err, tasksync.ErrNoIntegration):
		return redirectWithInfo(c, "This task provider is not connected.", back)
	case err != nil:
		log.Errorf("[Integrations] Disconnect %s for user %d failed: %v", provider, userID, err)
		return redirectWithError(c, "Disconnecting failed.", back)
	}
	return redirectWithSuccess(c, "Task provider disconnected.", back)
}

func syncSummary(s tasksync.RunStats) string {
	msg := fmt.Sprintf("Sync complete: %d pulled, %d pushed, %d updated.",
		s.ListsPulled+s.TasksPulled, s.ListsPushed+s.TasksPushed, s.ListsUpdated+s.TasksUpdated)
	if s.Conflicts > 0 {
		msg += fmt.Sprintf(" %d conflict(s) need your decision.", s.Conflicts)
	}
	return msg
}
