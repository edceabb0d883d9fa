package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"

	"github.com/ManuelReschke/TaskFox/internal/pkg/env"
	"github.com/ManuelReschke/TaskFox/internal/pkg/integrations"
	"github.com/ManuelReschke/TaskFox/internal/pkg/usercontext"
)

// HandleHome reports the session and, for logged-in users, the state of
// each task provider integration.
func HandleHome(c *fiber.Ctx) error {
	id := usercontext.Get(c)
	resp := fiber.Map{
		"app":          "TaskFox",
		"dev":          env.IsDev(),
		"logged_in":    id.Authenticated(),
		"flash":        flash.Get(c),
		"csrf":         c.Locals("csrf"),
		"integrations": []fiber.Map{},
	}
	if !id.Authenticated() {
		return c.JSON(resp)
	}
	resp["username"] = id.Name

	reg := integrations.Get()
	if reg == nil {
		return c.JSON(resp)
	}
	items := make([]fiber.Map, 0, len(integrations.Providers()))
	for _, provider := range integrations.Providers() {
		item := fiber.Map{"provider": provider, "connected": false}
		if in, err := reg.Credentials.Integration(c.UserContext(), id.UserID, provider); err == nil {
			item["connected"] = true
			item["account_email"] = in.Email
		}
		state, err := reg.Sync.Status(c.UserContext(), id.UserID, provider)
		if err != nil {
			log.Warnf("[Home] Failed to load sync state for user %d: %v", id.UserID, err)
		} else {
			item["status"] = state.Status
			item["last_synced_at"] = formatTimePtr(state.LastSyncedAt)
			item["last_error"] = state.LastError
		}
		items = append(items, item)
	}
	resp["integrations"] = items
	return c.JSON(resp)
}
