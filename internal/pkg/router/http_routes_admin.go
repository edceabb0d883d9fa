package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TaskFox/app/controllers"
	"github.com/ManuelReschke/TaskFox/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	admin := app.Group("/admin", middleware.RequireAdmin)
	admin.Get("/queues", controllers.HandleAdminQueues)
	admin.Post("/queues/schedule-syncs", controllers.HandleAdminScheduleSyncs)
	admin.Get("/settings", controllers.HandleAdminSettings)
	admin.Put("/settings", controllers.HandleAdminSettingsUpdate)
	admin.Post("/settings/reload", controllers.HandleAdminSettingsReload)
}
