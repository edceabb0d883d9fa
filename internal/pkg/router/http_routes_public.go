package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TaskFox/app/controllers"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// OAuth login and task provider connect flows
	app.Get("/auth/:provider", controllers.HandleOAuthBegin)
	app.Get("/auth/:provider/callback", controllers.HandleOAuthCallback)
}
