package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TaskFox/internal/pkg/middleware"
	"github.com/ManuelReschke/TaskFox/internal/pkg/oauth"
	"github.com/ManuelReschke/TaskFox/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// init oauth providers
	oauth.Setup()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	h.registerPublicRoutes(app)
	h.registerAdminRoutes(app)
	h.registerCSRFProtectedRoutes(app)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
