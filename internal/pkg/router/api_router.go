package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/TaskFox/app/repository"
	apiv1 "github.com/ManuelReschke/TaskFox/internal/api/v1"
	"github.com/ManuelReschke/TaskFox/internal/pkg/integrations"
	"github.com/ManuelReschke/TaskFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/TaskFox/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiv1.RegisterHandlersWithOptions(v1, newAPIServer(), apiv1.FiberServerOptions{
		Middlewares: []fiber.Handler{middleware.RequireAPIAuth()},
	})
}

// newAPIServer wires the v1 handlers. Without a sync registry the sync and
// conflict endpoints answer 503.
func newAPIServer() *apiv1.APIServer {
	lists := repository.GetGlobalFactory().GetListRepository()
	queue := jobqueue.GetManager().GetQueue()
	reg := integrations.Get()
	if reg == nil {
		return apiv1.NewAPIServer(nil, nil, queue, lists, integrations.IsSupported)
	}
	return apiv1.NewAPIServer(reg.Sync, reg.Credentials, queue, lists, integrations.IsSupported)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
