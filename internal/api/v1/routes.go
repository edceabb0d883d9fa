package apiv1

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /ping)
	GetPing(c *fiber.Ctx) error
	// (GET /user)
	GetUserProfile(c *fiber.Ctx) error
	// (POST /integrations/{provider}/sync)
	PostIntegrationSync(c *fiber.Ctx, provider string, params PostIntegrationSyncParams) error
	// (GET /integrations/{provider}/status)
	GetIntegrationStatus(c *fiber.Ctx, provider string) error
	// (GET /conflicts)
	ListConflicts(c *fiber.Ctx, params ListConflictsParams) error
	// (GET /conflicts/{id})
	GetConflict(c *fiber.Ctx, id string) error
	// (POST /conflicts/{id}/resolve)
	ResolveConflict(c *fiber.Ctx, id string) error
	// (GET /lists)
	GetLists(c *fiber.Ctx) error
	// (GET /lists/{id}/tasks)
	GetListTasks(c *fiber.Ctx, id uint, params GetListTasksParams) error
}

// FiberServerOptions provides options for the Fiber server.
type FiberServerOptions struct {
	BaseURL string
	// Middlewares run in front of every authenticated operation.
	Middlewares []fiber.Handler
}

// RegisterHandlers creates the routes without authentication middleware.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	RegisterHandlersWithOptions(router, si, FiberServerOptions{})
}

// RegisterHandlersWithOptions creates the routes. /ping stays public.
func RegisterHandlersWithOptions(router fiber.Router, si ServerInterface, options FiberServerOptions) {
	wrapper := ServerInterfaceWrapper{Handler: si}
	secured := func(h fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, options.Middlewares...), h)
	}

	router.Get(options.BaseURL+"/ping", wrapper.GetPing)
	router.Get(options.BaseURL+"/user", secured(wrapper.GetUserProfile)...)
	router.Post(options.BaseURL+"/integrations/:provider/sync", secured(wrapper.PostIntegrationSync)...)
	router.Get(options.BaseURL+"/integrations/:provider/status", secured(wrapper.GetIntegrationStatus)...)
	router.Get(options.BaseURL+"/conflicts", secured(wrapper.ListConflicts)...)
	router.Get(options.BaseURL+"/conflicts/:id", secured(wrapper.GetConflict)...)
	router.Post(options.BaseURL+"/conflicts/:id/resolve", secured(wrapper.ResolveConflict)...)
	router.Get(options.BaseURL+"/lists", secured(wrapper.GetLists)...)
	router.Get(options.BaseURL+"/lists/:id/tasks", secured(wrapper.GetListTasks)...)
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

// GetPing operation middleware
func (siw *ServerInterfaceWrapper) GetPing(c *fiber.Ctx) error {
	return siw.Handler.GetPing(c)
}

// GetUserProfile operation middleware
func (siw *ServerInterfaceWrapper) GetUserProfile(c *fiber.Ctx) error {
	return siw.Handler.GetUserProfile(c)
}

// PostIntegrationSync operation middleware
func (siw *ServerInterfaceWrapper) PostIntegrationSync(c *fiber.Ctx) error {
	provider := c.Params("provider")
	var params PostIntegrationSyncParams
	if raw := c.Query("async"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Errorf("Invalid format for parameter async: %w", err).Error())
		}
		params.Async = &v
	}
	return siw.Handler.PostIntegrationSync(c, provider, params)
}

// GetIntegrationStatus operation middleware
func (siw *ServerInterfaceWrapper) GetIntegrationStatus(c *fiber.Ctx) error {
	return siw.Handler.GetIntegrationStatus(c, c.Params("provider"))
}

// ListConflicts operation middleware
func (siw *ServerInterfaceWrapper) ListConflicts(c *fiber.Ctx) error {
	var params ListConflictsParams
	if v := c.Query("provider"); v != "" {
		params.Provider = &v
	}
	if v := c.Query("status"); v != "" {
		params.Status = &v
	}
	return siw.Handler.ListConflicts(c, params)
}

// GetConflict operation middleware
func (siw *ServerInterfaceWrapper) GetConflict(c *fiber.Ctx) error {
	return siw.Handler.GetConflict(c, c.Params("id"))
}

// ResolveConflict operation middleware
func (siw *ServerInterfaceWrapper) ResolveConflict(c *fiber.Ctx) error {
	return siw.Handler.ResolveConflict(c, c.Params("id"))
}

// GetLists operation middleware
func (siw *ServerInterfaceWrapper) GetLists(c *fiber.Ctx) error {
	return siw.Handler.GetLists(c)
}

// GetListTasks operation middleware
func (siw *ServerInterfaceWrapper) GetListTasks(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Errorf("Invalid format for parameter id: %w", err).Error())
	}
	var params GetListTasksParams
	if raw := c.Query("include_completed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Errorf("Invalid format for parameter include_completed: %w", err).Error())
		}
		params.IncludeCompleted = &v
	}
	return siw.Handler.GetListTasks(c, uint(id), params)
}
