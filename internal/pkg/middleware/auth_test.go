package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/TaskFox/internal/pkg/usercontext"
)

func as(id usercontext.Identity) fiber.Handler {
	return func(c *fiber.Ctx) error {
		usercontext.Set(c, id)
		return c.Next()
	}
}

var (
	nobody    = usercontext.Identity{}
	member    = usercontext.Identity{UserID: 1, Name: "ada", Method: usercontext.Session}
	admin     = usercontext.Identity{UserID: 2, Name: "root", Admin: true, Method: usercontext.Session}
	keyMember = usercontext.Identity{UserID: 1, Name: "ada", Method: usercontext.APIKey}
	keyAdmin  = usercontext.Identity{UserID: 2, Name: "root", Admin: true, Method: usercontext.APIKey}
)

func ok(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) }

func statusOf(t *testing.T, app *fiber.App, path string, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode, resp.Header.Get(fiber.HeaderLocation)
}

func TestRequireAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/anon", as(nobody), RequireAuth, ok)
	app.Get("/user", as(member), RequireAuth, ok)
	app.Get("/key", as(keyMember), RequireAuth, ok)

	code, loc := statusOf(t, app, "/anon", nil)
	assert.Equal(t, fiber.StatusSeeOther, code)
	assert.Equal(t, "/login", loc)

	code, _ = statusOf(t, app, "/user", nil)
	assert.Equal(t, fiber.StatusNoContent, code)

	code, loc = statusOf(t, app, "/key", nil)
	assert.Equal(t, fiber.StatusSeeOther, code)
	assert.Equal(t, "/login", loc)
}

func TestRequireAdmin(t *testing.T) {
	app := fiber.New()
	app.Get("/anon", as(nobody), RequireAdmin, ok)
	app.Get("/user", as(member), RequireAdmin, ok)
	app.Get("/admin", as(admin), RequireAdmin, ok)
	app.Get("/key", as(keyAdmin), RequireAdmin, ok)

	tests := []struct {
		path     string
		code     int
		location string
	}{
		{"/anon", fiber.StatusSeeOther, "/login"},
		{"/user", fiber.StatusSeeOther, "/"},
		{"/admin", fiber.StatusNoContent, ""},
		{"/key", fiber.StatusSeeOther, "/login"},
	}
	for _, tt := range tests {
		code, loc := statusOf(t, app, tt.path, nil)
		assert.Equal(t, tt.code, code, tt.path)
		assert.Equal(t, tt.location, loc, tt.path)
	}
}

func TestRequireAPIAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/session", as(member), RequireAPIAuth(), ok)
	app.Get("/nokey", as(nobody), RequireAPIAuth(), ok)

	code, _ := statusOf(t, app, "/session", nil)
	assert.Equal(t, fiber.StatusNoContent, code)

	code, _ = statusOf(t, app, "/nokey", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)
}

func TestExtractAPIKeyFromHeader(t *testing.T) {
	app := fiber.New()
	var got string
	app.Get("/", func(c *fiber.Ctx) error {
		got = extractAPIKeyFromHeader(c)
		return c.SendStatus(fiber.StatusNoContent)
	})

	_, _ = statusOf(t, app, "/", map[string]string{"X-API-Key": " tfx_abc "})
	assert.Equal(t, "tfx_abc", got)

	_, _ = statusOf(t, app, "/", map[string]string{"Authorization": "Bearer tfx_xyz"})
	assert.Equal(t, "tfx_xyz", got)

	_, _ = statusOf(t, app, "/", map[string]string{"Authorization": "Basic Zm9v"})
	assert.Equal(t, "", got)
}
