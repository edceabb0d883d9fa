package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TaskFox/internal/pkg/usercontext"
)

// RequireAuth admits requests carrying a web session and sends everyone else
// to the login page. API keys are not accepted on web routes.
func RequireAuth(c *fiber.Ctx) error {
	id := usercontext.Get(c)
	if !id.Authenticated() || id.Method != usercontext.Session {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}
	return c.Next()
}

// RequireAdmin is RequireAuth for admins. Signed-in users without the admin
// role go back home.
func RequireAdmin(c *fiber.Ctx) error {
	id := usercontext.Get(c)
	if !id.Authenticated() || id.Method != usercontext.Session {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}
	if !id.Admin {
		return c.Redirect("/", fiber.StatusSeeOther)
	}
	return c.Next()
}
