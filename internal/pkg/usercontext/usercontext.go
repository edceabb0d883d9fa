// Package usercontext carries the identity a request acts for from the
// authentication middleware to the handlers.
package usercontext

import "github.com/gofiber/fiber/v2"

// Method is how a request proved who it acts for.
type Method string

const (
	Anonymous Method = ""
	Session   Method = "session"
	APIKey    Method = "api_key"
)

// Identity is the user a request acts for.
type Identity struct {
	UserID uint   `json:"user_id"`
	Name   string `json:"name"`
	Admin  bool   `json:"is_admin"`
	Method Method `json:"method"`
}

// Authenticated reports whether the identity belongs to a user.
func (i Identity) Authenticated() bool {
	return i.UserID != 0 && i.Method != Anonymous
}

type localsKey struct{}

// Set attaches the identity to the request.
func Set(c *fiber.Ctx, id Identity) {
	c.Locals(localsKey{}, id)
}

// Get returns the request identity. Requests nobody authenticated get the
// zero Identity.
func Get(c *fiber.Ctx) Identity {
	if id, ok := c.Locals(localsKey{}).(Identity); ok {
		return id
	}
	return Identity{}
}

// UserID returns the acting user, or 0 for anonymous requests.
func UserID(c *fiber.Ctx) uint {
	id := Get(c)
	if !id.Authenticated() {
		return 0
	}
	return id.UserID
}
