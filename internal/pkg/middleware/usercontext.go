package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TaskFox/internal/pkg/session"
	"github.com/ManuelReschke/TaskFox/internal/pkg/usercontext"
)

// UserContextMiddleware resolves the session user for every request
func UserContextMiddleware(c *fiber.Ctx) error {
	// Goth keeps its own session store on /auth/*; skip ours there.
	if strings.HasPrefix(c.Path(), "/auth/") {
		return c.Next()
	}
	store := session.GetSessionStore()
	if store == nil {
		return anonymous(c)
	}
	sess, err := store.Get(c)
	if err != nil {
		return anonymous(c)
	}

	userID, ok := sess.Get(usercontext.SessionUserID).(uint)
	if !ok || userID == 0 {
		return anonymous(c)
	}
	name, _ := sess.Get(usercontext.SessionName).(string)
	isAdmin, _ := sess.Get(usercontext.SessionIsAdmin).(bool)

	usercontext.Set(c, usercontext.Identity{
		UserID: userID,
		Name:   name,
		Admin:  isAdmin,
		Method: usercontext.Session,
	})
	return c.Next()
}

func anonymous(c *fiber.Ctx) error {
	usercontext.Set(c, usercontext.Identity{})
	return c.Next()
}
