package controllers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/ManuelReschke/TaskFox/internal/pkg/oauth"
	"github.com/ManuelReschke/TaskFox/internal/pkg/session"
	"github.com/ManuelReschke/TaskFox/internal/pkg/usercontext"
)

// HandleAuthLogin sends the visitor to the OAuth login provider. Logged-in
// users go straight home.
func HandleAuthLogin(c *fiber.Ctx) error {
	if usercontext.Get(c).Authenticated() {
		return c.Redirect("/", fiber.StatusSeeOther)
	}
	return c.Redirect("/auth/"+oauth.LoginProvider, fiber.StatusSeeOther)
}

func HandleAuthLogout(c *fiber.Ctx) error {
	fm := fiber.Map{
		"type": "error",
	}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		fm["message"] = "logged out (no sess)"

		return flash.WithError(c, fm).Redirect("/")
	}

	err = sess.Destroy()
	if err != nil {
		fm["message"] = fmt.Sprintf("something went wrong: %s", err)

		return flash.WithError(c, fm).Redirect("/")
	}

	fm = fiber.Map{
		"type":    "success",
		"message": "You have been logged out.",
	}

	usercontext.Set(c, usercontext.Identity{})

	return flash.WithSuccess(c, fm).Redirect("/")
}

// startSession stores the login in the app session.
func startSession(c *fiber.Ctx, userID uint, name string, isAdmin bool) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return fmt.Errorf("session init failed: %w", err)
	}
	sess.Set(usercontext.SessionUserID, userID)
	sess.Set(usercontext.SessionName, name)
	sess.Set(usercontext.SessionIsAdmin, isAdmin)
	return sess.Save()
}

// sessionUserID reads the logged-in user from the app session. It is used on
// /auth/* routes where the user context middleware does not run.
func sessionUserID(c *fiber.Ctx) uint {
	if store := session.GetSessionStore(); store != nil {
		if sess, err := store.Get(c); err == nil {
			if id, ok := sess.Get(usercontext.SessionUserID).(uint); ok {
				return id
			}
		}
	}
	return 0
}
