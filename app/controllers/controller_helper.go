package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// wantsJSON reports whether the caller asked for a JSON response instead of
// a flash redirect.
func wantsJSON(c *fiber.Ctx) bool {
	if c.Query("format") == "json" {
		return true
	}
	return strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON)
}

// safeRedirectTarget keeps redirects on this site.
func safeRedirectTarget(target, fallback string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return fallback
	}
	return target
}
