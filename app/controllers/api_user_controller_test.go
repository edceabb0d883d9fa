package controllers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/TaskFox/internal/pkg/usercontext"
)

func TestHandleGetUserAccount_RequiresIdentity(t *testing.T) {
	app := fiber.New()
	app.Get("/account", func(c *fiber.Ctx) error {
		// A user id alone, without an authentication method, is not enough.
		usercontext.Set(c, usercontext.Identity{UserID: 4})
		return c.Next()
	}, HandleGetUserAccount)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/account", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unauthorized", body["error"])
}

func TestFormatTimePtr(t *testing.T) {
	assert.Nil(t, formatTimePtr(nil))

	// Sync timestamps are reported in UTC whatever zone they were read in.
	berlin := time.FixedZone("CEST", 2*60*60)
	lastSync := time.Date(2024, 5, 1, 12, 34, 56, 789, berlin)
	assert.Equal(t, "2024-05-01T10:34:56Z", formatTimePtr(&lastSync))
}
