package oauth

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/middleware/session"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/ManuelReschke/TaskFox/app/models"
	"github.com/ManuelReschke/TaskFox/internal/pkg/credentials"

	"github.com/ManuelReschke/TaskFox/internal/pkg/cache"
	"github.com/ManuelReschke/TaskFox/internal/pkg/env"
)

// Goth provider names. LoginProvider signs users in; ConnectGoogleTasks
// grants offline access to the user's Google Tasks for sync.
const (
	LoginProvider      = "google"
	ConnectGoogleTasks = "googletasks"
)

// IntegrationProvider maps a goth connect provider to the integration
// provider key stored on ExternalIntegration. ok is false for login providers.
func IntegrationProvider(gothName string) (provider string, ok bool) {
	switch gothName {
	case ConnectGoogleTasks:
		return models.ExternalProviderGoogleTasks, true
	}
	return "", false
}

// ConnectProviderFor is the inverse of IntegrationProvider.
func ConnectProviderFor(provider string) (gothName string, ok bool) {
	switch provider {
	case models.ExternalProviderGoogleTasks:
		return ConnectGoogleTasks, true
	}
	return "", false
}

// Setup initializes Goth providers and session store based on environment variables.
// It is safe to call multiple times; providers will just be re-registered.
func Setup() {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	if base == "" {
		base = "http://localhost:" + env.GetEnv("APP_PORT", "4000")
	}

	login := google.New(
		env.GetEnv("GOOGLE_KEY", ""),
		env.GetEnv("GOOGLE_SECRET", ""),
		base+"/auth/"+LoginProvider+"/callback",
		"email", "profile",
	)

	// Google only returns a refresh token on the consent screen.
	tasks := google.New(
		env.GetEnv("GOOGLE_TASKS_KEY", env.GetEnv("GOOGLE_KEY", "")),
		env.GetEnv("GOOGLE_TASKS_SECRET", env.GetEnv("GOOGLE_SECRET", "")),
		base+"/auth/"+ConnectGoogleTasks+"/callback",
		"email", "profile", credentials.GoogleTasksScope,
	)
	tasks.SetName(ConnectGoogleTasks)
	tasks.SetPrompt("consent")

	goth.UseProviders(login, tasks)

	// OAuth state via Redis, using same connection as app sessions (separate DB)
	cacheClient := cache.GetClient()
	cacheOpts := cacheClient.Options()
	host, port := "127.0.0.1", 6379
	if cacheOpts != nil && cacheOpts.Addr != "" {
		if h, p, err := net.SplitHostPort(cacheOpts.Addr); err == nil {
			host = h
			if parsed, e := strconv.Atoi(p); e == nil {
				port = parsed
			}
		} else {
			host = cacheOpts.Addr
		}
	}

	gothfiber.SessionStore = session.New(session.Config{
		Storage: redisstorage.New(redisstorage.Config{
			Host:     host,
			Port:     port,
			Username: cacheOpts.Username,
			Password: cacheOpts.Password,
			Database: 2,
			Reset:    false,
		}),
		KeyLookup:      "cookie:" + gothic.SessionName,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		CookieSecure:   !env.IsDev(),
		Expiration:     72 * time.Hour,
	})
}
