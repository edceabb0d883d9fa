package credentials

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ManuelReschke/TaskFox/app/models"
	"github.com/ManuelReschke/TaskFox/internal/pkg/env"
)

// Scope granting read/write access to the user's Google Tasks.
const GoogleTasksScope = "https://www.googleapis.com/auth/tasks"

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, provider, refreshToken string) (*oauth2.Token, error)
}

// OAuthRefresher refreshes tokens through golang.org/x/oauth2.
type OAuthRefresher struct {
	configs map[string]*oauth2.Config
}

// NewOAuthRefresher creates a refresher for the given provider configs.
func NewOAuthRefresher(configs map[string]*oauth2.Config) *OAuthRefresher {
	return &OAuthRefresher{configs: configs}
}

// NewOAuthRefresherFromEnv configures the Google Tasks provider from
// GOOGLE_TASKS_KEY/SECRET, falling back to the login app GOOGLE_KEY/SECRET.
func NewOAuthRefresherFromEnv() *OAuthRefresher {
	return NewOAuthRefresher(map[string]*oauth2.Config{
		models.ExternalProviderGoogleTasks: {
			ClientID:     env.GetEnv("GOOGLE_TASKS_KEY", env.GetEnv("GOOGLE_KEY", "")),
			ClientSecret: env.GetEnv("GOOGLE_TASKS_SECRET", env.GetEnv("GOOGLE_SECRET", "")),
			Endpoint:     google.Endpoint,
			Scopes:       []string{GoogleTasksScope},
		},
	})
}

func (r *OAuthRefresher) Refresh(ctx context.Context, provider, refreshToken string) (*oauth2.Token, error) {
	cfg, ok := r.configs[provider]
	if !ok {
		return nil, fmt.Errorf("credentials: no oauth config for provider %q", provider)
	}
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}
