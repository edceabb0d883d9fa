package controllers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/markbates/goth"
	gothfiber "github.com/shareed2k/goth_fiber"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TaskFox/app/models"
	"github.com/ManuelReschke/TaskFox/app/repository"
	"github.com/ManuelReschke/TaskFox/internal/pkg/credentials"
	"github.com/ManuelReschke/TaskFox/internal/pkg/integrations"
	"github.com/ManuelReschke/TaskFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/TaskFox/internal/pkg/oauth"
)

// HandleOAuthBegin starts a provider flow. Connecting a task provider needs
// a logged-in user.
func HandleOAuthBegin(c *fiber.Ctx) error {
	if _, ok := oauth.IntegrationProvider(c.Params("provider")); ok && sessionUserID(c) == 0 {
		return redirectWithError(c, "Please log in before connecting a task provider.", "/login")
	}
	return gothfiber.BeginAuthHandler(c)
}

// HandleOAuthCallback completes the provider flow. Login providers sign the
// user in; task providers store the granted tokens on the user's integration.
func HandleOAuthCallback(c *fiber.Ctx) error {
	u, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString(fmt.Sprintf("OAuth failed: %v", err))
	}

	if provider, ok := oauth.IntegrationProvider(u.Provider); ok {
		return handleIntegrationConnect(c, provider, u)
	}
	return handleOAuthLogin(c, u)
}

func handleOAuthLogin(c *fiber.Ctx, u goth.User) error {
	repo := repository.GetGlobalFactory().GetUserRepository()

	appUser, err := repo.GetByProviderAccount(u.Provider, u.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		appUser, err = findOrCreateOAuthUser(repo, u)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString(fmt.Sprintf("create user failed: %v", err))
		}
		err = repo.LinkProviderAccount(&models.ProviderAccount{
			UserID:         appUser.ID,
			Provider:       u.Provider,
			ProviderUserID: u.UserID,
			Email:          u.Email,
		})
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString(fmt.Sprintf("link provider failed: %v", err))
		}
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString(fmt.Sprintf("db error: %v", err))
	}

	if !appUser.IsActive() {
		return redirectWithError(c, "Your account is disabled.", "/")
	}

	if err := startSession(c, appUser.ID, appUser.Name, appUser.IsAdmin()); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("session save failed")
	}

	if err := repo.TouchLastLogin(appUser.ID); err != nil {
		log.Warnf("[OAuth] Failed to update last login for user %d: %v", appUser.ID, err)
	}

	c.Set("HX-Redirect", "/")
	return c.Redirect("/", fiber.StatusSeeOther)
}

func findOrCreateOAuthUser(repo repository.UserRepository, u goth.User) (*models.User, error) {
	if u.Email != "" {
		existing, err := repo.GetByEmail(u.Email)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	email := u.Email
	if email == "" {
		// Unique placeholder keeps the email index satisfied
		email = fmt.Sprintf("%s_%s@%s.oauth.local", u.Provider, u.UserID, u.Provider)
	}
	appUser, err := models.NewOAuthUser(firstNonEmpty(u.Name, u.NickName, u.Email, "User"), email, u.AvatarURL)
	if err != nil {
		return nil, err
	}
	if err := repo.Create(appUser); err != nil {
		return nil, err
	}
	return appUser, nil
}

func handleIntegrationConnect(c *fiber.Ctx, provider string, u goth.User) error {
	userID := sessionUserID(c)
	if userID == 0 {
		return redirectWithError(c, "Please log in before connecting a task provider.", "/login")
	}

	reg := integrations.Get()
	if reg == nil {
		return redirectWithError(c, "Task sync is not configured.", "/")
	}

	_, err := reg.Credentials.StoreTokens(c.UserContext(), credentials.TokenGrant{
		UserID:       userID,
		Provider:     provider,
		AccountID:    u.UserID,
		Email:        u.Email,
		AccessToken:  u.AccessToken,
		RefreshToken: u.RefreshToken,
		ExpiresAt:    u.ExpiresAt,
		Scopes:       []string{credentials.GoogleTasksScope},
	})
	if err != nil {
		log.Errorf("[OAuth] Failed to store %s tokens for user %d: %v", provider, userID, err)
		return redirectWithError(c, "Connecting the task provider failed.", "/")
	}

	if _, err := jobqueue.GetManager().GetQueue().EnqueueSync(userID, provider, jobqueue.SyncTriggerManual); err != nil {
		log.Warnf("[OAuth] Failed to enqueue initial sync for user %d: %v", userID, err)
	}

	return redirectWithSuccess(c, "Task provider connected. The first sync is on its way.", "/")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
