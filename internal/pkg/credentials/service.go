package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"go.uber.org/multierr"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/TaskFox/app/models"
	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
)

// Access tokens expiring within this window are refreshed before use.
const refreshLeeway = 60 * time.Second

// TokenGrant is what an OAuth callback hands over after consent.
type TokenGrant struct {
	UserID       uint   `validate:"required"`
	Provider     string `validate:"required"`
	AccountID    string
	Email        string
	AccessToken  string `validate:"required"`
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// Service stores, resolves and rotates provider credentials. It satisfies
// tasksync.CredentialResolver.
type Service struct {
	store     Store
	keys      *Keyring
	refresher Refresher
	now       func() time.Time
	validate  *validator.Validate
	refreshes singleflight.Group
}

var _ tasksync.CredentialResolver = (*Service)(nil)

func NewService(store Store, keys *Keyring, refresher Refresher) *Service {
	return &Service{
		store:     store,
		keys:      keys,
		refresher: refresher,
		now:       func() time.Time { return time.Now().UTC() },
		validate:  validator.New(),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// GetAccessToken returns a usable access token, refreshing it first when it
// is about to expire.
func (s *Service) GetAccessToken(ctx context.Context, userID uint, provider string) (*tasksync.AccessToken, error) {
	in, err := s.integration(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	access, err := s.keys.Open(in.KeyID, accessSealed(in))
	if err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	if access != "" && !in.TokenExpired(s.now(), refreshLeeway) {
		return &tasksync.AccessToken{Token: access, Integration: in}, nil
	}
	if !in.HasRefreshToken() {
		return nil, fmt.Errorf("%w: access token expired and no refresh token stored", tasksync.ErrUnauthorized)
	}

	key := fmt.Sprintf("%d:%s", userID, provider)
	v, err, _ := s.refreshes.Do(key, func() (interface{}, error) {
		return s.refresh(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return v.(*tasksync.AccessToken), nil
}

func (s *Service) refresh(ctx context.Context, in *models.ExternalIntegration) (*tasksync.AccessToken, error) {
	refreshToken, err := s.keys.Open(in.KeyID, refreshSealed(in))
	if err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	tok, err := s.refresher.Refresh(ctx, in.Provider, refreshToken)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: token refresh rejected: %v", tasksync.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if tok.RefreshToken != "" {
		refreshToken = tok.RefreshToken
	}
	var expires *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expires = &e
	}
	if err := s.seal(in, tok.AccessToken, refreshToken, expires); err != nil {
		return nil, err
	}
	if err := s.store.SaveIntegration(ctx, in); err != nil {
		return nil, fmt.Errorf("save refreshed token: %w", err)
	}
	log.Infof("[Credentials] Refreshed %s token for user %d", in.Provider, in.UserID)
	return &tasksync.AccessToken{Token: tok.AccessToken, Integration: in}, nil
}

// StoreTokens seals a fresh grant and saves it. Google only returns a refresh
// token on first consent, so an existing one is kept when the grant has none.
// Connecting a different provider account purges the old sync data.
func (s *Service) StoreTokens(ctx context.Context, g TokenGrant) (*models.ExternalIntegration, error) {
	if err := s.validate.Struct(g); err != nil {
		return nil, fmt.Errorf("invalid token grant: %w", err)
	}

	existing, err := s.store.GetIntegration(ctx, g.UserID, g.Provider)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	refreshToken := g.RefreshToken
	if existing != nil {
		if existing.ProviderAccountID != "" && g.AccountID != "" && existing.ProviderAccountID != g.AccountID {
			log.Warnf("[Credentials] User %d switched %s account, purging sync data", g.UserID, g.Provider)
			if err := s.store.PurgeSyncData(ctx, g.UserID, g.Provider); err != nil {
				return nil, fmt.Errorf("purge sync data: %w", err)
			}
		} else if refreshToken == "" {
			if refreshToken, err = s.keys.Open(existing.KeyID, refreshSealed(existing)); err != nil {
				return nil, fmt.Errorf("open stored refresh token: %w", err)
			}
		}
	}

	in := &models.ExternalIntegration{
		UserID:            g.UserID,
		Provider:          g.Provider,
		ProviderAccountID: g.AccountID,
		Email:             g.Email,
		Scopes:            strings.Join(g.Scopes, " "),
	}
	var expires *time.Time
	if !g.ExpiresAt.IsZero() {
		e := g.ExpiresAt.UTC()
		expires = &e
	}
	if err := s.seal(in, g.AccessToken, refreshToken, expires); err != nil {
		return nil, err
	}
	if err := s.store.SaveIntegration(ctx, in); err != nil {
		return nil, fmt.Errorf("save integration: %w", err)
	}
	return in, nil
}

// Disconnect deletes the stored credentials and run state of one provider.
func (s *Service) Disconnect(ctx context.Context, userID uint, provider string) error {
	if _, err := s.integration(ctx, userID, provider); err != nil {
		return err
	}
	return s.store.DeleteIntegration(ctx, userID, provider)
}

// Integration returns the stored integration or tasksync.ErrNoIntegration.
func (s *Service) Integration(ctx context.Context, userID uint, provider string) (*models.ExternalIntegration, error) {
	return s.integration(ctx, userID, provider)
}

// Rotate re-seals every integration that is not on the active key and
// returns how many were rewritten.
func (s *Service) Rotate(ctx context.Context) (int, error) {
	list, err := s.store.ListIntegrationsNotOnKey(ctx, s.keys.ActiveKeyID())
	if err != nil {
		return 0, err
	}
	rotated := 0
	var errs error
	for i := range list {
		in := &list[i]
		if err := s.reseal(ctx, in); err != nil {
			log.Errorf("[Credentials] Rotating integration %d failed: %v", in.ID, err)
			errs = multierr.Append(errs, fmt.Errorf("integration %d: %w", in.ID, err))
			continue
		}
		rotated++
	}
	log.Infof("[Credentials] Rotated %d of %d integrations to key %s", rotated, len(list), s.keys.ActiveKeyID())
	return rotated, errs
}

func (s *Service) reseal(ctx context.Context, in *models.ExternalIntegration) error {
	access, err := s.keys.Open(in.KeyID, accessSealed(in))
	if err != nil {
		return err
	}
	refreshToken, err := s.keys.Open(in.KeyID, refreshSealed(in))
	if err != nil {
		return err
	}
	if err := s.seal(in, access, refreshToken, in.TokenExpiresAt); err != nil {
		return err
	}
	return s.store.SaveIntegration(ctx, in)
}

func (s *Service) integration(ctx context.Context, userID uint, provider string) (*models.ExternalIntegration, error) {
	in, err := s.store.GetIntegration(ctx, userID, provider)
	if errors.Is(err, ErrNotFound) {
		return nil, tasksync.ErrNoIntegration
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (s *Service) seal(in *models.ExternalIntegration, access, refresh string, expires *time.Time) error {
	a, err := s.keys.Seal(access)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	r, err := s.keys.Seal(refresh)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	in.AccessTokenEnc, in.AccessTokenIV, in.AccessTokenTag = a.Ciphertext, a.IV, a.Tag
	in.RefreshTokenEnc, in.RefreshTokenIV, in.RefreshTokenTag = r.Ciphertext, r.IV, r.Tag
	in.KeyID = s.keys.ActiveKeyID()
	in.TokenExpiresAt = expires
	return nil
}

func accessSealed(in *models.ExternalIntegration) Sealed {
	return Sealed{Ciphertext: in.AccessTokenEnc, IV: in.AccessTokenIV, Tag: in.AccessTokenTag}
}

func refreshSealed(in *models.ExternalIntegration) Sealed {
	return Sealed{Ciphertext: in.RefreshTokenEnc, IV: in.RefreshTokenIV, Tag: in.RefreshTokenTag}
}
