package models

import (
	"time"

	"gorm.io/datatypes"
)

// External task providers a user can connect.
const (
	ExternalProviderGoogleTasks = "google_tasks"
)

// ExternalIntegration holds the encrypted OAuth credentials of one provider
// connection. Each token is sealed separately (ciphertext, IV and GCM tag in
// their own columns); KeyID names the keyring entry that sealed them.
type ExternalIntegration struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	UserID            uint           `gorm:"not null;index:ux_external_integrations_user_provider,unique,priority:1" json:"user_id"`
	Provider          string         `gorm:"type:varchar(50);not null;index:ux_external_integrations_user_provider,unique,priority:2" json:"provider"`
	ProviderAccountID string         `gorm:"type:varchar(191);default:''" json:"provider_account_id"`
	Email             string         `gorm:"type:varchar(200);default:''" json:"email"`
	AccessTokenEnc    string         `gorm:"type:text" json:"-"`
	AccessTokenIV     string         `gorm:"type:varchar(32)" json:"-"`
	AccessTokenTag    string         `gorm:"type:varchar(32)" json:"-"`
	RefreshTokenEnc   string         `gorm:"type:text" json:"-"`
	RefreshTokenIV    string         `gorm:"type:varchar(32)" json:"-"`
	RefreshTokenTag   string         `gorm:"type:varchar(32)" json:"-"`
	KeyID             string         `gorm:"type:varchar(64);not null;index" json:"-"`
	TokenExpiresAt    *time.Time     `gorm:"type:timestamp(3);default:null" json:"token_expires_at,omitempty"`
	Scopes            string         `gorm:"type:text" json:"scopes"`
	Metadata          datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasRefreshToken reports whether a refresh token was stored for this integration.
func (i *ExternalIntegration) HasRefreshToken() bool {
	return i != nil && i.RefreshTokenEnc != ""
}

// TokenExpired reports whether the access token expires within leeway of now.
func (i *ExternalIntegration) TokenExpired(now time.Time, leeway time.Duration) bool {
	if i == nil || i.TokenExpiresAt == nil {
		return false
	}
	return !now.Add(leeway).Before(*i.TokenExpiresAt)
}
