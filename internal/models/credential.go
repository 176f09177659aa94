package models

import "time"

// Credential stores OAuth token material for one (user, provider) connection.
type Credential struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	UserID   string `gorm:"type:text;not null;uniqueIndex:idx_credentials_user_provider"`
	Provider string `gorm:"type:text;not null;uniqueIndex:idx_credentials_user_provider"`

	AccessToken  string  `gorm:"type:text;not null"`
	RefreshToken *string `gorm:"type:text"` // Nil for providers that issue non-expiring tokens.

	// ExpiresAt is nil when the provider does not expire access tokens. A non-nil
	// value in the past must never reach a provider call without a refresh first.
	ExpiresAt *time.Time

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}
