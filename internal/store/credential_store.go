package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/area-platform/areaengine/internal/models"
	"gorm.io/gorm"
)

// ErrCredentialNotFound is returned when no credential exists for a
// (user, provider) pair.
var ErrCredentialNotFound = errors.New("store: credential not found")

// CredentialStore reads and writes per-(user, provider) OAuth token records.
type CredentialStore struct {
	db    *gorm.DB
	locks *keyedMutex
}

// NewCredentialStore constructs a CredentialStore.
func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db, locks: newKeyedMutex()}
}

func credentialKey(userID, provider string) string {
	return userID + "\x00" + strings.ToLower(strings.TrimSpace(provider))
}

// Get returns the credential for a (user, provider) pair.
func (s *CredentialStore) Get(ctx context.Context, userID, provider string) (models.Credential, error) {
	var cred models.Credential
	errFind := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, strings.ToLower(strings.TrimSpace(provider))).
		First(&cred).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return models.Credential{}, ErrCredentialNotFound
	}
	if errFind != nil {
		return models.Credential{}, errFind
	}
	return cred, nil
}

// Put creates or replaces the credential for a (user, provider) pair.
// Used by the (external) OAuth exchange surface and by tests.
func (s *CredentialStore) Put(ctx context.Context, cred models.Credential) error {
	cred.Provider = strings.ToLower(strings.TrimSpace(cred.Provider))
	key := credentialKey(cred.UserID, cred.Provider)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	var existing models.Credential
	errFind := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", cred.UserID, cred.Provider).
		First(&existing).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&cred).Error
	}
	if errFind != nil {
		return errFind
	}
	cred.ID = existing.ID
	cred.CreatedAt = existing.CreatedAt
	return s.db.WithContext(ctx).Save(&cred).Error
}

// UpdateTokens mutates the token material after a refresh. The refresh token
// is only rotated when the provider returned a new one (non-nil).
func (s *CredentialStore) UpdateTokens(ctx context.Context, userID, provider, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	key := credentialKey(userID, provider)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	updates := map[string]any{
		"access_token": accessToken,
		"expires_at":   expiresAt,
		"updated_at":   time.Now().UTC(),
	}
	if refreshToken != nil {
		updates["refresh_token"] = *refreshToken
	}

	result := s.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("user_id = ? AND provider = ?", userID, provider).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// Delete removes the credential on explicit disconnect.
func (s *CredentialStore) Delete(ctx context.Context, userID, provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	key := credentialKey(userID, provider)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	return s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&models.Credential{}).Error
}
