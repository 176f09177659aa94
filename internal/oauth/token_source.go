package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/area-platform/areaengine/internal/service"
	"github.com/area-platform/areaengine/internal/store"
	log "github.com/sirupsen/logrus"
)

// refreshSafetyWindow is how close to expiry a token may get before a
// proactive refresh is forced ahead of the provider call.
const refreshSafetyWindow = 5 * time.Minute

const requestTimeout = 15 * time.Second

// Endpoint describes one provider's OAuth token endpoint and client.
type Endpoint struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// TokenSource hands out valid access tokens for (user, provider) pairs,
// refreshing proactively inside the safety window and rotating refresh
// tokens when the provider returns new ones.
type TokenSource struct {
	creds     *store.CredentialStore
	endpoints map[string]Endpoint
	client    *http.Client
	window    time.Duration
	now       func() time.Time
}

// NewTokenSource constructs a TokenSource over the credential store.
func NewTokenSource(creds *store.CredentialStore, endpoints map[string]Endpoint) *TokenSource {
	normalized := make(map[string]Endpoint, len(endpoints))
	for name, ep := range endpoints {
		normalized[strings.ToLower(strings.TrimSpace(name))] = ep
	}
	return &TokenSource{
		creds:     creds,
		endpoints: normalized,
		client:    &http.Client{Timeout: requestTimeout},
		window:    refreshSafetyWindow,
		now:       time.Now,
	}
}

// AccessToken returns a token safe to send to the provider. A token expiring
// within the safety window is refreshed first; a known-expired token is never
// returned.
func (s *TokenSource) AccessToken(ctx context.Context, userID, provider string) (string, error) {
	cred, errGet := s.creds.Get(ctx, userID, provider)
	if errors.Is(errGet, store.ErrCredentialNotFound) {
		return "", service.Errorf(provider, service.KindAuthorization, "no credential for user %s", userID)
	}
	if errGet != nil {
		return "", service.Errorf(provider, service.KindInternal, "load credential: %v", errGet)
	}

	if cred.ExpiresAt == nil || cred.ExpiresAt.After(s.now().Add(s.window)) {
		return cred.AccessToken, nil
	}
	return s.refresh(ctx, userID, provider, cred.RefreshToken)
}

// ForceRefresh exchanges the refresh token regardless of expiry. Used for the
// single refresh-and-retry after a provider rejects a seemingly valid token.
func (s *TokenSource) ForceRefresh(ctx context.Context, userID, provider string) (string, error) {
	cred, errGet := s.creds.Get(ctx, userID, provider)
	if errors.Is(errGet, store.ErrCredentialNotFound) {
		return "", service.Errorf(provider, service.KindAuthorization, "no credential for user %s", userID)
	}
	if errGet != nil {
		return "", service.Errorf(provider, service.KindInternal, "load credential: %v", errGet)
	}
	return s.refresh(ctx, userID, provider, cred.RefreshToken)
}

// tokenResponse is the relevant subset of an RFC 6749 token response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (s *TokenSource) refresh(ctx context.Context, userID, provider string, refreshToken *string) (string, error) {
	if refreshToken == nil || strings.TrimSpace(*refreshToken) == "" {
		return "", service.Errorf(provider, service.KindAuthorization, "token expired and no refresh token; user must reconnect")
	}
	endpoint, ok := s.endpoints[strings.ToLower(strings.TrimSpace(provider))]
	if !ok || strings.TrimSpace(endpoint.TokenURL) == "" {
		return "", service.Errorf(provider, service.KindConfiguration, "no token endpoint configured")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", *refreshToken)
	form.Set("client_id", endpoint.ClientID)
	form.Set("client_secret", endpoint.ClientSecret)

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, errReq := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint.TokenURL, strings.NewReader(form.Encode()))
	if errReq != nil {
		return "", service.Errorf(provider, service.KindInternal, "build token request: %v", errReq)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, errResp := s.client.Do(req)
	if errResp != nil {
		return "", service.Errorf(provider, service.KindTransient, "token request: %v", errResp)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("oauth: close token response body error: %v", errClose)
		}
	}()

	payload, errRead := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if errRead != nil {
		return "", service.Errorf(provider, service.KindTransient, "read token response: %v", errRead)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// A rejected refresh grant means the connection is dead; the user has
		// to reconnect. Retrying would loop forever.
		return "", &service.Error{
			Provider:   provider,
			Kind:       service.KindAuthorization,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: token refresh rejected status=%d", provider, resp.StatusCode),
		}
	}

	var token tokenResponse
	if errUnmarshal := json.Unmarshal(payload, &token); errUnmarshal != nil {
		return "", service.Errorf(provider, service.KindTransient, "decode token response: %v", errUnmarshal)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", service.Errorf(provider, service.KindAuthorization, "token response missing access_token")
	}

	var rotated *string
	if strings.TrimSpace(token.RefreshToken) != "" {
		rotated = &token.RefreshToken
	}
	var expiresAt *time.Time
	if token.ExpiresIn > 0 {
		at := s.now().Add(time.Duration(token.ExpiresIn) * time.Second).UTC()
		expiresAt = &at
	}

	if errUpdate := s.creds.UpdateTokens(ctx, userID, provider, token.AccessToken, rotated, expiresAt); errUpdate != nil {
		return "", service.Errorf(provider, service.KindInternal, "persist refreshed token: %v", errUpdate)
	}
	log.Debugf("oauth: refreshed token (user=%s provider=%s rotated=%v)", userID, provider, rotated != nil)
	return token.AccessToken, nil
}
