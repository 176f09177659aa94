package service

import (
	"bytes"
	"context"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

const maxResponseBytes = 4 << 20 // 4 MiB

// TokenSource supplies valid access tokens for provider calls. Implemented by
// the oauth package.
type TokenSource interface {
	// AccessToken returns a token safe to send right now, refreshing first
	// when expiry is inside the safety window.
	AccessToken(ctx context.Context, userID, provider string) (string, error)
	// ForceRefresh exchanges the refresh token unconditionally.
	ForceRefresh(ctx context.Context, userID, provider string) (string, error)
}

// Client performs authorized HTTP calls to provider APIs on a user's behalf.
// It performs exactly one forced-refresh-and-retry when a provider rejects a
// seemingly valid token with 401.
type Client struct {
	tokens TokenSource
	http   *http.Client
}

// NewClient constructs a Client. httpClient may be nil for the default client.
func NewClient(tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{tokens: tokens, http: httpClient}
}

// Do issues one authorized request and returns status and body bytes.
// Non-2xx statuses are returned without error; callers classify them with
// StatusError so each adapter keeps its own error context.
func (c *Client) Do(ctx context.Context, userID, provider, method, targetURL string, headers http.Header, body []byte) (int, []byte, error) {
	token, errToken := c.tokens.AccessToken(ctx, userID, provider)
	if errToken != nil {
		return 0, nil, errToken
	}

	status, payload, errDo := c.do(ctx, token, method, targetURL, headers, body)
	if errDo != nil {
		return 0, nil, Errorf(provider, KindTransient, "%s %s: %v", method, targetURL, errDo)
	}
	if status != http.StatusUnauthorized {
		return status, payload, nil
	}

	// The token looked valid but the provider disagreed. One refresh, one
	// retry, then give up.
	log.Debugf("service: %s returned 401, forcing token refresh (user=%s)", provider, userID)
	token, errToken = c.tokens.ForceRefresh(ctx, userID, provider)
	if errToken != nil {
		return 0, nil, errToken
	}
	status, payload, errDo = c.do(ctx, token, method, targetURL, headers, body)
	if errDo != nil {
		return 0, nil, Errorf(provider, KindTransient, "%s %s: %v", method, targetURL, errDo)
	}
	return status, payload, nil
}

func (c *Client) do(ctx context.Context, token, method, targetURL string, headers http.Header, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, errReq := http.NewRequestWithContext(ctx, method, targetURL, reader)
	if errReq != nil {
		return 0, nil, errReq
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, errResp := c.http.Do(req)
	if errResp != nil {
		return 0, nil, errResp
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("service: close response body error: %v", errClose)
		}
	}()

	payload, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return resp.StatusCode, nil, errRead
	}
	return resp.StatusCode, payload, nil
}
