package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/openledger/banksync/internal/common"
)

// tokenRefreshMargin is how close to expiry a cached token is still trusted.
const tokenRefreshMargin = 5 * time.Minute

// defaultTokenTTL is assumed when the token carries no readable expiry.
const defaultTokenTTL = 2 * time.Hour

// tokenSource exchanges long-lived application credentials for short-lived
// access tokens and caches them until near expiry.
type tokenSource struct {
	httpClient *http.Client
	mu         sync.Mutex
	cfg        Config
	token      string
	expiresAt  time.Time
}

func newTokenSource(cfg Config, httpClient *http.Client) *tokenSource {
	return &tokenSource{
		httpClient: httpClient,
		cfg:        cfg,
	}
}

// get returns a valid access token, authenticating if the cache is stale.
func (t *tokenSource) get(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expiresAt.Add(-tokenRefreshMargin)) {
		return t.token, nil
	}

	body, err := json.Marshal(authRequest{
		ClientID:     t.cfg.ClientID,
		ClientSecret: t.cfg.ClientSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read auth response: %v", common.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", common.ErrAuthenticationFailed, apiError(payload, resp.StatusCode))
	}

	var auth authResponse
	if err := json.Unmarshal(payload, &auth); err != nil {
		return "", fmt.Errorf("%w: invalid auth response", common.ErrAuthenticationFailed)
	}
	if auth.APIKey == "" {
		return "", fmt.Errorf("%w: empty api key", common.ErrAuthenticationFailed)
	}

	t.token = auth.APIKey
	t.expiresAt = tokenExpiry(auth.APIKey)

	return t.token, nil
}

// invalidate drops the cached token so the next call re-authenticates.
func (t *tokenSource) invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
	t.expiresAt = time.Time{}
}

// tokenExpiry reads the exp claim from the token without verifying the
// signature; we only need the lifetime, the aggregator verifies authenticity.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if claims.ExpiresAt != nil {
			return claims.ExpiresAt.Time
		}
	}
	return time.Now().Add(defaultTokenTTL)
}
