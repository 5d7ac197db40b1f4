package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenURL is the Twitch OAuth token endpoint used for the client-credentials grant.
const TokenURL = "https://id.twitch.tv/oauth2/token"

// ErrMissingClientCredentials is returned when the client id or secret is empty.
var ErrMissingClientCredentials = errors.New("missing client id/secret for twitch app token")

const (
	// expiryBuffer is how long before expiry a cached token is considered stale.
	expiryBuffer = 60 * time.Second
	// DefaultTokenTimeout bounds one token exchange when Timeout is unset.
	DefaultTokenTimeout = 10 * time.Second
)

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// The token is refreshed when it is within a minute of expiry or after InvalidateIf.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	// TokenURL overrides the token endpoint; empty uses TokenURL.
	TokenURL string
	// Timeout bounds each exchange, including callers whose context has no deadline.
	// Zero uses DefaultTokenTimeout.
	Timeout time.Duration

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > expiryBuffer {
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.exchange(ctx, false)
}

// Refresh performs a new exchange even when the cached token is still valid. On failure
// the cached token is kept.
func (ts *TokenSource) Refresh(ctx context.Context) error {
	_, err := ts.exchange(ctx, true)
	return err
}

// SetToken seeds the cache, e.g. with a token obtained elsewhere.
func (ts *TokenSource) SetToken(token string, expiresAt time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = token
	ts.expiresAt = expiresAt
}

// InvalidateIf drops the cached token when it is still the rejected one, so the next Get
// performs a fresh exchange. A token already replaced by a concurrent caller is kept.
// Helix calls use it after a 401.
func (ts *TokenSource) InvalidateIf(rejected string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token == "" || ts.token != rejected {
		return false
	}
	ts.token = ""
	ts.expiresAt = time.Time{}
	return true
}

// ExpiresAt reports the expiry of the cached token (zero when none).
func (ts *TokenSource) ExpiresAt() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.expiresAt
}

func (ts *TokenSource) exchange(ctx context.Context, force bool) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if !force && ts.token != "" && time.Until(ts.expiresAt) > expiryBuffer {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", ErrMissingClientCredentials
	}
	tokenURL := ts.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	cc := clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	timeout := ts.Timeout
	if timeout <= 0 {
		timeout = DefaultTokenTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if ts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("twitch token request failed: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.token = tok.AccessToken
	if tok.Expiry.IsZero() {
		ts.expiresAt = ComputeExpiry(0)
	} else {
		ts.expiresAt = tok.Expiry
	}
	return ts.token, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
