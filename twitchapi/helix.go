// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for live stream lookups and batched user profile resolution, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/onnwee/live-herald/telemetry"
)

const (
	helixBaseURL = "https://api.twitch.tv/helix"
	// helixMaxRetries bounds attempts for 429/5xx/transport failures. A 401 triggers one
	// extra attempt with a fresh token that does not count against it.
	helixMaxRetries = 3
	// MaxIDsPerRequest is the Helix limit for repeated id/login query parameters.
	MaxIDsPerRequest = 100

	defaultRetryBackoff = 500 * time.Millisecond
	maxErrorBody        = 512
)

// APIError is a non-successful Helix response.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Stream is one entry of the Get Streams response.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameID       string    `json:"game_id"`
	GameName     string    `json:"game_name"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	Language     string    `json:"language"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Tags         []string  `json:"tags"`
	IsMature     bool      `json:"is_mature"`
}

// User is one entry of the Get Users response.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	Type            string `json:"type"`
	BroadcasterType string `json:"broadcaster_type"`
	Description     string `json:"description"`
	ProfileImageURL string `json:"profile_image_url"`
	OfflineImageURL string `json:"offline_image_url"`
	CreatedAt       string `json:"created_at"`
}

// HelixClient provides the Helix calls used by the live tracker.
// Limiter, Breaker and Timeout are optional.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client

	// Limiter paces outbound requests.
	Limiter *rate.Limiter
	// Breaker short-circuits calls while Helix keeps failing.
	Breaker *gobreaker.CircuitBreaker
	// Timeout bounds each attempt.
	Timeout time.Duration
	// RetryBackoff is the base delay between attempts; it grows linearly.
	RetryBackoff time.Duration
}

// Options configures NewHelixClient.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
}

// NewHelixClient builds a client with a rate limiter and a circuit breaker whose state
// is exported through telemetry. opts.Timeout also bounds token exchanges when ts has
// no timeout of its own.
func NewHelixClient(ts *TokenSource, clientID string, opts Options) *HelixClient {
	if ts != nil && ts.Timeout == 0 {
		ts.Timeout = opts.Timeout
	}
	hc := &HelixClient{
		AppTokenSource: ts,
		ClientID:       clientID,
		HTTPClient:     &http.Client{Timeout: opts.Timeout},
		Timeout:        opts.Timeout,
	}
	if opts.RequestsPerSecond > 0 {
		hc.Limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond)+1)
	}
	hc.Breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "helix",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("helix circuit breaker state changed", slog.String("from", from.String()), slog.String("to", to.String()))
			telemetry.RecordCircuitStateChange(to.String())
		},
	})
	return hc
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) backoff(attempt int) time.Duration {
	base := hc.RetryBackoff
	if base <= 0 {
		base = defaultRetryBackoff
	}
	return base * time.Duration(attempt)
}

// GetStreams returns the active streams for a login. An offline channel yields an empty slice.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("user_login", login)
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "streams", q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetUsers resolves user ids to profiles. Ids are sent as repeated id parameters,
// MaxIDsPerRequest per call. No request is made for an empty list.
func (hc *HelixClient) GetUsers(ctx context.Context, ids []string) ([]User, error) {
	return hc.getUsersBy(ctx, "id", ids)
}

// GetUsersByLogin resolves login names to profiles, batched like GetUsers.
func (hc *HelixClient) GetUsersByLogin(ctx context.Context, logins []string) ([]User, error) {
	return hc.getUsersBy(ctx, "login", logins)
}

func (hc *HelixClient) getUsersBy(ctx context.Context, key string, values []string) ([]User, error) {
	var out []User
	for start := 0; start < len(values); start += MaxIDsPerRequest {
		end := min(start+MaxIDsPerRequest, len(values))
		q := url.Values{}
		for _, v := range values[start:end] {
			q.Add(key, v)
		}
		var body struct {
			Data []User `json:"data"`
		}
		if err := hc.get(ctx, "users", q, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
	}
	return out, nil
}

type helixResponse struct {
	status int
	body   []byte
}

// get performs a Helix GET with retries on 429/5xx/transport errors and a single
// token refresh on 401, decoding the JSON body into out.
func (hc *HelixClient) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	refreshed := false
	var lastErr error
	for attempt := 1; attempt <= helixMaxRetries; attempt++ {
		if hc.Limiter != nil {
			if err := hc.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return err
		}
		resp, err := hc.roundTrip(ctx, endpoint, q, tok)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("helix %s: %w", endpoint, err)
		}
		switch {
		case err == nil && resp.status == http.StatusOK:
			if err := json.Unmarshal(resp.body, out); err != nil {
				return fmt.Errorf("helix %s: decode: %w", endpoint, err)
			}
			return nil
		case resp.status == http.StatusUnauthorized && !refreshed:
			hc.AppTokenSource.InvalidateIf(tok)
			refreshed = true
			attempt--
			slog.Debug("helix token rejected; refreshing", slog.String("endpoint", endpoint))
			continue
		case resp.status != 0:
			apiErr := &APIError{Endpoint: endpoint, StatusCode: resp.status, Body: truncate(resp.body)}
			if !apiErr.Retryable() {
				return apiErr
			}
			lastErr = apiErr
		default:
			lastErr = err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < helixMaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(hc.backoff(attempt)):
			}
		}
	}
	return fmt.Errorf("helix %s: failed after %d attempts: %w", endpoint, helixMaxRetries, lastErr)
}

// roundTrip executes one request, through the breaker when configured. Transport errors
// and 5xx responses count as breaker failures.
func (hc *HelixClient) roundTrip(ctx context.Context, endpoint string, q url.Values, tok string) (helixResponse, error) {
	call := func() (helixResponse, error) {
		reqCtx := ctx
		if hc.Timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, hc.Timeout)
			defer cancel()
		}
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, helixBaseURL+"/"+endpoint, nil)
		if err != nil {
			return helixResponse{}, err
		}
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			return helixResponse{}, err
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				slog.Warn("failed to close response body", slog.Any("err", err))
			}
		}()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return helixResponse{}, err
		}
		r := helixResponse{status: resp.StatusCode, body: b}
		if resp.StatusCode >= 500 {
			return r, &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: truncate(b)}
		}
		return r, nil
	}
	if hc.Breaker == nil {
		return call()
	}
	v, err := hc.Breaker.Execute(func() (interface{}, error) { return call() })
	r, _ := v.(helixResponse)
	return r, err
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody])
	}
	return string(b)
}
