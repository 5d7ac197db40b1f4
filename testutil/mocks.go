package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/live-herald/twitchapi"
)

// MockTwitchServer creates a test server that mocks the Twitch token endpoint and the
// Helix streams/users endpoints. Handlers registered in Handlers override the defaults.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu             sync.Mutex
	streams        map[string]map[string]any
	users          map[string]map[string]string
	userRequests   [][]string
	streamRequests int
	tokenRequests  int
	accessToken    string
	expiresIn      int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers:    make(map[string]http.HandlerFunc),
		streams:     make(map[string]map[string]any),
		users:       make(map[string]map[string]string),
		accessToken: "mock-app-token",
		expiresIn:   3600,
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		switch key {
		case "/oauth2/token":
			m.serveToken(w, r)
		case "/helix/streams":
			m.serveStreams(w, r)
		case "/helix/users":
			m.serveUsers(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers an override for path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

// AddUser registers a profile returned by /helix/users.
func (m *MockTwitchServer) AddUser(id, login, displayName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = map[string]string{
		"id":                id,
		"login":             login,
		"display_name":      displayName,
		"profile_image_url": "https://static-cdn.jtvnw.net/jtv_user_pictures/" + login + "-profile_image-300x300.png",
	}
}

// SetLive makes /helix/streams report one active stream for login.
func (m *MockTwitchServer) SetLive(login, userID, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[login] = map[string]any{
		"id":           "stream-" + login,
		"user_id":      userID,
		"user_login":   login,
		"user_name":    login,
		"game_name":    "Just Chatting",
		"type":         "live",
		"title":        title,
		"viewer_count": 17,
		"started_at":   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Format(time.RFC3339),
	}
}

// SetOffline clears the active stream of login.
func (m *MockTwitchServer) SetOffline(login string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, login)
}

// MockOAuthTokenResponse sets the token returned by the token endpoint.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = accessToken
	m.expiresIn = expiresIn
}

// UserRequests returns the id lists received by /helix/users, one entry per id lookup.
func (m *MockTwitchServer) UserRequests() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.userRequests))
	copy(out, m.userRequests)
	return out
}

// StreamRequests returns the number of /helix/streams requests served.
func (m *MockTwitchServer) StreamRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamRequests
}

// TokenRequests returns the number of token exchanges served.
func (m *MockTwitchServer) TokenRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenRequests
}

// HTTPClient returns a client that sends every request to the mock server regardless of host.
func (m *MockTwitchServer) HTTPClient() *http.Client {
	base, _ := url.Parse(m.URL)
	return &http.Client{Transport: &rewriteTransport{base: base, rt: http.DefaultTransport}}
}

// HelixClient returns a Helix client wired to the mock with fast retries.
func (m *MockTwitchServer) HelixClient() *twitchapi.HelixClient {
	hc := m.HTTPClient()
	ts := &twitchapi.TokenSource{ClientID: "mock-client", ClientSecret: "mock-secret", HTTPClient: hc}
	return &twitchapi.HelixClient{
		AppTokenSource: ts,
		ClientID:       "mock-client",
		HTTPClient:     hc,
		RetryBackoff:   time.Millisecond,
	}
}

func (m *MockTwitchServer) serveToken(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	m.tokenRequests++
	resp := map[string]any{"access_token": m.accessToken, "expires_in": m.expiresIn, "token_type": "bearer"}
	m.mu.Unlock()
	writeJSON(w, resp)
}

func (m *MockTwitchServer) serveStreams(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.streamRequests++
	data := []map[string]any{}
	if s, ok := m.streams[r.URL.Query().Get("user_login")]; ok {
		data = append(data, s)
	}
	m.mu.Unlock()
	writeJSON(w, map[string]any{"data": data})
}

func (m *MockTwitchServer) serveUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	m.mu.Lock()
	ids := q["id"]
	if len(ids) > 0 {
		m.userRequests = append(m.userRequests, append([]string(nil), ids...))
	}
	data := []map[string]string{}
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			data = append(data, u)
		}
	}
	for _, login := range q["login"] {
		for _, u := range m.users {
			if u["login"] == login {
				data = append(data, u)
			}
		}
	}
	m.mu.Unlock()
	writeJSON(w, map[string]any{"data": data})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// rewriteTransport redirects requests to the mock server
type rewriteTransport struct {
	base *url.URL
	rt   http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.URL.Scheme = t.base.Scheme
	req2.URL.Host = t.base.Host
	req2.Host = t.base.Host
	return t.rt.RoundTrip(req2)
}
