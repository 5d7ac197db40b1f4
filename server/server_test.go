package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/live-herald/notify"
	"github.com/onnwee/live-herald/poller"
	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/tracker"
)

type fakeState struct {
	records     []tracker.StreamerRecord
	initialized bool
}

func (f *fakeState) Snapshot() []tracker.StreamerRecord { return f.records }
func (f *fakeState) Initialized() bool                  { return f.initialized }
func (f *fakeState) LiveCount() int {
	n := 0
	for _, rec := range f.records {
		if rec.State == tracker.Live {
			n++
		}
	}
	return n
}

type fakeCycles struct {
	report   poller.Report
	has      bool
	interval time.Duration
}

func (f *fakeCycles) LastCycle() (poller.Report, bool) { return f.report, f.has }
func (f *fakeCycles) Interval() time.Duration          { return f.interval }

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthzOK(t *testing.T) {
	rr := serve(t, NewMux(context.Background(), Deps{}), "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
}

func TestCorrelationHeader(t *testing.T) {
	h := NewMux(context.Background(), Deps{})

	rr := serve(t, h, "/healthz")
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("expected generated X-Correlation-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Fatalf("expected echoed correlation id, got %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	telemetry.Init()
	telemetry.Inc(telemetry.PollCycles)
	rr := serve(t, NewMux(context.Background(), Deps{}), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "herald_poll_cycles_total") {
		t.Fatal("expected herald_poll_cycles_total in metrics output")
	}
}

func TestStatusSnapshot(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	state := &fakeState{
		initialized: true,
		records: []tracker.StreamerRecord{
			{
				Login:     "alice",
				State:     tracker.Live,
				Profile:   &tracker.Profile{DisplayName: "Alice", ProfileImageURL: "https://img/a.png"},
				Session:   &tracker.Session{Title: "hello", GameName: "Chess", ViewerCount: 12, StartedAt: started},
				Announced: true,
			},
			{Login: "bob", State: tracker.Offline, LastError: "helix streams: status 503"},
		},
	}
	cycles := &fakeCycles{
		has:      true,
		interval: time.Minute,
		report: poller.Report{
			CorrelationID: "corr-1",
			StartedAt:     started,
			Duration:      1500 * time.Millisecond,
			Cycle:         tracker.CycleResult{Refresh: tracker.RefreshResult{WentLive: []string{"alice"}}, Enriched: 1},
			ChannelErr:    &notify.ChannelError{ChannelID: "42", Err: notify.ErrChannelNotFound},
			Dispatch:      notify.Result{Failed: map[string]error{"x": errors.New("boom")}},
		},
	}

	rr := serve(t, NewMux(context.Background(), Deps{Tracker: state, Poller: cycles}), "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Polling || !resp.Authenticated || resp.IntervalSeconds != 60 {
		t.Fatalf("unexpected header fields: %+v", resp)
	}
	if resp.LiveCount != 1 {
		t.Errorf("expected live_count 1, got %d", resp.LiveCount)
	}
	if len(resp.Streamers) != 2 {
		t.Fatalf("expected 2 streamers, got %d", len(resp.Streamers))
	}
	a := resp.Streamers[0]
	if a.State != "live" || a.DisplayName != "Alice" || a.Title != "hello" || a.Game != "Chess" || a.ViewerCount != 12 || !a.Announced {
		t.Fatalf("unexpected alice status: %+v", a)
	}
	if a.StartedAt == nil || !a.StartedAt.Equal(started) {
		t.Fatalf("unexpected started_at: %v", a.StartedAt)
	}
	b := resp.Streamers[1]
	if b.State != "offline" || b.Title != "" || b.LastError == "" {
		t.Fatalf("unexpected bob status: %+v", b)
	}
	lc := resp.LastCycle
	if lc == nil {
		t.Fatal("expected last_cycle")
	}
	if lc.CorrelationID != "corr-1" || lc.DurationMS != 1500 || lc.Enriched != 1 || lc.SendFailures != 1 || lc.ChannelError == "" {
		t.Fatalf("unexpected last cycle: %+v", lc)
	}
}

func TestStatusPollingDisabled(t *testing.T) {
	rr := serve(t, NewMux(context.Background(), Deps{}), "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Polling || resp.LastCycle != nil || len(resp.Streamers) != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestStatusMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rr := httptest.NewRecorder()
	NewMux(context.Background(), Deps{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run server in background on random port by using :0
	done := make(chan error, 1)
	go func() { done <- Start(ctx, ":0", Deps{}) }()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}
