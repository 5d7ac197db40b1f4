package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// staleCycleFactor is how many poll intervals may pass without a completed cycle
// before the service reports not ready.
const staleCycleFactor = 3

// HandleHealthz responds to liveness checks. The process being able to serve is enough.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, _ *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"polling", func() error {
			if !h.pollingEnabled() {
				return errors.New("polling disabled")
			}
			return nil
		}},
		{"twitch_auth", func() error {
			if !h.tracker.Initialized() {
				return errors.New("app access token not acquired")
			}
			return nil
		}},
		{"poll_cycle", func() error {
			rep, ok := h.poller.LastCycle()
			if !ok {
				return errors.New("no poll cycle completed yet")
			}
			limit := staleCycleFactor * h.poller.Interval()
			if age := h.now().Sub(rep.StartedAt.Add(rep.Duration)); age > limit {
				return fmt.Errorf("last poll cycle finished %s ago (limit %s)", age.Round(time.Second), limit)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			// Set headers before writing status code
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
