// Package oauth schedules proactive refreshes of cached access tokens. It performs jittered
// checks and refreshes when expiry falls within a configured window, so polling never has to
// pay for a token exchange or a 401 round trip.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
)

// Source is a token cache that can report its expiry and force a new exchange.
type Source interface {
	ExpiresAt() time.Time
	Refresh(ctx context.Context) error
}

// Config configures StartRefresher.
type Config struct {
	// Provider names the token in logs.
	Provider string
	// Interval is how often to wake up and check. Defaults to 5m.
	Interval time.Duration
	// Window triggers a refresh when the remaining lifetime is <= Window. Defaults to 15m.
	Window time.Duration
	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// StartRefresher launches a goroutine that periodically checks src and refreshes it.
// A zero expiry counts as expired. The goroutine exits when ctx is done.
func StartRefresher(ctx context.Context, cfg Config, src Source) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	window := cfg.Window
	if window <= 0 {
		window = 15 * time.Minute
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := slog.With(slog.String("provider", cfg.Provider), slog.String("component", "token_refresh"))

	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		if !sleep(ctx, clock, initialJitter) {
			return
		}
		for {
			// Per-iteration jitter of +-20% of interval.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			nextSleep := interval + time.Duration(rand.Int63n(jitterRange*2+1)-jitterRange)
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			if !sleep(ctx, clock, nextSleep) {
				return
			}
			exp := src.ExpiresAt()
			if !exp.IsZero() && exp.Sub(clock.Now()) > window {
				continue
			}
			ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := src.Refresh(ctx2)
			cancel()
			if err != nil {
				log.Warn("token refresh failed", slog.Any("err", err))
				continue
			}
			log.Info("token refreshed", slog.Time("expires_at", src.ExpiresAt()))
		}
	}()
}

// sleep waits for d on clock and reports false when ctx ended first.
func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}
