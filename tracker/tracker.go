// Package tracker keeps the live/offline state of every configured Twitch streamer.
//
// One poll cycle is RefreshAll followed by EnrichProfiles:
//   - RefreshAll queries the active stream of every login concurrently and applies
//     the results once all queries returned. A failed query leaves that record
//     untouched so siblings are still evaluated.
//   - EnrichProfiles resolves display name and avatar for records that just went
//     live, in one batched users call. No call is made when nothing is pending.
//
// Notification dedup lives here as well: a record is pending until MarkAnnounced
// is called for it, and only the Offline->Live edge re-arms it.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/twitchapi"
)

// ErrAuth is returned by Initialize when the app token cannot be obtained.
var ErrAuth = errors.New("twitch authentication failed")

const defaultConcurrency = 8

// API is the subset of the Helix client the tracker needs.
type API interface {
	GetStreams(ctx context.Context, login string) ([]twitchapi.Stream, error)
	GetUsers(ctx context.Context, ids []string) ([]twitchapi.User, error)
}

// LoginResolver is implemented by clients that can look users up by login.
// Initialize uses it to warn about misspelled logins.
type LoginResolver interface {
	GetUsersByLogin(ctx context.Context, logins []string) ([]twitchapi.User, error)
}

// TokenProvider supplies the app access token.
type TokenProvider interface {
	Get(ctx context.Context) (string, error)
}

// Tracker owns one StreamerRecord per configured login.
type Tracker struct {
	api         API
	tokens      TokenProvider
	logins      []string
	concurrency int
	now         func() time.Time

	mu          sync.RWMutex
	records     map[string]*StreamerRecord
	initialized bool
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithConcurrency bounds the number of in-flight stream queries.
func WithConcurrency(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

// WithClock overrides the time source used for LastChecked.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker with an Offline record for every login, in the given order.
func New(api API, tokens TokenProvider, logins []string, opts ...Option) *Tracker {
	t := &Tracker{
		api:         api,
		tokens:      tokens,
		logins:      append([]string(nil), logins...),
		concurrency: defaultConcurrency,
		now:         time.Now,
		records:     make(map[string]*StreamerRecord, len(logins)),
	}
	for _, o := range opts {
		o(t)
	}
	for _, login := range t.logins {
		t.records[login] = &StreamerRecord{Login: login, State: Offline}
	}
	return t
}

// Initialize obtains the app access token. Failure is wrapped in ErrAuth and means
// polling must not start. Unknown logins are only logged.
func (t *Tracker) Initialize(ctx context.Context) error {
	if t.tokens == nil {
		return fmt.Errorf("%w: no token provider", ErrAuth)
	}
	if _, err := t.tokens.Get(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	t.mu.Lock()
	t.initialized = true
	t.mu.Unlock()

	if lr, ok := t.api.(LoginResolver); ok && len(t.logins) > 0 {
		users, err := lr.GetUsersByLogin(ctx, t.logins)
		if err != nil {
			slog.Warn("tracker: could not verify streamer logins", slog.Any("err", err), slog.String("component", "tracker"))
			return nil
		}
		known := make(map[string]bool, len(users))
		for _, u := range users {
			known[strings.ToLower(u.Login)] = true
		}
		for _, login := range t.logins {
			if !known[strings.ToLower(login)] {
				slog.Warn("tracker: configured streamer not found on twitch", slog.String("login", login), slog.String("component", "tracker"))
			}
		}
	}
	return nil
}

// Initialized reports whether Initialize succeeded.
func (t *Tracker) Initialized() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.initialized
}

// RefreshResult summarises one RefreshAll pass.
type RefreshResult struct {
	Checked     int
	WentLive    []string
	WentOffline []string
	Failed      map[string]error
}

type queryResult struct {
	streams []twitchapi.Stream
	err     error
}

// RefreshAll queries every login concurrently and then applies the transitions.
func (t *Tracker) RefreshAll(ctx context.Context) RefreshResult {
	ctx, span := telemetry.StartSpan(ctx, "tracker", "tracker.refresh_all", telemetry.CountAttr("streamers", len(t.logins)))
	defer span.End()

	results := make([]queryResult, len(t.logins))
	var g errgroup.Group
	g.SetLimit(t.concurrency)
	for i, login := range t.logins {
		g.Go(func() error {
			streams, err := t.api.GetStreams(ctx, login)
			results[i] = queryResult{streams: streams, err: err}
			return nil
		})
	}
	_ = g.Wait()

	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "tracker"))
	res := RefreshResult{Checked: len(t.logins), Failed: map[string]error{}}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, login := range t.logins {
		rec := t.records[login]
		qr := results[i]
		if qr.err != nil {
			rec.LastError = qr.err.Error()
			res.Failed[login] = qr.err
			telemetry.Inc(telemetry.StreamQueryFailures)
			log.Warn("stream query failed; keeping previous state", slog.String("login", login), slog.Any("err", qr.err))
			continue
		}
		rec.LastChecked = now
		rec.LastError = ""
		switch {
		case len(qr.streams) > 0 && rec.State == Offline:
			// Extra streams are ignored; the first one is canonical.
			first := qr.streams[0]
			rec.State = Live
			rec.UserID = first.UserID
			rec.Session = sessionFromStream(first)
			rec.Profile = nil
			rec.Announced = false
			res.WentLive = append(res.WentLive, login)
			log.Info("streamer went live", slog.String("login", login), slog.String("title", first.Title))
		case len(qr.streams) > 0:
			// Same session continues; refresh details without re-arming.
			rec.Session = sessionFromStream(qr.streams[0])
			if rec.UserID == "" {
				rec.UserID = qr.streams[0].UserID
			}
		default:
			if rec.State == Live {
				res.WentOffline = append(res.WentOffline, login)
				log.Info("streamer went offline", slog.String("login", login))
			}
			rec.State = Offline
			rec.Profile = nil
			rec.Session = nil
			rec.Announced = false
		}
	}
	telemetry.SetStreamersLive(t.liveCountLocked())
	if len(res.Failed) > 0 {
		span.SetAttributes(telemetry.CountAttr("failed", len(res.Failed)))
	}
	return res
}

// EnrichProfiles fetches profiles for live records that have a user id but no profile.
// It returns the number of records enriched. With nothing pending no request is made.
func (t *Tracker) EnrichProfiles(ctx context.Context) (int, error) {
	t.mu.RLock()
	var ids []string
	for _, login := range t.logins {
		rec := t.records[login]
		if rec.State == Live && rec.UserID != "" && rec.Profile == nil {
			ids = append(ids, rec.UserID)
		}
	}
	t.mu.RUnlock()
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "tracker", "tracker.enrich_profiles", telemetry.CountAttr("ids", len(ids)))
	defer span.End()

	users, err := t.api.GetUsers(ctx, ids)
	if err != nil {
		telemetry.Inc(telemetry.ProfileEnrichmentFailures)
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("enrich profiles: %w", err)
	}
	byID := make(map[string]twitchapi.User, len(users))
	byLogin := make(map[string]twitchapi.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
		byLogin[strings.ToLower(u.Login)] = u
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	enriched := 0
	for _, login := range t.logins {
		rec := t.records[login]
		if rec.State != Live || rec.Profile != nil || rec.UserID == "" {
			continue
		}
		u, ok := byID[rec.UserID]
		if !ok {
			u, ok = byLogin[strings.ToLower(login)]
		}
		if !ok {
			continue
		}
		rec.Profile = profileFromUser(u)
		enriched++
	}
	return enriched, nil
}

// CycleResult is the outcome of Cycle.
type CycleResult struct {
	Refresh  RefreshResult
	Enriched int
}

// Cycle runs RefreshAll then EnrichProfiles. The returned error is the enrichment
// failure, if any; per-streamer query failures are reported in Refresh.Failed.
func (t *Tracker) Cycle(ctx context.Context) (CycleResult, error) {
	res := CycleResult{Refresh: t.RefreshAll(ctx)}
	n, err := t.EnrichProfiles(ctx)
	res.Enriched = n
	return res, err
}

// Pending returns live, enriched records whose notification has not been delivered yet.
func (t *Tracker) Pending() []StreamerRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []StreamerRecord
	for _, login := range t.logins {
		rec := t.records[login]
		if rec.State == Live && rec.Enriched() && !rec.Announced {
			out = append(out, rec.clone())
		}
	}
	return out
}

// MarkAnnounced records that the current live session of login was notified.
// It returns false if the record is unknown or not live.
func (t *Tracker) MarkAnnounced(login string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[login]
	if !ok || rec.State != Live {
		return false
	}
	rec.Announced = true
	return true
}

// Record returns a copy of one record.
func (t *Tracker) Record(login string) (StreamerRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[login]
	if !ok {
		return StreamerRecord{}, false
	}
	return rec.clone(), true
}

// Snapshot returns copies of all records in configuration order.
func (t *Tracker) Snapshot() []StreamerRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]StreamerRecord, 0, len(t.logins))
	for _, login := range t.logins {
		out = append(out, t.records[login].clone())
	}
	return out
}

// LiveCount returns the number of records currently live.
func (t *Tracker) LiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.liveCountLocked()
}

func (t *Tracker) liveCountLocked() int {
	n := 0
	for _, rec := range t.records {
		if rec.State == Live {
			n++
		}
	}
	return n
}
