// Package poller drives the poll cycle: refresh and enrich the tracker, resolve the
// notification channel, then dispatch pending notifications.
//
// Cycles never overlap. A tick that arrives while a cycle is still running is
// skipped and counted in herald_poll_cycles_skipped_total.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/live-herald/notify"
	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/tracker"
)

// Tracker is the state the poller refreshes and the dispatcher reads.
type Tracker interface {
	notify.State
	Cycle(ctx context.Context) (tracker.CycleResult, error)
}

// Dispatcher sends pending notifications to a channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, state notify.State, ch notify.TextChannel) notify.Result
}

// Config configures a Poller.
type Config struct {
	Interval  time.Duration
	ChannelID string
	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// Report describes one completed cycle.
type Report struct {
	CorrelationID string
	StartedAt     time.Time
	Duration      time.Duration
	Cycle         tracker.CycleResult
	// EnrichErr is the profile enrichment failure, if any.
	EnrichErr error
	// ChannelErr is set when dispatch was skipped because the channel did not resolve.
	ChannelErr error
	Dispatch   notify.Result
}

// Poller runs the tracker on a fixed interval.
type Poller struct {
	tracker    Tracker
	dispatcher Dispatcher
	directory  notify.Directory
	channelID  string
	interval   time.Duration
	clock      clockwork.Clock

	running atomic.Bool
	wg      sync.WaitGroup

	mu      sync.RWMutex
	last    Report
	hasLast bool
}

// New creates a poller. The directory is consulted on every cycle.
func New(tr Tracker, d Dispatcher, dir notify.Directory, cfg Config) *Poller {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{
		tracker:    tr,
		dispatcher: d,
		directory:  dir,
		channelID:  cfg.ChannelID,
		interval:   cfg.Interval,
		clock:      clock,
	}
}

// Interval returns the configured poll interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Running reports whether a cycle is in flight.
func (p *Poller) Running() bool { return p.running.Load() }

// LastCycle returns the report of the most recent completed cycle.
func (p *Poller) LastCycle() (Report, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.hasLast
}

// Run starts a cycle immediately and then on every tick until ctx is done.
// It waits for in-flight cycles before returning.
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	slog.Info("poller started", slog.Duration("interval", p.interval), slog.String("component", "poller"))

	p.launch(ctx)
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			slog.Info("poller stopped", slog.String("component", "poller"))
			return
		case <-ticker.Chan():
			p.launch(ctx)
		}
	}
}

func (p *Poller) launch(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.RunOnce(ctx)
	}()
}

// RunOnce executes one cycle unless another is already running, in which case it
// returns false without touching any state.
func (p *Poller) RunOnce(ctx context.Context) (Report, bool) {
	if !p.running.CompareAndSwap(false, true) {
		telemetry.Inc(telemetry.PollCyclesSkipped)
		slog.Warn("poll cycle skipped; previous cycle still running", slog.String("component", "poller"))
		return Report{}, false
	}
	defer p.running.Store(false)

	rep := p.cycle(ctx)
	p.mu.Lock()
	p.last = rep
	p.hasLast = true
	p.mu.Unlock()
	return rep, true
}

func (p *Poller) cycle(ctx context.Context) Report {
	rep := Report{CorrelationID: uuid.NewString(), StartedAt: p.clock.Now()}
	ctx = telemetry.WithCorrelation(ctx, rep.CorrelationID)
	ctx, span := telemetry.StartSpan(ctx, "poller", "poller.cycle")
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "poller"))

	rep.Duration = telemetry.TimeFunc(telemetry.PollCycleDuration, func() {
		res, err := p.tracker.Cycle(ctx)
		rep.Cycle = res
		if err != nil {
			rep.EnrichErr = err
			telemetry.RecordError(span, err)
			log.Warn("profile enrichment failed; affected streamers retry next cycle", slog.Any("err", err))
		}

		ch, err := notify.ResolveChannel(p.directory, p.channelID)
		if err != nil {
			rep.ChannelErr = err
			telemetry.Inc(telemetry.ChannelResolutionFailures)
			telemetry.RecordError(span, err)
			log.Error("notification channel unavailable; skipping dispatch", slog.Any("err", err))
			return
		}
		rep.Dispatch = p.dispatcher.Dispatch(ctx, p.tracker, ch)
	})
	res := rep.Cycle
	telemetry.Inc(telemetry.PollCycles)
	telemetry.MarkCycleCompleted(p.clock.Now())

	log.Debug("poll cycle complete",
		slog.Int("checked", res.Refresh.Checked),
		slog.Int("went_live", len(res.Refresh.WentLive)),
		slog.Int("went_offline", len(res.Refresh.WentOffline)),
		slog.Int("query_failures", len(res.Refresh.Failed)),
		slog.Int("enriched", res.Enriched),
		slog.Int("sent", len(rep.Dispatch.Sent)),
		slog.Duration("took", rep.Duration))
	if rep.EnrichErr == nil && rep.ChannelErr == nil {
		telemetry.SetSpanSuccess(span)
	}
	return rep
}
