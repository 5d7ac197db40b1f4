// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollCycles                prometheus.Counter
	PollCyclesSkipped         prometheus.Counter
	StreamQueryFailures       prometheus.Counter
	ProfileEnrichmentFailures prometheus.Counter
	NotificationsSent         prometheus.Counter
	NotificationsFailed       prometheus.Counter
	ChannelResolutionFailures prometheus.Counter
	HelixCircuitStateChanges  *prometheus.CounterVec

	// Histograms (seconds)
	PollCycleDuration prometheus.Observer

	// Gauges
	StreamersLive     prometheus.Gauge
	HelixCircuitOpen  prometheus.Gauge // 1=open,0=closed
	LastCycleUnixTime prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_poll_cycles_total", Help: "Number of completed poll cycles"})
		PollCyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_poll_cycles_skipped_total", Help: "Ticks skipped because the previous cycle was still running"})
		StreamQueryFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_stream_query_failures_total", Help: "Per-streamer active stream queries that failed"})
		ProfileEnrichmentFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_profile_enrichment_failures_total", Help: "Batched profile lookups that failed"})
		NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_notifications_sent_total", Help: "Live notifications delivered to the chat channel"})
		NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_notifications_failed_total", Help: "Live notifications that failed to send"})
		ChannelResolutionFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_channel_resolution_failures_total", Help: "Cycles whose dispatch was skipped because the channel could not be resolved"})
		HelixCircuitStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_helix_circuit_state_changes_total", Help: "Helix circuit breaker transitions by target state"}, []string{"to"})
		PollCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_poll_cycle_duration_seconds", Help: "Poll cycle duration seconds", Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}})
		StreamersLive = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_streamers_live", Help: "Tracked streamers currently live"})
		HelixCircuitOpen = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_helix_circuit_open", Help: "Helix circuit breaker open=1 closed=0"})
		LastCycleUnixTime = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_last_poll_cycle_timestamp_seconds", Help: "Unix time of the last completed poll cycle"})
	})
}

// Inc increments c when metrics have been initialised.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// UpdateCircuitGauge sets gauge to 1 if open else 0.
func UpdateCircuitGauge(open bool) {
	if HelixCircuitOpen == nil {
		return
	}
	if open {
		HelixCircuitOpen.Set(1)
	} else {
		HelixCircuitOpen.Set(0)
	}
}

// RecordCircuitStateChange counts a breaker transition and updates the open gauge.
func RecordCircuitStateChange(to string) {
	if HelixCircuitStateChanges != nil {
		HelixCircuitStateChanges.WithLabelValues(to).Inc()
	}
	UpdateCircuitGauge(to == "open")
}

// SetStreamersLive records the number of live tracked streamers.
func SetStreamersLive(n int) {
	if StreamersLive != nil {
		StreamersLive.Set(float64(n))
	}
}

// MarkCycleCompleted stamps the last-cycle gauge.
func MarkCycleCompleted(t time.Time) {
	if LastCycleUnixTime != nil {
		LastCycleUnixTime.Set(float64(t.Unix()))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
