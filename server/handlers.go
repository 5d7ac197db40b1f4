package server

import (
	"time"

	"github.com/onnwee/live-herald/poller"
	"github.com/onnwee/live-herald/tracker"
)

// StateSource is the tracker view served by /status and /readyz.
type StateSource interface {
	Snapshot() []tracker.StreamerRecord
	Initialized() bool
	LiveCount() int
}

// CycleSource exposes the poll loop's progress.
type CycleSource interface {
	LastCycle() (poller.Report, bool)
	Interval() time.Duration
}

// Deps are the handler dependencies. Tracker and Poller are nil when polling is disabled.
type Deps struct {
	Tracker StateSource
	Poller  CycleSource
	// Now defaults to time.Now.
	Now func() time.Time
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	tracker StateSource
	poller  CycleSource
	now     func() time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(d Deps) *Handlers {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Handlers{tracker: d.Tracker, poller: d.Poller, now: now}
}

func (h *Handlers) pollingEnabled() bool {
	return h.tracker != nil && h.poller != nil
}
