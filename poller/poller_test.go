package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/live-herald/notify"
	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/testutil"
	"github.com/onnwee/live-herald/tracker"
)

type fakeTracker struct {
	cycles    atomic.Int32
	block     chan struct{}
	entered   chan struct{}
	enrichErr error

	mu        sync.Mutex
	pending   []tracker.StreamerRecord
	announced []string
}

func (f *fakeTracker) Cycle(context.Context) (tracker.CycleResult, error) {
	f.cycles.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return tracker.CycleResult{Refresh: tracker.RefreshResult{Checked: 1}}, f.enrichErr
}

func (f *fakeTracker) Pending() []tracker.StreamerRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracker.StreamerRecord(nil), f.pending...)
}

func (f *fakeTracker) MarkAnnounced(login string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, login)
	f.pending = nil
	return true
}

type recordingChannel struct {
	id   string
	mu   sync.Mutex
	sent []notify.Message
}

func (c *recordingChannel) ID() string { return c.id }

func (c *recordingChannel) Send(_ context.Context, msg notify.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return "m1", nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type directory map[string]notify.Channel

func (d directory) Channel(id string) (notify.Channel, bool) {
	ch, ok := d[id]
	return ch, ok
}

func pendingRecord(login string) tracker.StreamerRecord {
	return tracker.StreamerRecord{
		Login:   login,
		State:   tracker.Live,
		Profile: &tracker.Profile{DisplayName: login},
		Session: &tracker.Session{Title: "t"},
	}
}

func TestRunOnceDispatches(t *testing.T) {
	ft := &fakeTracker{pending: []tracker.StreamerRecord{pendingRecord("alice")}}
	ch := &recordingChannel{id: "42"}
	p := New(ft, notify.NewDispatcher(0), directory{"42": ch}, Config{Interval: time.Minute, ChannelID: "42", Clock: clockwork.NewFakeClock()})

	rep, ran := p.RunOnce(context.Background())
	require.True(t, ran)
	assert.NotEmpty(t, rep.CorrelationID)
	assert.Equal(t, []string{"alice"}, rep.Dispatch.Sent)
	assert.NoError(t, rep.ChannelErr)
	assert.Equal(t, 1, ch.count())
	assert.Equal(t, []string{"alice"}, ft.announced)

	last, ok := p.LastCycle()
	require.True(t, ok)
	assert.Equal(t, rep.CorrelationID, last.CorrelationID)
}

func cycleDurationSamples(t *testing.T) uint64 {
	t.Helper()
	h, ok := telemetry.PollCycleDuration.(prometheus.Histogram)
	require.True(t, ok)
	m := &dto.Metric{}
	require.NoError(t, h.Write(m))
	return m.GetHistogram().GetSampleCount()
}

func TestRunOnceRecordsCycleDuration(t *testing.T) {
	telemetry.Init()
	before := cycleDurationSamples(t)

	ft := &fakeTracker{}
	p := New(ft, notify.NewDispatcher(0), directory{}, Config{Interval: time.Minute, ChannelID: "42"})
	rep, ran := p.RunOnce(context.Background())
	require.True(t, ran)

	assert.Equal(t, before+1, cycleDurationSamples(t))
	assert.GreaterOrEqual(t, rep.Duration, time.Duration(0))
}

func TestRunOnceSkipsDispatchWhenChannelMissing(t *testing.T) {
	ft := &fakeTracker{pending: []tracker.StreamerRecord{pendingRecord("alice")}}
	p := New(ft, notify.NewDispatcher(0), directory{}, Config{Interval: time.Minute, ChannelID: "42"})

	rep, ran := p.RunOnce(context.Background())
	require.True(t, ran)
	require.ErrorIs(t, rep.ChannelErr, notify.ErrChannelNotFound)
	assert.Empty(t, rep.Dispatch.Sent)
	assert.Len(t, ft.Pending(), 1, "record stays pending for the next cycle")
}

func TestRunOnceReportsEnrichmentFailure(t *testing.T) {
	ft := &fakeTracker{enrichErr: errors.New("users: 503")}
	ch := &recordingChannel{id: "42"}
	p := New(ft, notify.NewDispatcher(0), directory{"42": ch}, Config{Interval: time.Minute, ChannelID: "42"})

	rep, ran := p.RunOnce(context.Background())
	require.True(t, ran)
	assert.EqualError(t, rep.EnrichErr, "users: 503")
	assert.NoError(t, rep.ChannelErr)
}

func TestRunOnceSingleFlight(t *testing.T) {
	ft := &fakeTracker{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := New(ft, notify.NewDispatcher(0), directory{}, Config{Interval: time.Minute, ChannelID: "42"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.RunOnce(context.Background())
	}()
	<-ft.entered
	assert.True(t, p.Running())

	_, ran := p.RunOnce(context.Background())
	assert.False(t, ran, "overlapping cycle must be skipped")

	close(ft.block)
	<-done
	assert.False(t, p.Running())
	assert.Equal(t, int32(1), ft.cycles.Load())
}

func TestRunTicksOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ft := &fakeTracker{}
	p := New(ft, notify.NewDispatcher(0), directory{}, Config{Interval: time.Minute, ChannelID: "42", Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		p.Run(ctx)
	}()

	// First cycle runs without waiting for a tick.
	require.Eventually(t, func() bool { return ft.cycles.Load() == 1 && !p.Running() }, time.Second, 5*time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return ft.cycles.Load() == 2 && !p.Running() }, time.Second, 5*time.Millisecond)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return ft.cycles.Load() == 3 && !p.Running() }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		require.FailNow(t, "Run did not return after cancel")
	}
}

func TestPollerEndToEnd(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.AddUser("1", "alice", "Alice")
	mock.AddUser("2", "bob", "Bob")

	hc := mock.HelixClient()
	tr := tracker.New(hc, hc.AppTokenSource, []string{"alice", "bob"})
	require.NoError(t, tr.Initialize(context.Background()))

	ch := &recordingChannel{id: "42"}
	p := New(tr, notify.NewDispatcher(0), directory{"42": ch}, Config{Interval: time.Minute, ChannelID: "42"})
	run := func() Report {
		rep, ran := p.RunOnce(context.Background())
		require.True(t, ran)
		return rep
	}

	mock.SetLive("alice", "1", "first stream")
	rep := run()
	assert.Equal(t, []string{"alice"}, rep.Dispatch.Sent)

	mock.SetLive("bob", "2", "second stream")
	rep = run()
	assert.Equal(t, []string{"bob"}, rep.Dispatch.Sent)

	mock.SetOffline("alice")
	rep = run()
	assert.Empty(t, rep.Dispatch.Sent)
	assert.Equal(t, []string{"alice"}, rep.Cycle.Refresh.WentOffline)

	assert.Equal(t, 2, ch.count())
	assert.Equal(t, [][]string{{"1"}, {"2"}}, mock.UserRequests())
	assert.Equal(t, 1, mock.TokenRequests())
	assert.Equal(t, "**Alice** is live now!", ch.sent[0].Content)
}
