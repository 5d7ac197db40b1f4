package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/tracker"
)

// DefaultSendTimeout bounds a single channel send.
const DefaultSendTimeout = 10 * time.Second

// State is the tracker view the dispatcher consumes.
type State interface {
	Pending() []tracker.StreamerRecord
	MarkAnnounced(login string) bool
}

// Dispatcher sends one notification per pending live session.
type Dispatcher struct {
	SendTimeout time.Duration
}

// NewDispatcher returns a dispatcher; a non-positive timeout selects DefaultSendTimeout.
func NewDispatcher(sendTimeout time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Dispatcher{SendTimeout: sendTimeout}
}

// Result lists the outcome per login of one Dispatch call.
type Result struct {
	Sent   []string
	Failed map[string]error
}

// Dispatch renders and sends every pending record to ch. Sends are independent:
// a failure is logged and leaves the record pending for the next cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, state State, ch TextChannel) Result {
	res := Result{Failed: map[string]error{}}
	pending := state.Pending()
	if len(pending) == 0 {
		return res
	}

	ctx, span := telemetry.StartSpan(ctx, "notify", "notify.dispatch", telemetry.CountAttr("pending", len(pending)))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "notify"))

	for _, rec := range pending {
		msgID, err := d.send(ctx, ch, rec.Login, Render(rec))
		if err != nil {
			res.Failed[rec.Login] = err
			telemetry.Inc(telemetry.NotificationsFailed)
			log.Error("live notification failed", slog.String("login", rec.Login), slog.String("channel", ch.ID()), slog.Any("err", err))
			continue
		}
		state.MarkAnnounced(rec.Login)
		res.Sent = append(res.Sent, rec.Login)
		telemetry.Inc(telemetry.NotificationsSent)
		log.Info("live notification sent", slog.String("login", rec.Login), slog.String("message_id", msgID))
	}
	if len(res.Failed) > 0 {
		span.SetAttributes(telemetry.CountAttr("failed", len(res.Failed)))
	}
	return res
}

func (d *Dispatcher) send(ctx context.Context, ch TextChannel, login string, msg Message) (string, error) {
	timeout := d.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "notify", "notify.send", telemetry.StreamerAttr(login))
	defer span.End()

	id, err := ch.Send(ctx, msg)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	telemetry.SetSpanSuccess(span)
	return id, nil
}
