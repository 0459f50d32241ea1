package observer

import (
	"context"

	"github.com/stewardhq/steward"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder consumes a session's progress events and turns them into
// metrics: turn outcomes, iteration counts, retry attempts, and approval
// decisions. It complements the provider and tool wrappers, which
// instrument the hot path directly.
type Recorder struct {
	inst *Instruments
	sub  *steward.Subscription
	done chan struct{}
}

// Record starts consuming the subscription in a background goroutine.
// Call Stop to close the subscription and wait for the drain.
func Record(sub *steward.Subscription, inst *Instruments) *Recorder {
	r := &Recorder{inst: inst, sub: sub, done: make(chan struct{})}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	ctx := context.Background()
	for ev := range r.sub.Events() {
		r.record(ctx, ev)
	}
}

func (r *Recorder) record(ctx context.Context, ev steward.Event) {
	session := AttrSessionID.String(ev.SessionID)
	switch ev.Type {
	case steward.EventToolCallRetrying:
		name, _ := ev.Payload["tool"].(string)
		r.inst.ToolRetries.Add(ctx, 1, metric.WithAttributes(
			session, AttrToolName.String(name),
		))

	case steward.EventPlanApproved:
		r.inst.Approvals.Add(ctx, 1, metric.WithAttributes(
			session, attribute.String("decision", "approved"),
		))

	case steward.EventPlanRejected:
		r.inst.Approvals.Add(ctx, 1, metric.WithAttributes(
			session, attribute.String("decision", "rejected"),
		))

	case steward.EventAnswerReady:
		if ms, ok := asInt64(ev.Payload["duration_ms"]); ok {
			r.inst.TurnDuration.Record(ctx, float64(ms), metric.WithAttributes(session))
		}
		if n, ok := asInt64(ev.Payload["iterations"]); ok {
			r.inst.LoopIterations.Record(ctx, n, metric.WithAttributes(session))
		}

	case steward.EventCompleted, steward.EventCompletedWithErrors,
		steward.EventInterrupted, steward.EventError:
		r.inst.TurnExecutions.Add(ctx, 1, metric.WithAttributes(
			session, AttrTurnStatus.String(string(ev.Type)),
		))
	}
}

// Stop closes the subscription and blocks until buffered events have
// been recorded.
func (r *Recorder) Stop() {
	r.sub.Close()
	<-r.done
}

// asInt64 reads a payload number. Payloads round-trip through JSON in
// persistent stores, so numbers may arrive as float64.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
