package steward

import (
	"log/slog"
	"sync"
)

// defaultSubscriberBuffer is the per-subscriber event queue depth. A
// subscriber that falls this far behind is dropped rather than allowed to
// stall the loop or its sibling subscribers.
const defaultSubscriberBuffer = 64

// Subscription is one observer's attachment to a session's event stream.
// Events arrive on Events() in emission order. The channel is closed when
// the subscription is closed or dropped for falling behind.
type Subscription struct {
	sessionID string
	ch        chan Event
	sink      *EventSink
	closeOnce sync.Once
}

// Events returns the ordered event channel.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close detaches the subscription. Safe to call multiple times; pending
// buffered events are still readable until the channel drains.
func (s *Subscription) Close() {
	s.sink.unsubscribe(s)
}

// EventSink fans progress events out to any number of per-session
// subscribers. Ordering per subscriber matches emission order; a slow or
// disconnected subscriber never blocks delivery to the others and never
// blocks the loop.
type EventSink struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription
	buffer int
	logger *slog.Logger
}

// SinkOption configures an EventSink.
type SinkOption func(*EventSink)

// WithSinkLogger sets the structured logger for subscriber lifecycle logs.
func WithSinkLogger(l *slog.Logger) SinkOption {
	return func(s *EventSink) { s.logger = l }
}

// WithSubscriberBuffer overrides the per-subscriber queue depth.
func WithSubscriberBuffer(n int) SinkOption {
	return func(s *EventSink) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// NewEventSink creates an empty sink.
func NewEventSink(opts ...SinkOption) *EventSink {
	s := &EventSink{
		subs:   make(map[string][]*Subscription),
		buffer: defaultSubscriberBuffer,
		logger: nopLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe attaches a new observer to a session's event stream. Tie the
// subscription lifetime to the transport connection and Close it on
// disconnect.
func (s *EventSink) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		sessionID: sessionID,
		ch:        make(chan Event, s.buffer),
		sink:      s,
	}
	s.mu.Lock()
	s.subs[sessionID] = append(s.subs[sessionID], sub)
	s.mu.Unlock()
	return sub
}

// Publish delivers an event to every subscriber of its session. Events
// published from a session's single loop goroutine arrive at each
// subscriber in publish order. A subscriber whose queue is full is dropped
// and its channel closed; delivery to the remaining subscribers proceeds.
func (s *EventSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[ev.SessionID]
	var dropped []*Subscription
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		s.logger.Warn("dropping lagging event subscriber",
			"session", ev.SessionID, "buffer", s.buffer)
		s.removeLocked(sub)
	}
}

// SubscriberCount returns the number of live subscribers for a session.
func (s *EventSink) SubscriberCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[sessionID])
}

func (s *EventSink) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sub)
}

// removeLocked detaches sub and closes its channel. Callers hold s.mu.
func (s *EventSink) removeLocked(sub *Subscription) {
	subs := s.subs[sub.sessionID]
	for i, candidate := range subs {
		if candidate == sub {
			s.subs[sub.sessionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.subs[sub.sessionID]) == 0 {
		delete(s.subs, sub.sessionID)
	}
	sub.closeOnce.Do(func() { close(sub.ch) })
}
