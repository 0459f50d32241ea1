package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store for loop and runtime tests. All methods
// are safe for concurrent use so parallel-dispatch tests can hit it from
// several goroutines.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	messages map[string][]ChatMessage
	plans    map[string]Plan
	events   map[string][]Event
	deny     map[string]DenyList
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]Session),
		messages: make(map[string][]ChatMessage),
		plans:    make(map[string]Plan),
		events:   make(map[string][]Event),
		deny:     make(map[string]DenyList),
	}
}

func (s *memStore) SaveSession(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Messages = nil
	s.sessions[sess.ID] = sess
	return nil
}

func (s *memStore) LoadSession(_ context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	sess.Messages = append([]ChatMessage(nil), s.messages[id]...)
	return sess, nil
}

func (s *memStore) AppendMessage(_ context.Context, sessionID string, msg ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return nil
}

func (s *memStore) SavePlan(_ context.Context, plan Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = plan
	return nil
}

func (s *memStore) LoadPlan(_ context.Context, id string) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	return plan, nil
}

func (s *memStore) SaveEvent(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.SessionID] = append(s.events[ev.SessionID], ev)
	return nil
}

func (s *memStore) DenyList(_ context.Context, principal string) (DenyList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(DenyList(nil), s.deny[principal]...), nil
}

func (s *memStore) SetDenyList(_ context.Context, principal string, deny DenyList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deny[principal] = append(DenyList(nil), deny...)
	return nil
}

func (s *memStore) Init(context.Context) error { return nil }
func (s *memStore) Close() error               { return nil }

// sessionStatus reads the persisted status without the message history.
func (s *memStore) sessionStatus(id string) SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id].Status
}

// eventTypes returns the persisted event sequence for a session.
func (s *memStore) eventTypes(sessionID string) []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]EventType, 0, len(s.events[sessionID]))
	for _, ev := range s.events[sessionID] {
		types = append(types, ev.Type)
	}
	return types
}

// countEvents returns how many persisted events of one type a session has.
func (s *memStore) countEvents(sessionID string, typ EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events[sessionID] {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// sessionMessages returns the persisted conversation history.
func (s *memStore) sessionMessages(sessionID string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatMessage(nil), s.messages[sessionID]...)
}

// firstPlan returns the single persisted plan for tests that expect
// exactly one.
func (s *memStore) firstPlan(t *testing.T) Plan {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.plans) != 1 {
		t.Fatalf("expected exactly 1 plan, got %d", len(s.plans))
	}
	for _, plan := range s.plans {
		return plan
	}
	return Plan{}
}

// scriptedTurn is one pre-recorded model turn: the fragments to stream,
// the usage to report, and an optional terminal error.
type scriptedTurn struct {
	fragments []Fragment
	usage     Usage
	err       error
}

// scriptProvider replays scripted turns in order. Turns beyond the script
// produce a plain-text answer so a runaway loop terminates instead of
// hanging the test.
type scriptProvider struct {
	mu    sync.Mutex
	turns []scriptedTurn
	calls int
	reqs  []ChatRequest
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) StreamTurn(ctx context.Context, req ChatRequest, ch chan<- Fragment) (Usage, error) {
	p.mu.Lock()
	turn := scriptedTurn{fragments: []Fragment{textFrag("done")}}
	if p.calls < len(p.turns) {
		turn = p.turns[p.calls]
	}
	p.calls++
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()

	defer close(ch)
	for _, f := range turn.fragments {
		select {
		case ch <- f:
		case <-ctx.Done():
			return Usage{}, ctx.Err()
		}
	}
	return turn.usage, turn.err
}

func (p *scriptProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func textFrag(text string) Fragment {
	return Fragment{Type: FragmentText, Text: text}
}

// callFrags builds a block-shaped start/delta/end sequence for one call.
func callFrags(id, name, args string, index int) []Fragment {
	return []Fragment{
		{Type: FragmentCallStart, CallID: id, Name: name, Index: index},
		{Type: FragmentCallDelta, CallID: id, ArgsChunk: args, Index: index},
		{Type: FragmentCallEnd, CallID: id, Index: index},
	}
}

// turnWith concatenates fragment groups into one scripted turn.
func turnWith(groups ...[]Fragment) scriptedTurn {
	var frags []Fragment
	for _, g := range groups {
		frags = append(frags, g...)
	}
	return scriptedTurn{fragments: frags}
}

// staticSpec builds a tool spec whose executor always returns content.
func staticSpec(name string, risk RiskTier, content string) ToolSpec {
	return ToolSpec{
		Definition: ToolDefinition{Name: name, Description: name, Parameters: json.RawMessage(`{"type":"object"}`)},
		Risk:       risk,
		Execute: func(context.Context, json.RawMessage) (ToolResult, error) {
			return ToolResult{Content: content}, nil
		},
	}
}

// funcSpec builds a tool spec around an arbitrary executor.
func funcSpec(name string, risk RiskTier, fn ToolFunc) ToolSpec {
	return ToolSpec{
		Definition: ToolDefinition{Name: name, Description: name, Parameters: json.RawMessage(`{"type":"object"}`)},
		Risk:       risk,
		Execute:    fn,
	}
}

// testCatalog registers one tool per risk tier: lookup (read), annotate
// (low write), purchase (high write), wipe (irreversible), plus any
// test-specific extras.
func testCatalog(t *testing.T, extra ...ToolSpec) *Catalog {
	t.Helper()
	cat := NewCatalog()
	specs := []ToolSpec{
		staticSpec("lookup", RiskRead, "lookup ok"),
		staticSpec("annotate", RiskLowWrite, "annotate ok"),
		staticSpec("purchase", RiskHighWrite, "purchase ok"),
		staticSpec("wipe", RiskIrreversible, "wipe ok"),
	}
	for _, spec := range append(specs, extra...) {
		if err := cat.Register(spec); err != nil {
			t.Fatalf("register %s: %v", spec.Definition.Name, err)
		}
	}
	return cat
}

// fastRetry keeps backoff sleeps out of the test wall clock.
func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

// newTestRuntime wires a runtime over a provider, a store, and the
// standard test catalog.
func newTestRuntime(t *testing.T, p Provider, store Store, extra []ToolSpec, opts ...Option) *Runtime {
	t.Helper()
	base := []Option{WithRetryConfig(fastRetry())}
	return NewRuntime(p, testCatalog(t, extra...), store, append(base, opts...)...)
}

// newTestSession creates a session or fails the test.
func newTestSession(t *testing.T, rt *Runtime, level AutonomyLevel) Session {
	t.Helper()
	sess, err := rt.CreateSession(context.Background(), "tester", level)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}
