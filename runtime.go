package steward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// defaultMaxIterations bounds how many model-call-then-tool-execution
// rounds one turn may take before it is cut off.
const defaultMaxIterations = 5

// ErrNoPendingApproval is returned by Approve/Reject when the session has
// no suspended turn (already decided, expired, or never suspended).
var ErrNoPendingApproval = errors.New("steward: no pending approval for session")

// ErrTurnActive is returned by RunTurn when the session already has a turn
// in flight or suspended.
var ErrTurnActive = errors.New("steward: session already has an active turn")

// Runtime drives the agentic loop: it streams model output, reconstructs
// tool calls, authorizes them against the session's autonomy level,
// executes authorized calls with bounded retry, feeds results back into
// the conversation, and repeats until the model produces a final answer
// or the iteration cap is reached. One Runtime serves any number of
// concurrent sessions; per-session state lives in the session itself and
// in the turn registry.
type Runtime struct {
	provider    Provider
	catalog     *Catalog
	store       Store
	sink        *EventSink
	system      string
	maxIter     int
	retry       RetryConfig
	classify    ClassifyFunc
	tracer      Tracer
	logger      *slog.Logger
	parallel    bool
	approvalTTL time.Duration

	mu      sync.Mutex
	pending map[string]*pendingApproval
	turns   map[string]*turnHandle
}

// turnHandle tracks one in-flight or suspended turn. Interrupt flips the
// flag; the loop checks it at every state boundary so in-flight tool
// calls complete but their results are discarded.
type turnHandle struct {
	interrupted atomic.Bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithTracer enables span creation for turns, iterations, and tool calls.
func WithTracer(t Tracer) Option {
	return func(r *Runtime) { r.tracer = t }
}

// WithEventSink replaces the runtime's internally created sink, letting
// callers share one sink across runtimes or pre-configure buffering.
func WithEventSink(s *EventSink) Option {
	return func(r *Runtime) { r.sink = s }
}

// WithSystemPrompt sets the system prompt sent on every model call.
func WithSystemPrompt(prompt string) Option {
	return func(r *Runtime) { r.system = prompt }
}

// WithMaxIterations overrides the iteration cap (default 5).
func WithMaxIterations(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxIter = n
		}
	}
}

// WithRetryConfig overrides the tool retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(r *Runtime) { r.retry = cfg }
}

// WithClassifier overrides the tool error classifier.
func WithClassifier(fn ClassifyFunc) Option {
	return func(r *Runtime) { r.classify = fn }
}

// WithParallelDispatch executes independent calls of one iteration
// concurrently. Result injection still follows call-index order.
func WithParallelDispatch() Option {
	return func(r *Runtime) { r.parallel = true }
}

// WithApprovalTTL bounds how long a suspended turn waits for a decision.
// When the TTL elapses the pending approval is released; a later
// Approve/Reject returns ErrNoPendingApproval. Zero (the default) waits
// indefinitely.
func WithApprovalTTL(d time.Duration) Option {
	return func(r *Runtime) { r.approvalTTL = d }
}

// NewRuntime wires a runtime from its collaborators. The catalog must be
// fully registered before the first turn runs.
func NewRuntime(provider Provider, catalog *Catalog, store Store, opts ...Option) *Runtime {
	r := &Runtime{
		provider: provider,
		catalog:  catalog,
		store:    store,
		maxIter:  defaultMaxIterations,
		retry:    DefaultRetryConfig(),
		classify: DefaultClassify,
		logger:   nopLogger,
		pending:  make(map[string]*pendingApproval),
		turns:    make(map[string]*turnHandle),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sink == nil {
		r.sink = NewEventSink(WithSinkLogger(r.logger))
	}
	return r
}

// Subscribe attaches an observer to a session's progress event stream.
func (r *Runtime) Subscribe(sessionID string) *Subscription {
	return r.sink.Subscribe(sessionID)
}

// CreateSession creates and persists a new idle session for a principal.
func (r *Runtime) CreateSession(ctx context.Context, principal string, level AutonomyLevel) (Session, error) {
	if !level.Valid() {
		return Session{}, fmt.Errorf("steward: invalid autonomy level %d", level)
	}
	now := NowUnix()
	sess := Session{
		ID:        NewID(),
		Principal: principal,
		Autonomy:  level,
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.SaveSession(ctx, sess); err != nil {
		return Session{}, Fatal("save session", err)
	}
	return sess, nil
}

// TurnResult summarizes one completed (or suspended/terminated) turn.
type TurnResult struct {
	Answer    string
	Status    SessionStatus
	ToolCalls int
	Failed    int
	Usage     Usage
	Duration  time.Duration
}

// RunTurn drives one user turn to completion, suspension, or termination.
// On suspension it returns a *ErrAwaitingApproval; resume the turn with
// Approve or Reject. Only one turn per session may be active at a time.
func (r *Runtime) RunTurn(ctx context.Context, sessionID, input string) (TurnResult, error) {
	handle, err := r.acquireTurn(sessionID)
	if err != nil {
		return TurnResult{}, err
	}

	sess, err := r.store.LoadSession(ctx, sessionID)
	if err != nil {
		r.releaseTurn(sessionID)
		return TurnResult{}, Fatal("load session", err)
	}

	userMsg := UserMessage(input)
	if err := r.appendMessage(ctx, &sess, userMsg); err != nil {
		r.releaseTurn(sessionID)
		return TurnResult{}, err
	}

	st := &turnState{start: time.Now()}
	return r.runGuarded(ctx, &sess, st, handle)
}

// runGuarded runs the loop and releases the turn registration unless the
// turn suspended for approval (the registration then outlives RunTurn
// until Approve/Reject/Interrupt resolves it).
func (r *Runtime) runGuarded(ctx context.Context, sess *Session, st *turnState, handle *turnHandle) (TurnResult, error) {
	result, err := r.loop(ctx, sess, st, handle)
	var pending *ErrAwaitingApproval
	if !errors.As(err, &pending) {
		r.releaseTurn(sess.ID)
	}
	return result, err
}

// Approve resumes a suspended turn, executing the calls that were waiting
// for approval. planID must match the suspension (empty matches a direct,
// plan-less suspension).
func (r *Runtime) Approve(ctx context.Context, sessionID, planID string) (TurnResult, error) {
	return r.decide(ctx, sessionID, planID, true, "")
}

// Reject resumes a suspended turn with a rejection: a synthesized
// rejection result (optionally carrying reason) is injected for every
// pending call and the loop continues as if the calls had been denied.
func (r *Runtime) Reject(ctx context.Context, sessionID, planID, reason string) (TurnResult, error) {
	return r.decide(ctx, sessionID, planID, false, reason)
}

func (r *Runtime) decide(ctx context.Context, sessionID, planID string, approved bool, reason string) (TurnResult, error) {
	r.mu.Lock()
	pa, ok := r.pending[sessionID]
	if ok && planID != "" && pa.planID != planID {
		ok = false
	}
	if ok {
		delete(r.pending, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return TurnResult{}, ErrNoPendingApproval
	}
	pa.stopTimer()
	result, err := pa.resume(ctx, approved, reason)
	var suspended *ErrAwaitingApproval
	if !errors.As(err, &suspended) {
		r.releaseTurn(sessionID)
	}
	return result, err
}

// Interrupt cancels a session's turn mid-flight. The loop observes the
// flag at its next state boundary, discards any results not yet injected,
// and terminates with status interrupted. Interrupting a turn suspended
// for approval resolves it immediately.
func (r *Runtime) Interrupt(sessionID string) {
	r.mu.Lock()
	handle := r.turns[sessionID]
	pa := r.pending[sessionID]
	delete(r.pending, sessionID)
	r.mu.Unlock()

	if handle != nil {
		handle.interrupted.Store(true)
	}
	if pa != nil {
		pa.stopTimer()
		// The suspended loop is not running; finalize here.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pa.interrupt(ctx)
		r.releaseTurn(sessionID)
	}
}

// acquireTurn registers a turn handle for the session, failing when one
// is already active or suspended.
func (r *Runtime) acquireTurn(sessionID string) (*turnHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.turns[sessionID]; exists {
		return nil, ErrTurnActive
	}
	if _, exists := r.pending[sessionID]; exists {
		return nil, ErrTurnActive
	}
	handle := &turnHandle{}
	r.turns[sessionID] = handle
	return handle, nil
}

func (r *Runtime) releaseTurn(sessionID string) {
	r.mu.Lock()
	delete(r.turns, sessionID)
	r.mu.Unlock()
}

// registerPending parks a suspended turn for later Approve/Reject.
func (r *Runtime) registerPending(pa *pendingApproval) {
	r.mu.Lock()
	r.pending[pa.sessionID] = pa
	r.mu.Unlock()
	if r.approvalTTL > 0 {
		pa.timer = time.AfterFunc(r.approvalTTL, func() {
			r.mu.Lock()
			current, ok := r.pending[pa.sessionID]
			if ok && current == pa {
				delete(r.pending, pa.sessionID)
			}
			r.mu.Unlock()
			if ok && current == pa {
				r.logger.Warn("approval wait expired, releasing suspended turn",
					"session", pa.sessionID, "plan", pa.planID)
				r.releaseTurn(pa.sessionID)
			}
		})
	}
}

// emit publishes a progress event to subscribers and persists it
// best-effort. Event persistence failures are logged, never fatal.
func (r *Runtime) emit(ctx context.Context, sessionID string, typ EventType, payload map[string]any) {
	ev := NewEvent(sessionID, typ, payload)
	r.sink.Publish(ev)
	if err := r.store.SaveEvent(ctx, ev); err != nil {
		r.logger.Warn("event persistence failed", "session", sessionID, "type", typ, "error", err)
	}
}

// appendMessage appends to both the in-memory history and the store.
func (r *Runtime) appendMessage(ctx context.Context, sess *Session, msg ChatMessage) error {
	if err := r.store.AppendMessage(ctx, sess.ID, msg); err != nil {
		return Fatal("append message", err)
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = NowUnix()
	return nil
}

// setStatus transitions the session status and persists it.
func (r *Runtime) setStatus(ctx context.Context, sess *Session, status SessionStatus) error {
	sess.Status = status
	sess.UpdatedAt = NowUnix()
	if err := r.store.SaveSession(ctx, *sess); err != nil {
		return Fatal("save session", err)
	}
	return nil
}
