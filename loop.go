package steward

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// maxToolResultMessageLen caps the rune length of a tool result stored in
// the conversation history. Events retain the full content; only the
// history copy is truncated, so context growth stays bounded across
// iterations.
const maxToolResultMessageLen = 100_000

// resultPreviewLen caps the result preview carried on tool_call_completed
// events.
const resultPreviewLen = 200

// maxParallelDispatch caps concurrent tool call goroutines under
// WithParallelDispatch.
const maxParallelDispatch = 10

// turnState carries one turn's running totals across loop iterations and
// across an approval suspension.
type turnState struct {
	iteration int
	toolCalls int
	failed    int
	usage     Usage
	answer    string
	start     time.Time
}

// callOutcome is the resolved result of one tool call request within an
// iteration: executed, failed, denied, or rejected.
type callOutcome struct {
	call     ToolCallRequest
	content  string
	isError  bool
	executed bool
	duration time.Duration
	canceled bool
}

// loop runs the agentic state machine from the current iteration until a
// terminal condition or an approval suspension. One full model-call-then-
// tool-execution cycle is one iteration.
func (r *Runtime) loop(ctx context.Context, sess *Session, st *turnState, handle *turnHandle) (TurnResult, error) {
	for st.iteration < r.maxIter {
		st.iteration++
		if handle.interrupted.Load() {
			return r.finishInterrupted(ctx, sess, st)
		}

		iterCtx := ctx
		var iterSpan Span
		if r.tracer != nil {
			iterCtx, iterSpan = r.tracer.Start(ctx, "turn.iteration",
				IntAttr("iteration", st.iteration),
				StringAttr("session", sess.ID))
		}
		endIter := func() {
			if iterSpan != nil {
				iterSpan.End()
			}
		}

		r.emit(iterCtx, sess.ID, EventPlanningStarted, map[string]any{"iteration": st.iteration})
		if err := r.setStatus(iterCtx, sess, StatusPlanning); err != nil {
			endIter()
			return r.finishFatal(ctx, sess, st, err)
		}

		acc, usage, err := r.streamModelTurn(iterCtx, sess)
		if err != nil {
			endIter()
			return r.finishFatal(ctx, sess, st, Fatal("model stream", err))
		}
		st.usage.Add(usage)

		calls := acc.Drain()
		text := acc.Text()
		if text != "" {
			st.answer = text
		}
		if iterSpan != nil {
			iterSpan.SetAttr(IntAttr("tool_count", len(calls)))
		}

		asst := AssistantMessage(text)
		asst.Usage = &Usage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}
		for _, c := range calls {
			asst.ToolCalls = append(asst.ToolCalls, c.AsToolCall())
		}
		if err := r.appendMessage(iterCtx, sess, asst); err != nil {
			endIter()
			return r.finishFatal(ctx, sess, st, err)
		}

		if handle.interrupted.Load() {
			endIter()
			return r.finishInterrupted(ctx, sess, st)
		}

		// No tool calls: this turn's text is the final answer.
		if len(calls) == 0 {
			endIter()
			return r.finishAnswer(ctx, sess, st)
		}

		deny, err := r.store.DenyList(iterCtx, sess.Principal)
		if err != nil {
			endIter()
			return r.finishFatal(ctx, sess, st, Fatal("deny list snapshot", err))
		}

		// Three or more calls form a plan, approved or rejected as a
		// unit. One or two calls execute directly under the same checks.
		var plan *Plan
		if len(calls) >= 3 {
			plan = r.buildPlan(sess, text, calls)
		}

		outcomes := make([]*callOutcome, len(calls))
		pendingIdx, err := r.authorize(iterCtx, sess, plan, calls, deny, outcomes)
		if err != nil {
			endIter()
			return r.finishFatal(ctx, sess, st, err)
		}

		// Execute everything already authorized.
		var execIdx []int
		for i := range calls {
			if outcomes[i] == nil && !slices.Contains(pendingIdx, i) {
				execIdx = append(execIdx, i)
			}
		}
		if len(execIdx) > 0 {
			if err := r.setStatus(iterCtx, sess, StatusExecuting); err != nil {
				endIter()
				return r.finishFatal(ctx, sess, st, err)
			}
			r.executeCalls(iterCtx, sess, calls, execIdx, outcomes)
		}

		// An auto-executing plan resolves in this iteration; record its
		// terminal status. Suspended plans resolve on approve/reject.
		if plan != nil && len(pendingIdx) == 0 {
			plan.Status = PlanCompleted
			for _, out := range outcomes {
				if out != nil && out.isError {
					plan.Status = PlanFailed
					break
				}
			}
			if err := r.store.SavePlan(iterCtx, *plan); err != nil {
				endIter()
				return r.finishFatal(ctx, sess, st, Fatal("save plan", err))
			}
		}
		endIter()

		if handle.interrupted.Load() || anyCanceled(outcomes) {
			return r.finishInterrupted(ctx, sess, st)
		}

		// Suspend for approval before injecting anything; the resume
		// closure finishes this iteration.
		if len(pendingIdx) > 0 {
			return r.suspendForApproval(ctx, sess, st, handle, plan, calls, outcomes, pendingIdx)
		}

		if err := r.injectOutcomes(ctx, sess, st, outcomes); err != nil {
			return r.finishFatal(ctx, sess, st, err)
		}
	}

	return r.finishMaxIterations(ctx, sess, st)
}

// streamModelTurn performs one model call, forwarding text fragments to
// subscribers as they arrive and feeding every fragment to a fresh
// accumulator. Returns when the provider signals end of turn.
func (r *Runtime) streamModelTurn(ctx context.Context, sess *Session) (*Accumulator, Usage, error) {
	acc := NewAccumulator()
	frags := make(chan Fragment, 64)
	req := ChatRequest{
		System:   r.system,
		Messages: sess.Messages,
		Tools:    r.catalog.Definitions(),
	}

	type streamEnd struct {
		usage Usage
		err   error
	}
	done := make(chan streamEnd, 1)
	go func() {
		u, err := r.provider.StreamTurn(ctx, req, frags)
		done <- streamEnd{usage: u, err: err}
	}()

	for f := range frags {
		acc.Process(f)
		if f.Type == FragmentText && f.Text != "" {
			r.emit(ctx, sess.ID, EventTextDelta, map[string]any{"text": f.Text})
		}
	}
	end := <-done
	return acc, end.usage, end.err
}

// buildPlan groups an iteration's calls into a plan. The purpose comes
// from the leading text block; the plan's risk is the maximum tier among
// its steps (unknown tools count as irreversible).
func (r *Runtime) buildPlan(sess *Session, text string, calls []ToolCallRequest) *Plan {
	purpose := strings.TrimSpace(text)
	if i := strings.IndexByte(purpose, '\n'); i > 0 {
		purpose = purpose[:i]
	}
	if purpose == "" {
		purpose = fmt.Sprintf("Execute %d tool calls", len(calls))
	}
	maxRisk := RiskRead
	for _, c := range calls {
		risk, ok := r.catalog.Risk(c.Name)
		if !ok {
			risk = RiskIrreversible
		}
		if risk > maxRisk {
			maxRisk = risk
		}
	}
	return &Plan{
		ID:        NewID(),
		SessionID: sess.ID,
		Purpose:   purpose,
		Steps:     calls,
		MaxRisk:   maxRisk,
		Status:    PlanProposed,
		CreatedAt: NowUnix(),
	}
}

// authorize decides every call of the iteration. Denied calls get
// synthesized outcomes immediately. For plan flows the risk-tier decision
// runs once against the plan's max risk and applies to every non-denied
// step (all-or-nothing); direct flows decide per call. Returns the
// indexes awaiting approval.
func (r *Runtime) authorize(ctx context.Context, sess *Session, plan *Plan, calls []ToolCallRequest, deny DenyList, outcomes []*callOutcome) ([]int, error) {
	rulings := make([]Ruling, len(calls))
	var pendingIdx []int
	for i, c := range calls {
		// Deny-list and dangerous-argument checks run per call even
		// inside a plan; the risk-tier comparison for plan flows runs
		// against the plan's max risk so approval is all-or-nothing.
		risk, ok := r.catalog.Risk(c.Name)
		if !ok {
			risk = RiskIrreversible
		}
		if plan != nil {
			risk = plan.MaxRisk
		}
		rulings[i] = Decide(sess.Autonomy, c.Name, risk, deny, c.Args)
		if rulings[i].Decision == NeedsApproval {
			pendingIdx = append(pendingIdx, i)
		}
	}

	if plan != nil {
		r.emit(ctx, sess.ID, EventPlanProposed, map[string]any{
			"plan_id":        plan.ID,
			"purpose":        plan.Purpose,
			"step_count":     len(plan.Steps),
			"max_risk":       plan.MaxRisk.String(),
			"auto_executing": len(pendingIdx) == 0,
		})
		if err := r.store.SavePlan(ctx, *plan); err != nil {
			return nil, Fatal("save plan", err)
		}
	}

	for i, c := range calls {
		if rulings[i].Decision != Denied {
			continue
		}
		outcomes[i] = &callOutcome{
			call:    c,
			content: "error: authorization denied: " + rulings[i].Reason,
			isError: true,
		}
		r.emit(ctx, sess.ID, EventAuthorizationDenied, map[string]any{
			"tool":   c.Name,
			"reason": rulings[i].Reason,
		})
	}
	return pendingIdx, nil
}

// executeCalls dispatches the calls at execIdx, sequentially in call-index
// order or through a bounded worker pool under WithParallelDispatch.
// Outcomes land at their call's index either way, preserving injection
// order.
func (r *Runtime) executeCalls(ctx context.Context, sess *Session, calls []ToolCallRequest, execIdx []int, outcomes []*callOutcome) {
	if !r.parallel || len(execIdx) == 1 {
		for _, i := range execIdx {
			outcomes[i] = r.dispatchCall(ctx, sess, calls[i])
		}
		return
	}

	work := make(chan int, len(execIdx))
	for _, i := range execIdx {
		work <- i
	}
	close(work)

	workers := min(len(execIdx), maxParallelDispatch)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range work {
				out := r.dispatchCall(ctx, sess, calls[i])
				mu.Lock()
				outcomes[i] = out
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

// dispatchCall runs one tool call through the retry executor and emits its
// lifecycle events. Panics inside a tool become failure outcomes instead
// of crashing the loop.
func (r *Runtime) dispatchCall(ctx context.Context, sess *Session, call ToolCallRequest) (out *callOutcome) {
	out = &callOutcome{call: call, executed: true}
	start := time.Now()
	defer func() {
		out.duration = time.Since(start)
		if p := recover(); p != nil {
			out.isError = true
			out.content = fmt.Sprintf("error: tool %q panic: %v", call.Name, p)
			r.emit(ctx, sess.ID, EventToolCallFailed, map[string]any{
				"tool": call.Name, "error": out.content,
				"retry_count": 0, "retries_exhausted": false,
			})
		}
	}()

	r.emit(ctx, sess.ID, EventToolCallStarted, map[string]any{
		"tool":  call.Name,
		"args":  string(call.Args),
		"index": call.Index,
	})

	// Malformed argument payloads from the model are permanent failures
	// for this call only.
	if call.ParseErr != nil {
		out.isError = true
		out.content = "error: " + call.ParseErr.Error()
		r.emit(ctx, sess.ID, EventToolCallFailed, map[string]any{
			"tool": call.Name, "error": call.ParseErr.Error(),
			"retry_count": 0, "retries_exhausted": false,
		})
		return out
	}

	spec, ok := r.catalog.Lookup(call.Name)
	if !ok {
		out.isError = true
		out.content = fmt.Sprintf("error: unknown tool %q", call.Name)
		r.emit(ctx, sess.ID, EventToolCallFailed, map[string]any{
			"tool": call.Name, "error": "unknown tool",
			"retry_count": 0, "retries_exhausted": false,
		})
		return out
	}

	var toolSpan Span
	toolCtx := ctx
	if r.tracer != nil {
		toolCtx, toolSpan = r.tracer.Start(ctx, "tool.execute",
			StringAttr("tool", call.Name),
			IntAttr("index", call.Index))
		defer toolSpan.End()
	}

	cfg := r.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.logger.Warn("tool call retrying",
			"session", sess.ID, "tool", call.Name,
			"attempt", attempt, "delay", delay, "error", err)
		r.emit(ctx, sess.ID, EventToolCallRetrying, map[string]any{
			"tool":     call.Name,
			"attempt":  attempt,
			"error":    err.Error(),
			"delay_ms": delay.Milliseconds(),
		})
	}

	result, err := ExecuteWithRetry(toolCtx, cfg, r.classify, func(c context.Context) (ToolResult, error) {
		return spec.Execute(c, call.Args)
	})

	switch {
	case err != nil && ctx.Err() != nil:
		// The turn itself was cancelled or timed out. A tool that
		// merely returns a context error from its own sub-call is an
		// ordinary failure and falls through to the next case.
		out.canceled = true
		out.isError = true
		out.content = "error: " + err.Error()

	case err != nil:
		out.isError = true
		out.content = "error: " + err.Error()
		retries, exhausted := 0, false
		var re *RetryError
		if errors.As(err, &re) {
			retries, exhausted = re.Retries(), re.Exhausted
		}
		if toolSpan != nil {
			toolSpan.Error(err)
		}
		r.emit(ctx, sess.ID, EventToolCallFailed, map[string]any{
			"tool":              call.Name,
			"error":             err.Error(),
			"retry_count":       retries,
			"retries_exhausted": exhausted,
		})

	case result.Error != "":
		// The tool reported a structured failure; surface it without
		// retry.
		out.isError = true
		out.content = "error: " + result.Error
		r.emit(ctx, sess.ID, EventToolCallFailed, map[string]any{
			"tool": call.Name, "error": result.Error,
			"retry_count": 0, "retries_exhausted": false,
		})

	default:
		out.content = result.Content
		r.emit(ctx, sess.ID, EventToolCallCompleted, map[string]any{
			"tool":        call.Name,
			"duration_ms": time.Since(start).Milliseconds(),
			"preview":     truncateStr(result.Content, resultPreviewLen),
		})
	}
	return out
}

// injectOutcomes appends every outcome to the conversation as a
// tool-result message, in call-index order, and updates the turn totals.
// A failed call never aborts its siblings; partial results all flow back
// to the model.
func (r *Runtime) injectOutcomes(ctx context.Context, sess *Session, st *turnState, outcomes []*callOutcome) error {
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		if out.executed {
			st.toolCalls++
		}
		if out.isError {
			st.failed++
		}
		content := out.content
		if len([]rune(content)) > maxToolResultMessageLen {
			content = truncateStr(content, maxToolResultMessageLen) + "\n\n[output truncated]"
		}
		if err := r.appendMessage(ctx, sess, ToolResultMessage(out.call.ID, content)); err != nil {
			return err
		}
	}
	return nil
}

// --- terminal transitions ---

func (r *Runtime) finishAnswer(ctx context.Context, sess *Session, st *turnState) (TurnResult, error) {
	status := StatusCompleted
	terminal := EventCompleted
	if st.failed > 0 {
		status = StatusCompletedWithErrors
		terminal = EventCompletedWithErrors
	}
	r.emit(ctx, sess.ID, EventAnswerReady, map[string]any{
		"answer":          st.answer,
		"tool_call_count": st.toolCalls,
		"iterations":      st.iteration,
		"duration_ms":     time.Since(st.start).Milliseconds(),
	})
	r.emit(ctx, sess.ID, terminal, nil)
	if err := r.setStatus(ctx, sess, status); err != nil {
		return TurnResult{}, err
	}
	r.logger.Info("turn completed",
		"session", sess.ID, "status", status,
		"iterations", st.iteration, "tool_calls", st.toolCalls, "failed", st.failed)
	return r.result(sess, st), nil
}

// finishMaxIterations terminates a turn that hit the iteration cap. The
// cap is a reported condition, not an error: whatever partial answer text
// exists is returned and the session completes with errors.
func (r *Runtime) finishMaxIterations(ctx context.Context, sess *Session, st *turnState) (TurnResult, error) {
	r.logger.Warn("iteration cap reached", "session", sess.ID, "iterations", st.iteration)
	r.emit(ctx, sess.ID, EventAnswerReady, map[string]any{
		"answer":          st.answer,
		"tool_call_count": st.toolCalls,
		"iterations":      st.iteration,
		"duration_ms":     time.Since(st.start).Milliseconds(),
		"max_iterations":  true,
	})
	r.emit(ctx, sess.ID, EventCompletedWithErrors, nil)
	if err := r.setStatus(ctx, sess, StatusCompletedWithErrors); err != nil {
		return TurnResult{}, err
	}
	return r.result(sess, st), nil
}

func (r *Runtime) finishInterrupted(ctx context.Context, sess *Session, st *turnState) (TurnResult, error) {
	// The turn's context may already be cancelled; finalization writes
	// still need to land.
	ctx = context.WithoutCancel(ctx)
	r.emit(ctx, sess.ID, EventInterrupted, nil)
	if err := r.setStatus(ctx, sess, StatusInterrupted); err != nil {
		return TurnResult{}, err
	}
	r.logger.Info("turn interrupted", "session", sess.ID, "iteration", st.iteration)
	return r.result(sess, st), nil
}

// finishFatal marks the session errored after an unrecoverable
// infrastructure failure. The original error is always surfaced; status
// persistence here is best-effort since the store may be the thing that
// failed.
func (r *Runtime) finishFatal(ctx context.Context, sess *Session, st *turnState, err error) (TurnResult, error) {
	r.logger.Error("turn failed", "session", sess.ID, "error", err)
	r.emit(ctx, sess.ID, EventError, map[string]any{"error": err.Error()})
	sess.Status = StatusErrored
	sess.UpdatedAt = NowUnix()
	if saveErr := r.store.SaveSession(ctx, *sess); saveErr != nil {
		r.logger.Warn("errored-status save failed", "session", sess.ID, "error", saveErr)
	}
	return r.result(sess, st), err
}

func (r *Runtime) result(sess *Session, st *turnState) TurnResult {
	return TurnResult{
		Answer:    st.answer,
		Status:    sess.Status,
		ToolCalls: st.toolCalls,
		Failed:    st.failed,
		Usage:     st.usage,
		Duration:  time.Since(st.start),
	}
}

// --- small helpers ---

func anyCanceled(outcomes []*callOutcome) bool {
	for _, out := range outcomes {
		if out != nil && out.canceled {
			return true
		}
	}
	return false
}

// truncateStr truncates a string to n runes.
func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
