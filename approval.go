package steward

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ErrAwaitingApproval is returned by RunTurn when one or more proposed
// tool calls require an explicit human decision. The turn is suspended:
// it holds no goroutine and consumes no CPU until Approve or Reject on
// the Runtime resumes it. PlanID is empty for direct (one or two call)
// suspensions.
type ErrAwaitingApproval struct {
	SessionID string
	PlanID    string
	Calls     []ToolCallRequest
	Message   string
}

func (e *ErrAwaitingApproval) Error() string {
	return fmt.Sprintf("session %s awaiting approval: %s", e.SessionID, e.Message)
}

// pendingApproval is one parked suspension. The resume closure captures
// the turn state snapshot; it is single-use and owned by the runtime's
// pending registry.
type pendingApproval struct {
	sessionID string
	planID    string
	resume    func(ctx context.Context, approved bool, reason string) (TurnResult, error)
	interrupt func(ctx context.Context)
	timer     *time.Timer
}

func (pa *pendingApproval) stopTimer() {
	if pa.timer != nil {
		pa.timer.Stop()
	}
}

// suspendForApproval parks the current iteration before result injection
// and returns control to the caller. Approve re-enters execution for the
// pending calls; Reject synthesizes rejection results. Either way the
// loop then continues exactly where it left off.
func (r *Runtime) suspendForApproval(ctx context.Context, sess *Session, st *turnState, handle *turnHandle, plan *Plan, calls []ToolCallRequest, outcomes []*callOutcome, pendingIdx []int) (TurnResult, error) {
	if err := r.setStatus(ctx, sess, StatusWaitingApproval); err != nil {
		return r.finishFatal(ctx, sess, st, err)
	}

	pendingCalls := make([]ToolCallRequest, 0, len(pendingIdx))
	names := make([]string, 0, len(pendingIdx))
	for _, i := range pendingIdx {
		pendingCalls = append(pendingCalls, calls[i])
		names = append(names, calls[i].Name)
	}

	planID := ""
	message := fmt.Sprintf("approval required for: %s", strings.Join(names, ", "))
	if plan != nil {
		planID = plan.ID
		message = fmt.Sprintf("approval required for plan %q (%d steps, max risk %s)",
			plan.Purpose, len(plan.Steps), plan.MaxRisk)
	}

	r.emit(ctx, sess.ID, EventWaitingForApproval, map[string]any{
		"plan_id": planID,
		"calls":   names,
		"message": message,
	})
	r.logger.Info("turn suspended for approval",
		"session", sess.ID, "plan", planID, "calls", len(pendingCalls))

	pa := &pendingApproval{
		sessionID: sess.ID,
		planID:    planID,
		resume: func(rctx context.Context, approved bool, reason string) (TurnResult, error) {
			return r.resumeAfterDecision(rctx, sess, st, handle, plan, calls, outcomes, pendingIdx, approved, reason)
		},
		interrupt: func(ictx context.Context) {
			if plan != nil {
				plan.Status = PlanRejected
				if err := r.store.SavePlan(ictx, *plan); err != nil {
					r.logger.Warn("plan save failed on interrupt", "plan", plan.ID, "error", err)
				}
			}
			if _, err := r.finishInterrupted(ictx, sess, st); err != nil {
				r.logger.Warn("interrupt finalization failed", "session", sess.ID, "error", err)
			}
		},
	}
	r.registerPending(pa)

	return r.result(sess, st), &ErrAwaitingApproval{
		SessionID: sess.ID,
		PlanID:    planID,
		Calls:     pendingCalls,
		Message:   message,
	}
}

// resumeAfterDecision finishes the suspended iteration: it executes the
// approved calls (or synthesizes rejection results), injects every
// outcome in call-index order, and re-enters the loop.
func (r *Runtime) resumeAfterDecision(ctx context.Context, sess *Session, st *turnState, handle *turnHandle, plan *Plan, calls []ToolCallRequest, outcomes []*callOutcome, pendingIdx []int, approved bool, reason string) (TurnResult, error) {
	decisionEvent := EventPlanApproved
	if !approved {
		decisionEvent = EventPlanRejected
	}
	payload := map[string]any{}
	if plan != nil {
		payload["plan_id"] = plan.ID
	}
	if reason != "" {
		payload["reason"] = reason
	}
	r.emit(ctx, sess.ID, decisionEvent, payload)

	if approved {
		if plan != nil {
			plan.Status = PlanExecuting
			if err := r.store.SavePlan(ctx, *plan); err != nil {
				return r.finishFatal(ctx, sess, st, Fatal("save plan", err))
			}
		}
		if err := r.setStatus(ctx, sess, StatusExecuting); err != nil {
			return r.finishFatal(ctx, sess, st, err)
		}
		r.executeCalls(ctx, sess, calls, pendingIdx, outcomes)
		if plan != nil {
			plan.Status = PlanCompleted
			for _, i := range pendingIdx {
				if outcomes[i] != nil && outcomes[i].isError {
					plan.Status = PlanFailed
					break
				}
			}
			if err := r.store.SavePlan(ctx, *plan); err != nil {
				return r.finishFatal(ctx, sess, st, Fatal("save plan", err))
			}
		}
		if handle.interrupted.Load() || anyCanceled(outcomes) {
			return r.finishInterrupted(ctx, sess, st)
		}
	} else {
		content := "error: rejected by user"
		if reason != "" {
			content += ": " + reason
		}
		for _, i := range pendingIdx {
			outcomes[i] = &callOutcome{call: calls[i], content: content, isError: true}
		}
		if plan != nil {
			plan.Status = PlanRejected
			if err := r.store.SavePlan(ctx, *plan); err != nil {
				return r.finishFatal(ctx, sess, st, Fatal("save plan", err))
			}
		}
	}

	if err := r.injectOutcomes(ctx, sess, st, outcomes); err != nil {
		return r.finishFatal(ctx, sess, st, err)
	}
	return r.runGuarded(ctx, sess, st, handle)
}
