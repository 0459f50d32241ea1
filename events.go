package steward

// EventType identifies one loop transition in the progress event stream.
type EventType string

const (
	// EventPlanningStarted: the model begins producing a turn.
	EventPlanningStarted EventType = "planning_started"
	// EventTextDelta: an incremental answer text chunk, forwarded live.
	EventTextDelta EventType = "text_delta"
	// EventPlanProposed: three or more tool calls were detected and
	// grouped into a plan.
	EventPlanProposed EventType = "plan_proposed"
	// EventWaitingForApproval: the loop suspended pending a decision.
	EventWaitingForApproval EventType = "waiting_for_approval"
	// EventPlanApproved / EventPlanRejected: the external decision.
	EventPlanApproved EventType = "plan_approved"
	EventPlanRejected EventType = "plan_rejected"
	// EventToolCallStarted: a call began executing.
	EventToolCallStarted EventType = "tool_call_started"
	// EventToolCallRetrying: a transient failure is being retried.
	// Observability never hides transient failures even though the
	// conversation need not mention them.
	EventToolCallRetrying EventType = "tool_call_retrying"
	// EventToolCallCompleted: a call succeeded.
	EventToolCallCompleted EventType = "tool_call_completed"
	// EventToolCallFailed: a call exhausted retries or failed permanently.
	EventToolCallFailed EventType = "tool_call_failed"
	// EventAuthorizationDenied: the policy denied a call.
	EventAuthorizationDenied EventType = "authorization_denied"
	// EventAnswerReady: final answer text was produced.
	EventAnswerReady EventType = "answer_ready"
	// Terminal session outcomes.
	EventCompleted           EventType = "completed"
	EventCompletedWithErrors EventType = "completed_with_errors"
	EventInterrupted         EventType = "interrupted"
	EventError               EventType = "error"
)

// Event is an immutable, timestamped record of one loop transition.
// Emission order for a session is semantically meaningful and is preserved
// to every subscriber.
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// NewEvent builds an event with a fresh id and timestamp.
func NewEvent(sessionID string, typ EventType, payload map[string]any) Event {
	return Event{
		ID:        NewID(),
		SessionID: sessionID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: NowUnix(),
	}
}
