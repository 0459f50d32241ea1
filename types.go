package steward

import "encoding/json"

// --- Autonomy and risk ---

// AutonomyLevel is the user-configured ceiling on which tool risk tiers may
// execute without explicit approval. Levels are ordered: L0 is strictest
// (everything requires approval), L3 is full autonomy.
type AutonomyLevel int

const (
	AutonomyL0 AutonomyLevel = iota
	AutonomyL1
	AutonomyL2
	AutonomyL3
)

func (l AutonomyLevel) String() string {
	switch l {
	case AutonomyL0:
		return "L0"
	case AutonomyL1:
		return "L1"
	case AutonomyL2:
		return "L2"
	case AutonomyL3:
		return "L3"
	}
	return "L?"
}

// Valid reports whether l is one of the defined autonomy levels.
func (l AutonomyLevel) Valid() bool {
	return l >= AutonomyL0 && l <= AutonomyL3
}

// ParseAutonomyLevel converts "L0".."L3" to an AutonomyLevel.
func ParseAutonomyLevel(s string) (AutonomyLevel, bool) {
	switch s {
	case "L0":
		return AutonomyL0, true
	case "L1":
		return AutonomyL1, true
	case "L2":
		return AutonomyL2, true
	case "L3":
		return AutonomyL3, true
	}
	return AutonomyL0, false
}

// RiskTier classifies a tool by potential impact. Tiers are ordered:
// read < low-risk write < high-risk write < irreversible.
type RiskTier int

const (
	RiskRead RiskTier = iota
	RiskLowWrite
	RiskHighWrite
	RiskIrreversible
)

func (r RiskTier) String() string {
	switch r {
	case RiskRead:
		return "read"
	case RiskLowWrite:
		return "low_write"
	case RiskHighWrite:
		return "high_write"
	case RiskIrreversible:
		return "irreversible"
	}
	return "unknown"
}

// ParseRiskTier converts a tier name back to a RiskTier.
func ParseRiskTier(s string) (RiskTier, bool) {
	switch s {
	case "read":
		return RiskRead, true
	case "low_write":
		return RiskLowWrite, true
	case "high_write":
		return RiskHighWrite, true
	case "irreversible":
		return RiskIrreversible, true
	}
	return RiskRead, false
}

// --- Sessions ---

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	StatusIdle                SessionStatus = "idle"
	StatusPlanning            SessionStatus = "planning"
	StatusExecuting           SessionStatus = "executing"
	StatusWaitingApproval     SessionStatus = "waiting_approval"
	StatusCompleted           SessionStatus = "completed"
	StatusCompletedWithErrors SessionStatus = "completed_with_errors"
	StatusErrored             SessionStatus = "errored"
	StatusInterrupted         SessionStatus = "interrupted"
)

// Session is one ongoing conversation. The runtime owns a session for the
// duration of a turn; it is mutated only by the loop and by explicit
// approve/reject operations. Message history is append-only and insertion
// order is conversation order.
type Session struct {
	ID        string        `json:"id"`
	Principal string        `json:"principal"`
	Autonomy  AutonomyLevel `json:"autonomy"`
	Status    SessionStatus `json:"status"`
	Messages  []ChatMessage `json:"messages,omitempty"`
	CreatedAt int64         `json:"created_at"`
	UpdatedAt int64         `json:"updated_at"`
}

// --- Conversation messages ---

// ChatMessage is one conversational turn. Immutable once appended.
type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"`
	CreatedAt  int64      `json:"created_at,omitempty"`
}

// ToolCall is a completed tool invocation request attached to an assistant
// message.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Args  json.RawMessage `json:"args"`
	Index int             `json:"index"`
}

// Usage holds token counters for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// --- Tool call requests ---

// ToolCallRequest is a candidate invocation reconstructed from the model
// stream. Index locates the call within the turn's output and fixes both
// execution order and result-injection order. ParseErr is set when the
// finished argument payload was not valid JSON; such a call is surfaced as
// a failed call, never retried.
type ToolCallRequest struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args"`
	Index    int             `json:"index"`
	ParseErr error           `json:"-"`
}

// AsToolCall converts the request to the message-history representation.
func (r ToolCallRequest) AsToolCall() ToolCall {
	return ToolCall{ID: r.ID, Name: r.Name, Args: r.Args, Index: r.Index}
}

// --- Plans ---

// PlanStatus is the lifecycle state of a grouped tool-call proposal.
type PlanStatus string

const (
	PlanProposed  PlanStatus = "proposed"
	PlanApproved  PlanStatus = "approved"
	PlanRejected  PlanStatus = "rejected"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// Plan groups three or more tool calls proposed in a single model turn so
// they can be approved or rejected as a unit. Single and dual calls skip
// plan creation and execute directly under the same authorization check.
type Plan struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Purpose   string            `json:"purpose"`
	Steps     []ToolCallRequest `json:"steps"`
	MaxRisk   RiskTier          `json:"max_risk"`
	Status    PlanStatus        `json:"status"`
	CreatedAt int64             `json:"created_at"`
}

// --- Tool results ---

// ToolResult is the outcome of a tool execution. Error carries a
// tool-reported failure message; such failures are structured outcomes,
// not invocation errors, and are never retried.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text, CreatedAt: NowUnix()}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text, CreatedAt: NowUnix()}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text, CreatedAt: NowUnix()}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID, CreatedAt: NowUnix()}
}
