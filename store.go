package steward

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store lookups when the record does not
// exist. Implementations wrap it so callers can test with errors.Is.
var ErrNotFound = errors.New("not found")

// Store abstracts session, message, plan, and event persistence plus the
// per-principal deny list. The runtime treats store failures on session
// and message writes as fatal for the turn; event writes are fire-and-
// forget.
type Store interface {
	// --- Sessions ---
	SaveSession(ctx context.Context, sess Session) error
	// LoadSession returns the session with its full message history.
	LoadSession(ctx context.Context, id string) (Session, error)
	AppendMessage(ctx context.Context, sessionID string, msg ChatMessage) error

	// --- Plans ---
	SavePlan(ctx context.Context, plan Plan) error
	LoadPlan(ctx context.Context, id string) (Plan, error)

	// --- Events ---
	// SaveEvent persists one progress event. Best-effort: the loop logs
	// and continues on failure.
	SaveEvent(ctx context.Context, ev Event) error

	// --- Deny list ---
	// DenyList returns a consistent snapshot of the principal's blocked
	// tools as of the call, never a partially-updated list.
	DenyList(ctx context.Context, principal string) (DenyList, error)
	SetDenyList(ctx context.Context, principal string, deny DenyList) error

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}
