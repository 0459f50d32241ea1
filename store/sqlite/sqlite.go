// Package sqlite implements steward.Store backed by a local SQLite
// file using the pure-Go driver. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/stewardhq/steward"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements steward.Store backed by a local SQLite file.
// Message history, plan steps, and event payloads are stored as JSON
// text columns.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ steward.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			principal TEXT NOT NULL,
			autonomy INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			usage TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			purpose TEXT NOT NULL,
			steps TEXT NOT NULL,
			max_risk TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deny_rules (
			principal TEXT NOT NULL,
			position INTEGER NOT NULL,
			pattern TEXT NOT NULL,
			PRIMARY KEY (principal, position)
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_plans_session ON plans(session_id)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// SaveSession inserts or replaces the session row. Messages are kept in
// their own table and are untouched here.
func (s *Store) SaveSession(ctx context.Context, sess steward.Session) error {
	start := time.Now()
	s.logger.Debug("sqlite: save session", "id", sess.ID, "status", sess.Status)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, principal, autonomy, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Principal, int(sess.Autonomy), string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: save session failed", "id", sess.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save session: %w", err)
	}
	s.logger.Debug("sqlite: save session ok", "id", sess.ID, "duration", time.Since(start))
	return nil
}

// LoadSession returns the session with its full message history in
// append order.
func (s *Store) LoadSession(ctx context.Context, id string) (steward.Session, error) {
	start := time.Now()
	s.logger.Debug("sqlite: load session", "id", id)

	var sess steward.Session
	var autonomy int
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, principal, autonomy, status, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Principal, &autonomy, &status, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return steward.Session{}, fmt.Errorf("session %s: %w", id, steward.ErrNotFound)
	}
	if err != nil {
		return steward.Session{}, fmt.Errorf("load session: %w", err)
	}
	sess.Autonomy = steward.AutonomyLevel(autonomy)
	sess.Status = steward.SessionStatus(status)

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, usage, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq ASC`, id,
	)
	if err != nil {
		return steward.Session{}, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m steward.ChatMessage
		var callsJSON, callID, usageJSON sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &callsJSON, &callID, &usageJSON, &m.CreatedAt); err != nil {
			return steward.Session{}, fmt.Errorf("scan message: %w", err)
		}
		if callsJSON.Valid {
			_ = json.Unmarshal([]byte(callsJSON.String), &m.ToolCalls)
		}
		m.ToolCallID = callID.String
		if usageJSON.Valid {
			var u steward.Usage
			if json.Unmarshal([]byte(usageJSON.String), &u) == nil {
				m.Usage = &u
			}
		}
		sess.Messages = append(sess.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return steward.Session{}, fmt.Errorf("iterate messages: %w", err)
	}
	s.logger.Debug("sqlite: load session ok", "id", id, "messages", len(sess.Messages), "duration", time.Since(start))
	return sess, nil
}

// AppendMessage adds one message to the end of the session history.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg steward.ChatMessage) error {
	start := time.Now()
	s.logger.Debug("sqlite: append message", "session_id", sessionID, "role", msg.Role)

	var callsJSON, usageJSON *string
	if len(msg.ToolCalls) > 0 {
		data, _ := json.Marshal(msg.ToolCalls)
		v := string(data)
		callsJSON = &v
	}
	if msg.Usage != nil {
		data, _ := json.Marshal(msg.Usage)
		v := string(data)
		usageJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, tool_calls, tool_call_id, usage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, msg.Role, msg.Content, callsJSON, msg.ToolCallID, usageJSON, msg.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: append message failed", "session_id", sessionID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// SavePlan inserts or replaces a plan.
func (s *Store) SavePlan(ctx context.Context, plan steward.Plan) error {
	start := time.Now()
	s.logger.Debug("sqlite: save plan", "id", plan.ID, "status", plan.Status)

	steps, err := json.Marshal(plan.Steps)
	if err != nil {
		return fmt.Errorf("marshal plan steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO plans (id, session_id, purpose, steps, max_risk, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.SessionID, plan.Purpose, string(steps), plan.MaxRisk.String(), string(plan.Status), plan.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: save plan failed", "id", plan.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

// LoadPlan returns one plan by id.
func (s *Store) LoadPlan(ctx context.Context, id string) (steward.Plan, error) {
	var plan steward.Plan
	var steps, maxRisk, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, purpose, steps, max_risk, status, created_at FROM plans WHERE id = ?`, id,
	).Scan(&plan.ID, &plan.SessionID, &plan.Purpose, &steps, &maxRisk, &status, &plan.CreatedAt)
	if err == sql.ErrNoRows {
		return steward.Plan{}, fmt.Errorf("plan %s: %w", id, steward.ErrNotFound)
	}
	if err != nil {
		return steward.Plan{}, fmt.Errorf("load plan: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &plan.Steps); err != nil {
		return steward.Plan{}, fmt.Errorf("unmarshal plan steps: %w", err)
	}
	tier, ok := steward.ParseRiskTier(maxRisk)
	if !ok {
		return steward.Plan{}, fmt.Errorf("load plan: unknown risk tier %q", maxRisk)
	}
	plan.MaxRisk = tier
	plan.Status = steward.PlanStatus(status)
	return plan, nil
}

// SaveEvent persists one progress event.
func (s *Store) SaveEvent(ctx context.Context, ev steward.Event) error {
	var payload *string
	if len(ev.Payload) > 0 {
		data, _ := json.Marshal(ev.Payload)
		v := string(data)
		payload = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO events (id, session_id, type, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, string(ev.Type), payload, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// Events returns all events for a session in publish order. Not part of
// steward.Store; used by operators inspecting a session after the fact.
func (s *Store) Events(ctx context.Context, sessionID string) ([]steward.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, type, payload, created_at
		 FROM events WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []steward.Event
	for rows.Next() {
		var ev steward.Event
		var typ string
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.SessionID, &typ, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = steward.EventType(typ)
		if payload.Valid {
			_ = json.Unmarshal([]byte(payload.String), &ev.Payload)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DenyList returns the principal's blocked tool patterns. The single
// shared connection serializes this against SetDenyList, so the snapshot
// is always consistent.
func (s *Store) DenyList(ctx context.Context, principal string) (steward.DenyList, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pattern FROM deny_rules WHERE principal = ? ORDER BY position ASC`, principal,
	)
	if err != nil {
		return nil, fmt.Errorf("deny list: %w", err)
	}
	defer rows.Close()

	var deny steward.DenyList
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan deny rule: %w", err)
		}
		deny = append(deny, p)
	}
	return deny, rows.Err()
}

// SetDenyList atomically replaces the principal's deny list.
func (s *Store) SetDenyList(ctx context.Context, principal string, deny steward.DenyList) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set deny list: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM deny_rules WHERE principal = ?`, principal); err != nil {
		return fmt.Errorf("clear deny rules: %w", err)
	}
	for i, pattern := range deny {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deny_rules (principal, position, pattern) VALUES (?, ?, ?)`,
			principal, i, pattern,
		); err != nil {
			return fmt.Errorf("insert deny rule: %w", err)
		}
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: store closed")
	return s.db.Close()
}
