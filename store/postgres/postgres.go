// Package postgres implements steward.Store using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stewardhq/steward"
)

// Store implements steward.Store backed by PostgreSQL. Message history,
// plan steps, and event payloads are stored as JSONB.
type Store struct {
	pool *pgxpool.Pool
}

var _ steward.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			principal TEXT NOT NULL,
			autonomy INT NOT NULL,
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls JSONB,
			tool_call_id TEXT NOT NULL DEFAULT '',
			usage JSONB,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			purpose TEXT NOT NULL,
			steps JSONB NOT NULL,
			max_risk TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			payload JSONB,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deny_rules (
			principal TEXT NOT NULL,
			position INT NOT NULL,
			pattern TEXT NOT NULL,
			PRIMARY KEY (principal, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_session ON plans(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	return nil
}

// SaveSession upserts the session row. Messages live in their own table
// and are untouched here.
func (s *Store) SaveSession(ctx context.Context, sess steward.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, principal, autonomy, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			principal = EXCLUDED.principal,
			autonomy = EXCLUDED.autonomy,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		sess.ID, sess.Principal, int(sess.Autonomy), string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession returns the session with its full message history in
// append order.
func (s *Store) LoadSession(ctx context.Context, id string) (steward.Session, error) {
	var sess steward.Session
	var autonomy int
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, principal, autonomy, status, created_at, updated_at FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.Principal, &autonomy, &status, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return steward.Session{}, fmt.Errorf("session %s: %w", id, steward.ErrNotFound)
	}
	if err != nil {
		return steward.Session{}, fmt.Errorf("load session: %w", err)
	}
	sess.Autonomy = steward.AutonomyLevel(autonomy)
	sess.Status = steward.SessionStatus(status)

	rows, err := s.pool.Query(ctx,
		`SELECT role, content, tool_calls, tool_call_id, usage, created_at
		 FROM messages WHERE session_id = $1 ORDER BY seq ASC`, id,
	)
	if err != nil {
		return steward.Session{}, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m steward.ChatMessage
		var callsJSON, usageJSON []byte
		if err := rows.Scan(&m.Role, &m.Content, &callsJSON, &m.ToolCallID, &usageJSON, &m.CreatedAt); err != nil {
			return steward.Session{}, fmt.Errorf("scan message: %w", err)
		}
		if len(callsJSON) > 0 {
			_ = json.Unmarshal(callsJSON, &m.ToolCalls)
		}
		if len(usageJSON) > 0 {
			var u steward.Usage
			if json.Unmarshal(usageJSON, &u) == nil {
				m.Usage = &u
			}
		}
		sess.Messages = append(sess.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return steward.Session{}, fmt.Errorf("iterate messages: %w", err)
	}
	return sess, nil
}

// AppendMessage adds one message to the end of the session history.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg steward.ChatMessage) error {
	var callsJSON, usageJSON []byte
	if len(msg.ToolCalls) > 0 {
		callsJSON, _ = json.Marshal(msg.ToolCalls)
	}
	if msg.Usage != nil {
		usageJSON, _ = json.Marshal(msg.Usage)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (session_id, role, content, tool_calls, tool_call_id, usage, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sessionID, msg.Role, msg.Content, callsJSON, msg.ToolCallID, usageJSON, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// SavePlan upserts a plan.
func (s *Store) SavePlan(ctx context.Context, plan steward.Plan) error {
	steps, err := json.Marshal(plan.Steps)
	if err != nil {
		return fmt.Errorf("marshal plan steps: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO plans (id, session_id, purpose, steps, max_risk, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, steps = EXCLUDED.steps`,
		plan.ID, plan.SessionID, plan.Purpose, steps, plan.MaxRisk.String(), string(plan.Status), plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

// LoadPlan returns one plan by id.
func (s *Store) LoadPlan(ctx context.Context, id string) (steward.Plan, error) {
	var plan steward.Plan
	var steps []byte
	var maxRisk, status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, purpose, steps, max_risk, status, created_at FROM plans WHERE id = $1`, id,
	).Scan(&plan.ID, &plan.SessionID, &plan.Purpose, &steps, &maxRisk, &status, &plan.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return steward.Plan{}, fmt.Errorf("plan %s: %w", id, steward.ErrNotFound)
	}
	if err != nil {
		return steward.Plan{}, fmt.Errorf("load plan: %w", err)
	}
	if err := json.Unmarshal(steps, &plan.Steps); err != nil {
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
	var payload []byte
	if len(ev.Payload) > 0 {
		payload, _ = json.Marshal(ev.Payload)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, session_id, type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.SessionID, string(ev.Type), payload, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// DenyList returns the principal's blocked tool patterns as a single
// consistent snapshot.
func (s *Store) DenyList(ctx context.Context, principal string) (steward.DenyList, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pattern FROM deny_rules WHERE principal = $1 ORDER BY position ASC`, principal,
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

// SetDenyList atomically replaces the principal's deny list in one
// transaction.
func (s *Store) SetDenyList(ctx context.Context, principal string, deny steward.DenyList) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("set deny list: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM deny_rules WHERE principal = $1`, principal); err != nil {
		return fmt.Errorf("clear deny rules: %w", err)
	}
	for i, pattern := range deny {
		if _, err := tx.Exec(ctx,
			`INSERT INTO deny_rules (principal, position, pattern) VALUES ($1, $2, $3)`,
			principal, i, pattern,
		); err != nil {
			return fmt.Errorf("insert deny rule: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Close is a no-op; the caller owns the pool.
func (s *Store) Close() error { return nil }
