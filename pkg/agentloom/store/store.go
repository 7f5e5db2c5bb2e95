// Package store – store.go implements the query layer over the agentloom
// database: agents, behaviours, memories, poll trigger descriptors,
// capability connections and webhook deliveries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Agent lifecycle states.
const (
	AgentDeploying = "deploying"
	AgentActive    = "active"
	AgentPaused    = "paused"
	AgentArchived  = "archived"
)

// Agent is a deployed (or deploying) agent record.
type Agent struct {
	ID           string
	Principal    string
	Status       string
	Name         string
	Persona      string
	Instructions string
	Model        string
	MaxSteps     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Behaviour is one persisted trigger+instruction rule.
type Behaviour struct {
	ID            string
	AgentID       string
	Name          string
	TriggerKind   string
	TriggerConfig string // JSON blob, shape depends on the trigger kind.
	Instruction   string
	Enabled       bool
	NextRunAt     time.Time // zero when no run is scheduled
	CreatedAt     time.Time
}

// Memory is one agent memory entry.
type Memory struct {
	ID        string
	AgentID   string
	Content   string
	Kind      string
	Weight    float64
	Source    string
	CreatedAt time.Time
}

// PollTrigger is a descriptor row consumed by the external polling worker.
type PollTrigger struct {
	ID          string
	BehaviourID string
	AgentID     string
	Capability  string
	Enabled     bool
	CreatedAt   time.Time
}

// Store wraps the shared *sql.DB with typed queries. Queries are written
// with ? placeholders and rebound to $N for Postgres drivers.
type Store struct {
	db       *sql.DB
	postgres bool
}

// New creates a store over an opened database. driver is the database/sql
// driver name the handle was opened with ("sqlite3" or "pgx").
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, postgres: driver == "pgx"}
}

// DB exposes the underlying handle for callers that need transactions.
func (s *Store) DB() *sql.DB { return s.db }

// rebind rewrites ? placeholders to $1..$N for Postgres.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ── Agents ──

// CreateAgent inserts a new agent in status 'deploying'.
func (s *Store) CreateAgent(ctx context.Context, a *Agent) error {
	if a.Status == "" {
		a.Status = AgentDeploying
	}
	if a.MaxSteps <= 0 {
		a.MaxSteps = 8
	}
	ts := now()
	_, err := s.exec(ctx, `
		INSERT INTO agents (id, principal, status, name, persona, instructions, model, max_steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Principal, a.Status, a.Name, a.Persona, a.Instructions, a.Model, a.MaxSteps, ts, ts)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// UpdateAgentStatus transitions an agent's lifecycle state.
func (s *Store) UpdateAgentStatus(ctx context.Context, id, status string) error {
	res, err := s.exec(ctx,
		`UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`,
		status, now(), id)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAgent loads one agent by ID.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.queryRow(ctx, `
		SELECT id, principal, status, name, persona, instructions, model, max_steps, created_at, updated_at
		FROM agents WHERE id = ?`, id)

	var a Agent
	var created, updated string
	err := row.Scan(&a.ID, &a.Principal, &a.Status, &a.Name, &a.Persona,
		&a.Instructions, &a.Model, &a.MaxSteps, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}

// ListAgents returns all agents for a principal, newest first.
func (s *Store) ListAgents(ctx context.Context, principal string) ([]*Agent, error) {
	rows, err := s.query(ctx, `
		SELECT id, principal, status, name, persona, instructions, model, max_steps, created_at, updated_at
		FROM agents WHERE principal = ? ORDER BY created_at DESC`, principal)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		var a Agent
		var created, updated string
		if err := rows.Scan(&a.ID, &a.Principal, &a.Status, &a.Name, &a.Persona,
			&a.Instructions, &a.Model, &a.MaxSteps, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.CreatedAt = parseTime(created)
		a.UpdatedAt = parseTime(updated)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ── Behaviours ──

// InsertBehaviour persists one behaviour row.
func (s *Store) InsertBehaviour(ctx context.Context, b *Behaviour) error {
	next := ""
	if !b.NextRunAt.IsZero() {
		next = b.NextRunAt.UTC().Format(time.RFC3339)
	}
	_, err := s.exec(ctx, `
		INSERT INTO behaviours (id, agent_id, name, trigger_kind, trigger_config, instruction, enabled, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.AgentID, b.Name, b.TriggerKind, b.TriggerConfig, b.Instruction,
		boolInt(b.Enabled), next, now())
	if err != nil {
		return fmt.Errorf("insert behaviour: %w", err)
	}
	return nil
}

// ListBehaviours returns an agent's behaviours in creation order.
func (s *Store) ListBehaviours(ctx context.Context, agentID string) ([]*Behaviour, error) {
	rows, err := s.query(ctx, `
		SELECT id, agent_id, name, trigger_kind, trigger_config, instruction, enabled, next_run_at, created_at
		FROM behaviours WHERE agent_id = ? ORDER BY created_at, id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list behaviours: %w", err)
	}
	defer rows.Close()
	return scanBehaviours(rows)
}

// ListDueBehaviours returns enabled time-based behaviours whose next run
// is at or before the given instant, for agents that are active.
func (s *Store) ListDueBehaviours(ctx context.Context, at time.Time) ([]*Behaviour, error) {
	rows, err := s.query(ctx, `
		SELECT b.id, b.agent_id, b.name, b.trigger_kind, b.trigger_config, b.instruction, b.enabled, b.next_run_at, b.created_at
		FROM behaviours b JOIN agents a ON a.id = b.agent_id
		WHERE b.enabled = 1 AND a.status = ? AND b.next_run_at != '' AND b.next_run_at <= ?
		ORDER BY b.next_run_at`,
		AgentActive, at.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("list due behaviours: %w", err)
	}
	defer rows.Close()
	return scanBehaviours(rows)
}

// SetBehaviourNextRun records (or clears, with a zero time) the next run
// instant of a time-based behaviour.
func (s *Store) SetBehaviourNextRun(ctx context.Context, behaviourID string, at time.Time) error {
	next := ""
	if !at.IsZero() {
		next = at.UTC().Format(time.RFC3339)
	}
	res, err := s.exec(ctx,
		`UPDATE behaviours SET next_run_at = ? WHERE id = ?`, next, behaviourID)
	if err != nil {
		return fmt.Errorf("set next run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBehavioursEnabled toggles all behaviours of an agent.
func (s *Store) SetBehavioursEnabled(ctx context.Context, agentID string, enabled bool) error {
	_, err := s.exec(ctx,
		`UPDATE behaviours SET enabled = ? WHERE agent_id = ?`, boolInt(enabled), agentID)
	if err != nil {
		return fmt.Errorf("toggle behaviours: %w", err)
	}
	return nil
}

func scanBehaviours(rows *sql.Rows) ([]*Behaviour, error) {
	var out []*Behaviour
	for rows.Next() {
		var b Behaviour
		var enabled int
		var next, created string
		if err := rows.Scan(&b.ID, &b.AgentID, &b.Name, &b.TriggerKind, &b.TriggerConfig,
			&b.Instruction, &enabled, &next, &created); err != nil {
			return nil, fmt.Errorf("scan behaviour: %w", err)
		}
		b.Enabled = enabled != 0
		b.NextRunAt = parseTime(next)
		b.CreatedAt = parseTime(created)
		out = append(out, &b)
	}
	return out, rows.Err()
}

// ── Memories ──

// InsertMemory persists one agent memory.
func (s *Store) InsertMemory(ctx context.Context, m *Memory) error {
	if m.Kind == "" {
		m.Kind = "seed"
	}
	if m.Weight == 0 {
		m.Weight = 1.0
	}
	_, err := s.exec(ctx, `
		INSERT INTO agent_memories (id, agent_id, content, kind, weight, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AgentID, m.Content, m.Kind, m.Weight, m.Source, now())
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// ListMemories returns an agent's memories in creation order.
func (s *Store) ListMemories(ctx context.Context, agentID string) ([]*Memory, error) {
	rows, err := s.query(ctx, `
		SELECT id, agent_id, content, kind, weight, source, created_at
		FROM agent_memories WHERE agent_id = ? ORDER BY created_at, id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		var m Memory
		var created string
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Content, &m.Kind, &m.Weight, &m.Source, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.CreatedAt = parseTime(created)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ── Poll triggers ──

// UpsertPollTrigger creates or re-enables the poll descriptor for a
// behaviour. The behaviour_id UNIQUE constraint makes repeat dispatch
// after a deactivate/activate cycle update in place instead of
// double-registering.
func (s *Store) UpsertPollTrigger(ctx context.Context, p *PollTrigger) error {
	_, err := s.exec(ctx, `
		INSERT INTO poll_triggers (id, behaviour_id, agent_id, capability, enabled, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (behaviour_id) DO UPDATE SET capability = excluded.capability, enabled = 1`,
		p.ID, p.BehaviourID, p.AgentID, p.Capability, now())
	if err != nil {
		return fmt.Errorf("upsert poll trigger: %w", err)
	}
	return nil
}

// SetPollTriggerEnabled toggles the poll descriptor of one behaviour.
func (s *Store) SetPollTriggerEnabled(ctx context.Context, behaviourID string, enabled bool) error {
	_, err := s.exec(ctx,
		`UPDATE poll_triggers SET enabled = ? WHERE behaviour_id = ?`, boolInt(enabled), behaviourID)
	if err != nil {
		return fmt.Errorf("toggle poll trigger: %w", err)
	}
	return nil
}

// SetPollTriggersEnabled toggles all poll descriptors of an agent.
func (s *Store) SetPollTriggersEnabled(ctx context.Context, agentID string, enabled bool) error {
	_, err := s.exec(ctx,
		`UPDATE poll_triggers SET enabled = ? WHERE agent_id = ?`, boolInt(enabled), agentID)
	if err != nil {
		return fmt.Errorf("toggle poll triggers: %w", err)
	}
	return nil
}

// ListPollTriggers returns an agent's poll descriptors.
func (s *Store) ListPollTriggers(ctx context.Context, agentID string) ([]*PollTrigger, error) {
	rows, err := s.query(ctx, `
		SELECT id, behaviour_id, agent_id, capability, enabled, created_at
		FROM poll_triggers WHERE agent_id = ? ORDER BY created_at, id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list poll triggers: %w", err)
	}
	defer rows.Close()

	var out []*PollTrigger
	for rows.Next() {
		var p PollTrigger
		var enabled int
		var created string
		if err := rows.Scan(&p.ID, &p.BehaviourID, &p.AgentID, &p.Capability, &enabled, &created); err != nil {
			return nil, fmt.Errorf("scan poll trigger: %w", err)
		}
		p.Enabled = enabled != 0
		p.CreatedAt = parseTime(created)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ── Connections ──

// Connect records a capability connection for a principal (idempotent).
func (s *Store) Connect(ctx context.Context, principal, capability string) error {
	_, err := s.exec(ctx, `
		INSERT INTO connections (principal, capability, connected_at)
		VALUES (?, ?, ?)
		ON CONFLICT (principal, capability) DO NOTHING`,
		principal, capability, now())
	if err != nil {
		return fmt.Errorf("connect capability: %w", err)
	}
	return nil
}

// ConnectedCapabilities returns the capability names a principal has
// connected, sorted by name.
func (s *Store) ConnectedCapabilities(ctx context.Context, principal string) ([]string, error) {
	rows, err := s.query(ctx,
		`SELECT capability FROM connections WHERE principal = ? ORDER BY capability`, principal)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ── Webhook events ──

// RecordWebhookEvent stores one inbound delivery for an inbound-event
// behaviour.
func (s *Store) RecordWebhookEvent(ctx context.Context, id, agentID, behaviourID, payload string) error {
	if payload == "" {
		payload = "{}"
	}
	_, err := s.exec(ctx, `
		INSERT INTO webhook_events (id, agent_id, behaviour_id, payload, received_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, agentID, behaviourID, payload, now())
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
