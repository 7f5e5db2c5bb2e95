package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, "sqlite3")
}

func TestAgentLifecycle(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	a := &Agent{ID: "a1", Principal: "alice", Name: "Inbox Watcher", Persona: "calm"}
	require.NoError(t, s.CreateAgent(ctx, a))
	assert.Equal(t, AgentDeploying, a.Status, "new agents start deploying")

	got, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, AgentDeploying, got.Status)
	assert.Equal(t, "Inbox Watcher", got.Name)
	assert.Equal(t, 8, got.MaxSteps)

	require.NoError(t, s.UpdateAgentStatus(ctx, "a1", AgentActive))
	got, err = s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, AgentActive, got.Status)

	_, err = s.GetAgent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateAgentStatus(ctx, "missing", AgentPaused), ErrNotFound)
}

func TestBehaviourNextRun(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAgent(ctx, &Agent{ID: "a1", Principal: "alice", Name: "A"}))
	require.NoError(t, s.UpdateAgentStatus(ctx, "a1", AgentActive))
	require.NoError(t, s.InsertBehaviour(ctx, &Behaviour{
		ID: "b1", AgentID: "a1", Name: "daily digest",
		TriggerKind:   "time-based",
		TriggerConfig: `{"kind":"time-based","schedule":"0 9 * * *"}`,
		Instruction:   "summarize the inbox",
		Enabled:       true,
	}))

	past := time.Now().Add(-time.Minute)
	require.NoError(t, s.SetBehaviourNextRun(ctx, "b1", past))

	due, err := s.ListDueBehaviours(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "b1", due[0].ID)
	assert.WithinDuration(t, past, due[0].NextRunAt, time.Second)

	// Clearing the instant removes it from the due set.
	require.NoError(t, s.SetBehaviourNextRun(ctx, "b1", time.Time{}))
	due, err = s.ListDueBehaviours(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestListDueBehaviours_SkipsInactiveAgents(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAgent(ctx, &Agent{ID: "a1", Principal: "alice", Name: "A"}))
	require.NoError(t, s.InsertBehaviour(ctx, &Behaviour{
		ID: "b1", AgentID: "a1", Name: "n", TriggerKind: "time-based",
		Instruction: "x", Enabled: true, NextRunAt: time.Now().Add(-time.Hour),
	}))

	// Agent is still deploying: nothing is due.
	due, err := s.ListDueBehaviours(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPollTriggerUpsert_NoDuplicateOnRedispatch(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAgent(ctx, &Agent{ID: "a1", Principal: "alice", Name: "A"}))
	require.NoError(t, s.InsertBehaviour(ctx, &Behaviour{
		ID: "b1", AgentID: "a1", Name: "n", TriggerKind: "periodic-poll",
		Instruction: "x", Enabled: true,
	}))

	require.NoError(t, s.UpsertPollTrigger(ctx, &PollTrigger{
		ID: "p1", BehaviourID: "b1", AgentID: "a1", Capability: "gmail",
	}))
	require.NoError(t, s.SetPollTriggerEnabled(ctx, "b1", false))
	require.NoError(t, s.UpsertPollTrigger(ctx, &PollTrigger{
		ID: "p2", BehaviourID: "b1", AgentID: "a1", Capability: "gmail",
	}))

	triggers, err := s.ListPollTriggers(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, triggers, 1, "re-dispatch must not double-register")
	assert.True(t, triggers[0].Enabled, "re-dispatch re-enables the descriptor")
}

func TestMemories(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAgent(ctx, &Agent{ID: "a1", Principal: "alice", Name: "A"}))
	require.NoError(t, s.InsertMemory(ctx, &Memory{ID: "m1", AgentID: "a1", Content: "prefers mornings"}))
	require.NoError(t, s.InsertMemory(ctx, &Memory{ID: "m2", AgentID: "a1", Content: "UTC+2", Kind: "seed", Weight: 0.5}))

	memories, err := s.ListMemories(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, memories, 2)
	assert.Equal(t, "seed", memories[0].Kind, "kind defaults to seed")
	assert.Equal(t, 1.0, memories[0].Weight, "weight defaults to 1.0")
	assert.Equal(t, 0.5, memories[1].Weight)
}

func TestConnections(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx, "alice", "gmail"))
	require.NoError(t, s.Connect(ctx, "alice", "gmail")) // idempotent
	require.NoError(t, s.Connect(ctx, "alice", "calendar"))
	require.NoError(t, s.Connect(ctx, "bob", "slack"))

	got, err := s.ConnectedCapabilities(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"calendar", "gmail"}, got)

	got, err = s.ConnectedCapabilities(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"slack"}, got)
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &Store{postgres: true}
	assert.Equal(t, "SELECT $1, $2", pg.rebind("SELECT ?, ?"))

	lite := &Store{}
	assert.Equal(t, "SELECT ?, ?", lite.rebind("SELECT ?, ?"))
}
