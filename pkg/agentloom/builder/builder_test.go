package builder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloom/agentloom/pkg/agentloom/plan"
	"github.com/agentloom/agentloom/pkg/agentloom/store"
	"github.com/agentloom/agentloom/pkg/agentloom/stream"
)

// fakeStore records writes and fails on demand.
type fakeStore struct {
	agents     []*store.Agent
	behaviours []*store.Behaviour
	memories   []*store.Memory
	statuses   map[string]string

	failCreate     bool
	failBehaviour  string // behaviour name that fails to persist
	failMemory     string // memory content that fails to persist
	failActivation bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: map[string]string{}}
}

func (f *fakeStore) CreateAgent(_ context.Context, a *store.Agent) error {
	if f.failCreate {
		return errors.New("insert failed")
	}
	f.agents = append(f.agents, a)
	f.statuses[a.ID] = a.Status
	return nil
}

func (f *fakeStore) InsertBehaviour(_ context.Context, b *store.Behaviour) error {
	if b.Name == f.failBehaviour {
		return errors.New("insert failed")
	}
	f.behaviours = append(f.behaviours, b)
	return nil
}

func (f *fakeStore) InsertMemory(_ context.Context, m *store.Memory) error {
	if m.Content == f.failMemory {
		return errors.New("insert failed")
	}
	f.memories = append(f.memories, m)
	return nil
}

func (f *fakeStore) UpdateAgentStatus(_ context.Context, id, status string) error {
	if f.failActivation {
		return errors.New("update failed")
	}
	f.statuses[id] = status
	return nil
}

type fakeDispatcher struct {
	dispatched []*store.Behaviour
	err        error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, b *store.Behaviour) error {
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, b)
	return nil
}

func testPlan() *plan.Plan {
	return &plan.Plan{
		Name:         "Inbox Watcher",
		Persona:      "calm",
		Instructions: "watch the inbox",
		Behaviours: []plan.Behaviour{
			{
				Name:        "daily digest",
				Trigger:     plan.Trigger{Kind: plan.TriggerTimeBased, Schedule: "0 9 * * *"},
				Instruction: "summarize the inbox",
			},
			{
				Name:        "new mail",
				Trigger:     plan.Trigger{Kind: plan.TriggerPeriodicPoll, Capability: "gmail"},
				Instruction: "flag urgent mail",
			},
		},
		InitialMemories: []string{"a", "b", "c"},
	}
}

func runBuild(t *testing.T, s Store, d Dispatcher, p *plan.Plan) []stream.Event {
	t.Helper()
	b := New(s, d, nil)
	b.DefaultModel = "test-model"
	b.Pacing = 0

	var buf bytes.Buffer
	w := stream.NewWriter(&buf)
	b.Build(context.Background(), "alice", "watch my inbox", p, w)
	w.Close()

	var events []stream.Event
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var ev stream.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	return events
}

func stageEvents(events []stream.Event) []stream.Event {
	var out []stream.Event
	for _, ev := range events {
		if ev.Type == stream.EventBuildStage {
			out = append(out, ev)
		}
	}
	return out
}

func hasComplete(events []stream.Event) bool {
	for _, ev := range events {
		if ev.Type == stream.EventBuildComplete {
			return true
		}
	}
	return false
}

func TestBuild_HappyPathEmitsSixStagesInOrder(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	d := &fakeDispatcher{}
	events := runBuild(t, s, d, testPlan())

	stages := stageEvents(events)
	require.Len(t, stages, 6)
	want := []string{StageIntent, StageLogic, StageIntegrations, StageMemory, StageSafeguards, StageDeployed}
	for i, ev := range stages {
		assert.Equal(t, want[i], ev.Label)
		assert.Equal(t, stream.StageDone, ev.Status)
	}

	last := events[len(events)-1]
	require.Equal(t, stream.EventBuildComplete, last.Type)
	assert.NotEmpty(t, last.AgentID)
	assert.Equal(t, "Inbox Watcher is live and watching. 2 behaviour(s) active.", last.Summary)

	require.Len(t, s.agents, 1)
	assert.Equal(t, store.AgentActive, s.statuses[s.agents[0].ID])
	assert.Equal(t, "test-model", s.agents[0].Model)
	assert.Len(t, s.behaviours, 2)
	assert.Len(t, d.dispatched, 2)
	assert.Len(t, s.memories, 3)
}

func TestBuild_AgentCreationFailureAborts(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	s.failCreate = true
	events := runBuild(t, s, &fakeDispatcher{}, testPlan())

	stages := stageEvents(events)
	require.Len(t, stages, 2)
	assert.Equal(t, StageLogic, stages[1].Label)
	assert.Equal(t, stream.StageError, stages[1].Status)

	assert.False(t, hasComplete(events))
	assert.Equal(t, stream.EventError, events[len(events)-1].Type)
	assert.Empty(t, s.behaviours)
	assert.Empty(t, s.memories)
}

func TestBuild_BehaviourFailureLeavesAgentDeploying(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	s.failBehaviour = "new mail"
	events := runBuild(t, s, &fakeDispatcher{}, testPlan())

	stages := stageEvents(events)
	require.Len(t, stages, 3)
	assert.Equal(t, StageIntegrations, stages[2].Label)
	assert.Equal(t, stream.StageError, stages[2].Status)

	assert.False(t, hasComplete(events))
	require.Len(t, s.agents, 1)
	assert.Equal(t, store.AgentDeploying, s.statuses[s.agents[0].ID],
		"a failed build leaves the agent record inspectable, never active")
}

func TestBuild_DispatchFailureIsCritical(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	d := &fakeDispatcher{err: errors.New("scheduler down")}
	events := runBuild(t, s, d, testPlan())

	assert.False(t, hasComplete(events))
	require.Len(t, s.agents, 1)
	assert.Equal(t, store.AgentDeploying, s.statuses[s.agents[0].ID])
}

func TestBuild_MemoryFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	s.failMemory = "b"
	events := runBuild(t, s, &fakeDispatcher{}, testPlan())

	assert.True(t, hasComplete(events), "a single bad memory never sinks the build")
	require.Len(t, s.memories, 2)
	assert.Equal(t, "a", s.memories[0].Content)
	assert.Equal(t, "c", s.memories[1].Content)

	stages := stageEvents(events)
	require.Len(t, stages, 6)
	assert.Equal(t, stream.StageDone, stages[3].Status)
}

func TestBuild_ActivationFailureAborts(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	s.failActivation = true
	events := runBuild(t, s, &fakeDispatcher{}, testPlan())

	stages := stageEvents(events)
	require.Len(t, stages, 6)
	assert.Equal(t, StageDeployed, stages[5].Label)
	assert.Equal(t, stream.StageError, stages[5].Status)
	assert.False(t, hasComplete(events))
	assert.Equal(t, stream.EventError, events[len(events)-1].Type)
}

func TestBuild_BehaviourRowsCarryTriggerConfig(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	runBuild(t, s, &fakeDispatcher{}, testPlan())

	require.Len(t, s.behaviours, 2)
	assert.Equal(t, "time-based", s.behaviours[0].TriggerKind)
	var trig plan.Trigger
	require.NoError(t, json.Unmarshal([]byte(s.behaviours[0].TriggerConfig), &trig))
	assert.Equal(t, "0 9 * * *", trig.Schedule)

	assert.Equal(t, "periodic-poll", s.behaviours[1].TriggerKind)
}

func TestSummary(t *testing.T) {
	t.Parallel()

	p := testPlan()
	assert.Equal(t, fmt.Sprintf("%s is live and watching. 2 behaviour(s) active.", p.Name), Summary(p))
}
