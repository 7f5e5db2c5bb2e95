package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloom/agentloom/pkg/agentloom/plan"
	"github.com/agentloom/agentloom/pkg/agentloom/stream"
)

type fakeProvider struct {
	proposed   *plan.Plan
	adjusted   *plan.Plan
	proposeErr error
	adjustErr  error

	proposeCalls    int
	adjustCalls     int
	lastDescription string
	lastFeedback    string
	lastCaps        []string
}

func (f *fakeProvider) Propose(_ context.Context, description string, capabilities []string) (*plan.Plan, error) {
	f.proposeCalls++
	f.lastDescription = description
	f.lastCaps = capabilities
	return f.proposed, f.proposeErr
}

func (f *fakeProvider) Adjust(_ context.Context, _ *plan.Plan, feedback string, capabilities []string) (*plan.Plan, error) {
	f.adjustCalls++
	f.lastFeedback = feedback
	f.lastCaps = capabilities
	return f.adjusted, f.adjustErr
}

type fakeClarifier struct {
	questions []plan.Question
	err       error
	calls     int
}

func (f *fakeClarifier) Questions(context.Context, string) ([]plan.Question, error) {
	f.calls++
	return f.questions, f.err
}

type fakeRegistry struct {
	connected []string
	err       error
}

func (f *fakeRegistry) Connected(context.Context, string) ([]string, error) {
	return f.connected, f.err
}

func gmailPlan() *plan.Plan {
	return &plan.Plan{
		Name:         "Inbox Watcher",
		Persona:      "succinct",
		Instructions: "watch and summarize",
		Behaviours: []plan.Behaviour{{
			Name:         "daily digest",
			Capabilities: []string{"gmail"},
			Instruction:  "summarize the inbox",
			Trigger:      plan.Trigger{Kind: plan.TriggerTimeBased, Schedule: "0 9 * * *"},
		}},
	}
}

func resolve(t *testing.T, p *Pipeline, req Request) (plan.Phase, []stream.Event) {
	t.Helper()
	var buf bytes.Buffer
	w := stream.NewWriter(&buf)
	phase := p.Resolve(context.Background(), req, w)
	w.Close()

	var events []stream.Event
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var ev stream.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	return phase, events
}

// terminalCards returns the emitted card kinds that end a negotiation
// turn (plan counts once; its confirmation partner is checked separately).
func terminalCards(events []stream.Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type != stream.EventCard {
			continue
		}
		switch ev.Card {
		case plan.CardIntegrationCheck, plan.CardQuestionnaire, plan.CardPlan:
			out = append(out, ev.Card)
		}
	}
	return out
}

func userTurn(content string) Request {
	return Request{
		Principal: "alice",
		Messages:  []plan.Message{{Role: "user", Content: content}},
	}
}

func TestResolve_IntegrationCheckWhenCapabilityMissing(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{proposed: gmailPlan()}
	p := New(provider, &fakeClarifier{}, &fakeRegistry{}, nil, nil)

	phase, events := resolve(t, p, userTurn("watch my inbox and summarize it daily"))

	assert.Equal(t, plan.PhaseAwaitingIntegrations, phase)
	require.Equal(t, []string{plan.CardIntegrationCheck}, terminalCards(events))

	last := events[len(events)-1]
	require.Equal(t, stream.EventCard, last.Type)
	payload, ok := last.Payload.(map[string]any)
	require.True(t, ok)
	checks, ok := payload["checks"].([]any)
	require.True(t, ok)
	require.Len(t, checks, 1)
	entry := checks[0].(map[string]any)
	assert.Equal(t, "gmail", entry["name"])
	assert.Equal(t, true, entry["required"])
	assert.Equal(t, false, entry["connected"])
}

func TestResolve_PlanAndConfirmationWhenConnected(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{proposed: gmailPlan()}
	p := New(provider, &fakeClarifier{}, &fakeRegistry{connected: []string{"gmail"}}, nil, nil)

	req := userTurn("watch my inbox and summarize it daily")
	req.IntegrationsConnected = true
	phase, events := resolve(t, p, req)

	assert.Equal(t, plan.PhaseAwaitingConfirmation, phase)

	var cards []string
	for _, ev := range events {
		if ev.Type == stream.EventCard {
			cards = append(cards, ev.Card)
		}
	}
	assert.Equal(t, []string{plan.CardPlan, plan.CardConfirmation}, cards)
}

func TestResolve_ProposeGetsFullVocabularyNotJustConnected(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{proposed: gmailPlan()}
	vocab := []string{"gmail", "slack", "calendar"}
	p := New(provider, &fakeClarifier{}, &fakeRegistry{connected: []string{"gmail"}}, vocab, nil)

	resolve(t, p, userTurn("watch my inbox"))
	assert.Equal(t, vocab, provider.lastCaps,
		"the provider may suggest triggers for capabilities not yet connected")
}

func TestResolve_QuestionnaireWhenAmbiguous(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{proposed: gmailPlan()}
	clarifier := &fakeClarifier{questions: []plan.Question{{ID: "q1", Prompt: "Which inbox?"}}}
	p := New(provider, clarifier, &fakeRegistry{connected: []string{"gmail"}}, nil, nil)

	phase, events := resolve(t, p, userTurn("watch my inbox"))

	assert.Equal(t, plan.PhaseAwaitingQuestionnaire, phase)
	assert.Equal(t, []string{plan.CardQuestionnaire}, terminalCards(events))
}

func TestResolve_AnswersSkipQuestionnaireAndEnrichDescription(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{proposed: gmailPlan()}
	clarifier := &fakeClarifier{questions: []plan.Question{{ID: "q1", Prompt: "Which inbox?"}}}
	p := New(provider, clarifier, &fakeRegistry{connected: []string{"gmail"}}, nil, nil)

	req := Request{
		Principal: "alice",
		Messages: []plan.Message{
			{Role: "user", Content: "watch my inbox"},
			{Role: "card", Card: plan.CardQuestionnaire},
			{Role: "user", Content: "the work one"},
		},
		Answers: []plan.Answer{{QuestionID: "q1", Answer: "work Gmail"}},
	}
	phase, events := resolve(t, p, req)

	assert.Equal(t, plan.PhaseAwaitingConfirmation, phase)
	assert.Equal(t, []string{plan.CardPlan}, terminalCards(events))
	assert.Equal(t, 0, clarifier.calls, "answers suppress a second questionnaire")

	assert.Contains(t, provider.lastDescription, "watch my inbox")
	assert.Contains(t, provider.lastDescription, "the work one")
	assert.Contains(t, provider.lastDescription, "Q(q1): work Gmail")
}

func TestResolve_PendingPlanRoutesThroughAdjustment(t *testing.T) {
	t.Parallel()

	adjusted := gmailPlan()
	adjusted.Name = "Inbox Watcher v2"
	provider := &fakeProvider{adjusted: adjusted}
	p := New(provider, &fakeClarifier{}, &fakeRegistry{}, nil, nil)

	req := userTurn("also post the summary to slack")
	req.PendingPlan = gmailPlan()
	phase, events := resolve(t, p, req)

	assert.Equal(t, plan.PhaseAwaitingConfirmation, phase)
	assert.Equal(t, 1, provider.adjustCalls)
	assert.Equal(t, 0, provider.proposeCalls, "a pending plan never routes through fresh proposal")
	assert.Equal(t, "also post the summary to slack", provider.lastFeedback)
	assert.Equal(t, []string{plan.CardPlan}, terminalCards(events))
}

func TestResolve_PendingPlanConfirmationSkipsAdjust(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	p := New(provider, &fakeClarifier{}, &fakeRegistry{}, nil, nil)

	req := userTurn("yes")
	req.PendingPlan = gmailPlan()
	phase, events := resolve(t, p, req)

	assert.Equal(t, plan.PhaseAwaitingConfirmation, phase)
	assert.Equal(t, 0, provider.adjustCalls)
	assert.Equal(t, 0, provider.proposeCalls)
	assert.Equal(t, []string{plan.CardPlan}, terminalCards(events))
}

func TestResolve_ExactlyOneTerminalCard(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		clarifier *fakeClarifier
		registry  *fakeRegistry
		asserted  bool
	}{
		{"missing integrations", &fakeClarifier{}, &fakeRegistry{}, false},
		{"ambiguous", &fakeClarifier{questions: []plan.Question{{ID: "q1", Prompt: "?"}}}, &fakeRegistry{connected: []string{"gmail"}}, false},
		{"clean", &fakeClarifier{}, &fakeRegistry{connected: []string{"gmail"}}, false},
		{"asserted but unconnected", &fakeClarifier{}, &fakeRegistry{}, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := New(&fakeProvider{proposed: gmailPlan()}, tc.clarifier, tc.registry, nil, nil)
			req := userTurn("watch my inbox and summarize it daily")
			req.IntegrationsConnected = tc.asserted
			_, events := resolve(t, p, req)
			assert.Len(t, terminalCards(events), 1,
				"every turn ends in exactly one terminal card")
		})
	}
}

func TestResolve_ProviderFailureEmitsErrorEvent(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{proposeErr: errors.New("model unavailable")}
	p := New(provider, &fakeClarifier{}, &fakeRegistry{}, nil, nil)

	phase, events := resolve(t, p, userTurn("watch my inbox"))

	assert.Equal(t, plan.PhaseInitial, phase)
	require.Len(t, events, 1)
	assert.Equal(t, stream.EventError, events[0].Type)
	assert.NotEmpty(t, events[0].Message)
	assert.False(t, strings.Contains(events[0].Message, "model unavailable"),
		"internal errors are not leaked to the client")
}

func TestResolve_ClarifierFailureFallsThroughToPlan(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{proposed: gmailPlan()}
	clarifier := &fakeClarifier{err: errors.New("clarifier down")}
	p := New(provider, clarifier, &fakeRegistry{connected: []string{"gmail"}}, nil, nil)

	phase, events := resolve(t, p, userTurn("watch my inbox"))
	assert.Equal(t, plan.PhaseAwaitingConfirmation, phase)
	assert.Equal(t, []string{plan.CardPlan}, terminalCards(events))
}
