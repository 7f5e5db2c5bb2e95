package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloom/agentloom/pkg/agentloom/plan"
)

func inboxPlan() *plan.Plan {
	return &plan.Plan{
		Name: "Inbox Watcher",
		Behaviours: []plan.Behaviour{
			{
				Name:         "daily digest",
				Capabilities: []string{"gmail"},
				Trigger:      plan.Trigger{Kind: plan.TriggerTimeBased, Schedule: "0 9 * * *"},
			},
			{
				Name:    "new mail alert",
				Trigger: plan.Trigger{Kind: plan.TriggerPeriodicPoll, Capability: "gmail"},
			},
			{
				Name:         "post summary",
				Capabilities: []string{"slack"},
				Trigger:      plan.Trigger{Kind: plan.TriggerInboundEvent, Event: "summary_ready"},
			},
		},
	}
}

func TestCheck_MarksMissingConnections(t *testing.T) {
	t.Parallel()

	checks := Check(inboxPlan(), nil)
	require.Len(t, checks, 2)
	assert.Equal(t, plan.CapabilityCheck{Name: "gmail", Required: true, Connected: false}, checks[0])
	assert.Equal(t, plan.CapabilityCheck{Name: "slack", Required: true, Connected: false}, checks[1])
	assert.False(t, plan.AllConnected(checks))
}

func TestCheck_Deterministic(t *testing.T) {
	t.Parallel()

	connected := []string{"slack", "gmail"}
	first := Check(inboxPlan(), connected)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Check(inboxPlan(), connected),
			"same plan and same connected set must produce identical checks")
	}
	assert.True(t, plan.AllConnected(first))
}

func TestCheck_CaseInsensitiveConnections(t *testing.T) {
	t.Parallel()

	p := &plan.Plan{
		Name: "P",
		Behaviours: []plan.Behaviour{
			{Name: "b", Capabilities: []string{"Gmail"}, Trigger: plan.Trigger{Kind: plan.TriggerTimeBased}},
		},
	}
	checks := Check(p, []string{"GMAIL"})
	require.Len(t, checks, 1)
	assert.True(t, checks[0].Connected)
}
