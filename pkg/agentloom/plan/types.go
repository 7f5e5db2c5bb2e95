// Package plan defines the shared data model for the agent deployment
// pipeline: the structured plan produced by the planner, its behaviours and
// trigger descriptors, capability checks, and the card payloads exchanged
// with the client during negotiation.
package plan

import "strings"

// TriggerKind classifies how a behaviour is activated. The vocabulary is a
// closed list; the dispatcher warns on anything outside it.
type TriggerKind string

const (
	// TriggerTimeBased fires on a schedule (cron expression in the config).
	TriggerTimeBased TriggerKind = "time-based"

	// TriggerInboundEvent fires when an external system calls the agent's
	// webhook route. No registration is needed; the route is passive.
	TriggerInboundEvent TriggerKind = "inbound-event"

	// TriggerPeriodicPoll fires when the external polling worker observes a
	// change in a third-party API.
	TriggerPeriodicPoll TriggerKind = "periodic-poll"
)

// Trigger describes how a behaviour is activated.
type Trigger struct {
	// Kind is one of the TriggerKind constants.
	Kind TriggerKind `json:"kind"`

	// Schedule is a cron expression, set for time-based triggers.
	Schedule string `json:"schedule,omitempty"`

	// Capability names the third-party integration a poll trigger watches
	// (e.g. "gmail"), set for periodic-poll triggers.
	Capability string `json:"capability,omitempty"`

	// Event names the inbound event a webhook trigger listens for.
	Event string `json:"event,omitempty"`
}

// Behaviour is a single automation rule: one trigger plus the instruction
// the agent executes when it fires.
type Behaviour struct {
	Name         string   `json:"name"`
	Trigger      Trigger  `json:"trigger"`
	Instruction  string   `json:"instruction"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Plan is the structured output of the planner. It is immutable once the
// user confirms it; until then it may be replaced wholesale by Adjust.
type Plan struct {
	Name            string      `json:"name"`
	Persona         string      `json:"persona"`
	Instructions    string      `json:"instructions"`
	Behaviours      []Behaviour `json:"behaviours"`
	InitialMemories []string    `json:"initial_memories,omitempty"`
}

// RequiredCapabilities returns the deduplicated capability names referenced
// by the plan's behaviours, in first-seen order.
func (p *Plan) RequiredCapabilities() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	for _, b := range p.Behaviours {
		for _, c := range b.Capabilities {
			add(c)
		}
		if b.Trigger.Kind == TriggerPeriodicPoll {
			add(b.Trigger.Capability)
		}
	}
	return out
}

// CapabilityCheck reports whether one capability a plan depends on is
// connected for the requesting principal.
type CapabilityCheck struct {
	Name      string `json:"name"`
	Required  bool   `json:"required"`
	Connected bool   `json:"connected"`
}

// AllConnected reports whether every required entry is connected.
func AllConnected(checks []CapabilityCheck) bool {
	for _, c := range checks {
		if c.Required && !c.Connected {
			return false
		}
	}
	return true
}

// Message is one turn of the negotiation transcript as resent by the
// client. The transcript is the only durable state between requests.
type Message struct {
	// Role is "user", "assistant" or "card".
	Role string `json:"role"`

	// Content is the text of a user/assistant turn.
	Content string `json:"content"`

	// Card is the card kind for role "card" (see the Card* constants).
	Card string `json:"card,omitempty"`
}

// Answer pairs a questionnaire question with the user's reply.
type Answer struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// Question is one clarification question the pipeline asks before
// proposing a plan.
type Question struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// Card kinds carried by "card" transcript turns and card stream events.
const (
	CardWelcome          = "welcome"
	CardIntegrationCheck = "integration_check"
	CardQuestionnaire    = "questionnaire"
	CardPlan             = "plan"
	CardConfirmation     = "confirmation"
	CardBuildProgress    = "build_progress"
	CardCompletion       = "completion"
	CardErrorRetry       = "error_retry"
)

// Phase is the conversational step the pipeline is in. It is derived per
// request from the transcript and request fields, never stored server-side.
type Phase string

const (
	PhaseInitial               Phase = "initial"
	PhaseAwaitingIntegrations  Phase = "awaiting_integrations"
	PhaseAwaitingQuestionnaire Phase = "awaiting_questionnaire"
	PhaseAwaitingConfirmation  Phase = "awaiting_confirmation"
	PhaseBuilding              Phase = "building"
	PhaseComplete              Phase = "complete"
)
