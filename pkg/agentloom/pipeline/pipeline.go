// Package pipeline implements the negotiation state machine that takes a
// conversation from a plain description to a confirmed plan. The server
// holds no session: every request carries the whole transcript plus any
// pending plan and questionnaire answers, and the next phase is derived
// from those alone. Transition rules are evaluated in order, first match
// wins.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentloom/agentloom/pkg/agentloom/capability"
	"github.com/agentloom/agentloom/pkg/agentloom/plan"
	"github.com/agentloom/agentloom/pkg/agentloom/planner"
	"github.com/agentloom/agentloom/pkg/agentloom/stream"
)

// Request is one negotiation turn as sent by the client.
type Request struct {
	// Principal identifies the requesting account.
	Principal string

	// Messages is the full transcript, oldest first.
	Messages []plan.Message

	// Answers are questionnaire replies, set when resuming from the
	// awaiting_questionnaire phase.
	Answers []plan.Answer

	// PendingPlan is the previously proposed plan, set when the latest
	// user turn is feedback on it. The client is the source of truth for
	// which plan is pending; the transcript is never mined for it.
	PendingPlan *plan.Plan

	// IntegrationsConnected asserts that the client has completed the
	// integration step, suppressing a repeat integration_check.
	IntegrationsConnected bool
}

// Pipeline resolves negotiation turns. It is stateless and safe for
// concurrent use; all state arrives with the request.
type Pipeline struct {
	provider   planner.Provider
	clarifier  planner.Clarifier
	registry   capability.Registry
	vocabulary []string
	logger     *slog.Logger
}

// New creates a pipeline. vocabulary is the full capability list handed to
// the provider; if nil, capability.Vocabulary is used.
func New(provider planner.Provider, clarifier planner.Clarifier, registry capability.Registry, vocabulary []string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if vocabulary == nil {
		vocabulary = capability.Vocabulary
	}
	return &Pipeline{
		provider:   provider,
		clarifier:  clarifier,
		registry:   registry,
		vocabulary: vocabulary,
		logger:     logger.With("component", "pipeline"),
	}
}

// IntegrationCheckPayload is the integration_check card payload.
type IntegrationCheckPayload struct {
	Checks []plan.CapabilityCheck `json:"checks"`
}

// QuestionnairePayload is the questionnaire card payload.
type QuestionnairePayload struct {
	Questions []plan.Question `json:"questions"`
}

// ConfirmationPayload is the confirmation card payload.
type ConfirmationPayload struct {
	Prompt string `json:"prompt"`
}

// Resolve runs the transition rules for one request and emits the
// resulting events. It returns the phase the conversation lands in. The
// caller owns the writer and closes it; Resolve never calls Close.
func (p *Pipeline) Resolve(ctx context.Context, req Request, w *stream.Writer) plan.Phase {
	latest := latestUserMessage(req.Messages)

	// Rule 1: a pending plan routes through adjustment, never a fresh
	// proposal. A bare confirmation re-presents the plan unchanged; the
	// actual build is a separate request.
	if req.PendingPlan != nil {
		if isConfirmation(latest) {
			p.emitPlan(w, req.PendingPlan, "Here's the plan again. Confirm to deploy it.")
			return plan.PhaseAwaitingConfirmation
		}
		adjusted, err := p.provider.Adjust(ctx, req.PendingPlan, latest, p.vocabulary)
		if err != nil {
			p.logger.Error("plan adjustment failed", "error", err)
			w.Error("I couldn't revise the plan. Please try again.")
			return plan.PhaseAwaitingConfirmation
		}
		p.emitPlan(w, adjusted, "I've updated the plan with your feedback.")
		return plan.PhaseAwaitingConfirmation
	}

	// Rule 2: synthesize the working description.
	description := workingDescription(req.Messages, req.Answers)

	// Rule 3: propose with the full vocabulary so the provider can
	// suggest triggers the principal hasn't connected yet.
	proposed, err := p.provider.Propose(ctx, description, p.vocabulary)
	if err != nil {
		p.logger.Error("plan proposal failed", "error", err)
		w.Error("I couldn't put together a plan for that. Please try rephrasing.")
		return plan.PhaseInitial
	}

	// Rule 4: capability check.
	connected, err := p.registry.Connected(ctx, req.Principal)
	if err != nil {
		p.logger.Error("capability lookup failed", "principal", req.Principal, "error", err)
		w.Error("I couldn't check your connected integrations. Please try again.")
		return plan.PhaseInitial
	}
	checks := capability.Check(proposed, connected)
	if !plan.AllConnected(checks) && !req.IntegrationsConnected {
		w.Text("This automation needs a few integrations before I can build it.")
		w.TextDone()
		w.Card(plan.CardIntegrationCheck, IntegrationCheckPayload{Checks: checks})
		return plan.PhaseAwaitingIntegrations
	}

	// Rule 5: clarification, unless answers were already supplied.
	if len(req.Answers) == 0 {
		questions, err := p.clarifier.Questions(ctx, description)
		if err != nil {
			// A broken clarifier shouldn't strand the conversation; fall
			// through to the plan.
			p.logger.Warn("clarifier failed, skipping questionnaire", "error", err)
		} else if len(questions) > 0 {
			w.Text("A couple of details first.")
			w.TextDone()
			w.Card(plan.CardQuestionnaire, QuestionnairePayload{Questions: questions})
			return plan.PhaseAwaitingQuestionnaire
		}
	}

	// Rule 6: present the plan.
	p.emitPlan(w, proposed, "Here's what I'll build.")
	return plan.PhaseAwaitingConfirmation
}

func (p *Pipeline) emitPlan(w *stream.Writer, pl *plan.Plan, lead string) {
	w.Text(lead)
	w.TextDone()
	w.Card(plan.CardPlan, pl)
	w.Card(plan.CardConfirmation, ConfirmationPayload{
		Prompt: fmt.Sprintf("Deploy %q with %d behaviour(s)?", pl.Name, len(pl.Behaviours)),
	})
}

// latestUserMessage returns the content of the last user turn.
func latestUserMessage(messages []plan.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

// workingDescription folds the transcript's user turns and any
// questionnaire answers into a single enriched description.
func workingDescription(messages []plan.Message, answers []plan.Answer) string {
	if len(answers) == 0 {
		return latestUserMessage(messages)
	}

	var sb strings.Builder
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(content)
	}

	sb.WriteString("\n\nClarifications:")
	for _, a := range answers {
		fmt.Fprintf(&sb, "\nQ(%s): %s", a.QuestionID, a.Answer)
	}
	return sb.String()
}

// confirmationPhrases are the short replies treated as a structural
// confirmation rather than plan feedback.
var confirmationPhrases = map[string]bool{
	"yes":        true,
	"y":          true,
	"ok":         true,
	"okay":       true,
	"confirm":    true,
	"confirmed":  true,
	"go ahead":   true,
	"do it":      true,
	"build it":   true,
	"ship it":    true,
	"looks good": true,
	"lgtm":       true,
}

func isConfirmation(text string) bool {
	return confirmationPhrases[strings.ToLower(strings.TrimSpace(strings.TrimRight(text, ".!")))]
}
