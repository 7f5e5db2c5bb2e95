// Package planner defines the plan provider contract: turning a plain
// language description of an automation into a structured plan, and
// adjusting a proposed plan from user feedback. The pipeline depends only
// on the interfaces here; the Anthropic-backed implementation lives in
// anthropic.go.
package planner

import (
	"context"

	"github.com/agentloom/agentloom/pkg/agentloom/plan"
)

// Provider produces and revises structured plans. Both calls receive the
// full known capability vocabulary, not just the principal's connected
// capabilities, so the provider can suggest triggers that still need a
// connection.
type Provider interface {
	// Propose converts a description into a plan.
	Propose(ctx context.Context, description string, capabilities []string) (*plan.Plan, error)

	// Adjust revises a previously proposed plan from user feedback.
	Adjust(ctx context.Context, current *plan.Plan, feedback string, capabilities []string) (*plan.Plan, error)
}

// Clarifier decides whether a description is ambiguous enough to need
// clarification before proposing. An empty slice means "clear enough,
// proceed".
type Clarifier interface {
	Questions(ctx context.Context, description string) ([]plan.Question, error)
}
