// Package builder executes the provisioning transaction that turns a
// confirmed plan into a deployed agent. Stages run in a fixed order and
// each is reported on the stream as it resolves. Stages 2, 3 and 6 are
// critical: failure aborts the build and leaves the agent record in
// 'deploying' so it stays inspectable. Memory seeding is non-fatal per
// item; the pacing stage has no side effect at all.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentloom/agentloom/pkg/agentloom/plan"
	"github.com/agentloom/agentloom/pkg/agentloom/store"
	"github.com/agentloom/agentloom/pkg/agentloom/stream"
)

// Store is the slice of the persistence layer the builder writes through.
type Store interface {
	CreateAgent(ctx context.Context, a *store.Agent) error
	InsertBehaviour(ctx context.Context, b *store.Behaviour) error
	InsertMemory(ctx context.Context, m *store.Memory) error
	UpdateAgentStatus(ctx context.Context, id, status string) error
}

// Dispatcher routes a persisted behaviour to its trigger subsystem.
type Dispatcher interface {
	Dispatch(ctx context.Context, b *store.Behaviour) error
}

// Stage labels, in build order.
const (
	StageIntent       = "Intent analysed"
	StageLogic        = "Execution logic generated"
	StageIntegrations = "Integrations validated"
	StageMemory       = "Memory seeded"
	StageSafeguards   = "Safeguards applied"
	StageDeployed     = "Agent deployed"
)

// Builder provisions agents from confirmed plans.
type Builder struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger

	// DefaultModel is stamped onto new agent records.
	DefaultModel string

	// Pacing is the fixed duration of the safeguards stage. Zero skips
	// the pause (used by tests).
	Pacing time.Duration
}

// New creates a builder.
func New(s Store, d Dispatcher, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		store:      s,
		dispatcher: d,
		logger:     logger.With("component", "builder"),
		Pacing:     1500 * time.Millisecond,
	}
}

// Build runs all stages and emits build_stage events followed by exactly
// one terminal event: build_complete on success, error on a critical
// failure. The caller owns the writer and closes it afterwards.
func (b *Builder) Build(ctx context.Context, principal, description string, p *plan.Plan, w *stream.Writer) {
	b.logger.Info("build started",
		"principal", principal, "plan", p.Name, "description_chars", len(description))

	// Stage 1: no work; exists for continuity with the negotiation phase.
	w.BuildStage(StageIntent, stream.StageDone)

	// Stage 2 (critical): create the agent record in 'deploying'.
	agent := &store.Agent{
		ID:           uuid.NewString(),
		Principal:    principal,
		Status:       store.AgentDeploying,
		Name:         p.Name,
		Persona:      p.Persona,
		Instructions: p.Instructions,
		Model:        b.DefaultModel,
	}
	if err := b.store.CreateAgent(ctx, agent); err != nil {
		b.logger.Error("agent creation failed", "error", err)
		w.BuildStage(StageLogic, stream.StageError)
		w.Error("Deployment failed while generating the agent. Nothing was activated.")
		return
	}
	w.BuildStage(StageLogic, stream.StageDone)

	// Stage 3 (critical): persist behaviours and register their triggers.
	if err := b.provisionBehaviours(ctx, agent.ID, p); err != nil {
		b.logger.Error("behaviour provisioning failed", "agent", agent.ID, "error", err)
		w.BuildStage(StageIntegrations, stream.StageError)
		w.Error("Deployment failed while wiring up the agent's triggers. The agent was not activated.")
		return
	}
	w.BuildStage(StageIntegrations, stream.StageDone)

	// Stage 4 (non-fatal per item): seed memories independently.
	b.seedMemories(ctx, agent.ID, p)
	w.BuildStage(StageMemory, stream.StageDone)

	// Stage 5: UX pacing only.
	if b.Pacing > 0 {
		select {
		case <-time.After(b.Pacing):
		case <-ctx.Done():
		}
	}
	w.BuildStage(StageSafeguards, stream.StageDone)

	// Stage 6 (critical): promote to active.
	if err := b.store.UpdateAgentStatus(ctx, agent.ID, store.AgentActive); err != nil {
		b.logger.Error("agent activation failed", "agent", agent.ID, "error", err)
		w.BuildStage(StageDeployed, stream.StageError)
		w.Error("Deployment failed at the final step. The agent was not activated.")
		return
	}
	w.BuildStage(StageDeployed, stream.StageDone)

	w.Complete(agent.ID, Summary(p))
	b.logger.Info("agent deployed",
		"agent", agent.ID, "name", p.Name, "behaviours", len(p.Behaviours))
}

// Summary renders the deterministic completion message.
func Summary(p *plan.Plan) string {
	return fmt.Sprintf("%s is live and watching. %d behaviour(s) active.",
		p.Name, len(p.Behaviours))
}

// provisionBehaviours materializes each behaviour as a row and routes it
// through the trigger dispatcher. Any persistence failure is fatal.
func (b *Builder) provisionBehaviours(ctx context.Context, agentID string, p *plan.Plan) error {
	for i := range p.Behaviours {
		pb := &p.Behaviours[i]

		config, err := json.Marshal(pb.Trigger)
		if err != nil {
			return fmt.Errorf("marshal trigger for %q: %w", pb.Name, err)
		}

		row := &store.Behaviour{
			ID:            uuid.NewString(),
			AgentID:       agentID,
			Name:          pb.Name,
			TriggerKind:   string(pb.Trigger.Kind),
			TriggerConfig: string(config),
			Instruction:   pb.Instruction,
			Enabled:       true,
		}
		if err := b.store.InsertBehaviour(ctx, row); err != nil {
			return fmt.Errorf("persist behaviour %q: %w", pb.Name, err)
		}
		if err := b.dispatcher.Dispatch(ctx, row); err != nil {
			return fmt.Errorf("dispatch behaviour %q: %w", pb.Name, err)
		}
	}
	return nil
}

// seedMemories writes each initial memory independently. A single failed
// write is logged and skipped; it never aborts the stage or the build.
func (b *Builder) seedMemories(ctx context.Context, agentID string, p *plan.Plan) {
	for _, content := range p.InitialMemories {
		m := &store.Memory{
			ID:      uuid.NewString(),
			AgentID: agentID,
			Content: content,
			Kind:    "seed",
			Source:  "plan",
		}
		if err := b.store.InsertMemory(ctx, m); err != nil {
			b.logger.Warn("memory seed failed, skipping",
				"agent", agentID, "error", err)
		}
	}
}
