// Package trigger routes persisted behaviours to the subsystem that
// activates them. Classification is a pure function of the trigger kind:
// time-based behaviours go to the scheduler, periodic-poll behaviours get
// a descriptor row for the external polling worker, and inbound-event
// behaviours need nothing because the webhook route is passive and checks
// agent status at request time.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentloom/agentloom/pkg/agentloom/plan"
	"github.com/agentloom/agentloom/pkg/agentloom/scheduler"
	"github.com/agentloom/agentloom/pkg/agentloom/store"

	"github.com/google/uuid"
)

// Scheduler is the time-based trigger collaborator. Schedule computes and
// persists the behaviour's next run instant; Unschedule clears it.
type Scheduler interface {
	Schedule(ctx context.Context, b *store.Behaviour) error
	Unschedule(ctx context.Context, behaviourID string) error
}

// Store is the slice of the persistence layer the dispatcher needs.
type Store interface {
	UpsertPollTrigger(ctx context.Context, p *store.PollTrigger) error
	SetPollTriggerEnabled(ctx context.Context, behaviourID string, enabled bool) error
	SetBehavioursEnabled(ctx context.Context, agentID string, enabled bool) error
	ListBehaviours(ctx context.Context, agentID string) ([]*store.Behaviour, error)
	UpdateAgentStatus(ctx context.Context, id, status string) error
}

// Dispatcher activates and deactivates behaviour triggers.
type Dispatcher struct {
	store     Store
	scheduler Scheduler
	logger    *slog.Logger
}

// New creates a dispatcher.
func New(s Store, scheduler Scheduler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     s,
		scheduler: scheduler,
		logger:    logger.With("component", "trigger_dispatcher"),
	}
}

// Dispatch routes one behaviour to exactly one trigger subsystem. An
// unrecognized kind is surfaced as a warning, never an error: the build
// must not fail because the plan vocabulary drifted ahead of the
// dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, b *store.Behaviour) error {
	switch plan.TriggerKind(b.TriggerKind) {
	case plan.TriggerTimeBased:
		err := d.scheduler.Schedule(ctx, b)
		if errors.Is(err, scheduler.ErrNoNextRun) {
			// No computable next run is non-fatal to the build; the
			// behaviour simply never fires.
			d.logger.Warn("could not schedule behaviour",
				"behaviour", b.ID, "error", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("schedule behaviour %s: %w", b.ID, err)
		}
		return nil

	case plan.TriggerInboundEvent:
		// Passive: the inbound route consults agent status on delivery.
		return nil

	case plan.TriggerPeriodicPoll:
		trig, err := parseTrigger(b.TriggerConfig)
		if err != nil {
			return fmt.Errorf("behaviour %s: %w", b.ID, err)
		}
		err = d.store.UpsertPollTrigger(ctx, &store.PollTrigger{
			ID:          uuid.NewString(),
			BehaviourID: b.ID,
			AgentID:     b.AgentID,
			Capability:  trig.Capability,
		})
		if err != nil {
			return fmt.Errorf("register poll trigger for %s: %w", b.ID, err)
		}
		return nil

	default:
		d.logger.Warn("no recognized trigger for behaviour",
			"behaviour", b.ID, "kind", b.TriggerKind)
		return nil
	}
}

// Undispatch is the inverse of Dispatch for one behaviour.
func (d *Dispatcher) Undispatch(ctx context.Context, b *store.Behaviour) error {
	switch plan.TriggerKind(b.TriggerKind) {
	case plan.TriggerTimeBased:
		if err := d.scheduler.Unschedule(ctx, b.ID); err != nil {
			return fmt.Errorf("unschedule behaviour %s: %w", b.ID, err)
		}
		return nil

	case plan.TriggerInboundEvent:
		return nil

	case plan.TriggerPeriodicPoll:
		if err := d.store.SetPollTriggerEnabled(ctx, b.ID, false); err != nil {
			return fmt.Errorf("disable poll trigger for %s: %w", b.ID, err)
		}
		return nil

	default:
		d.logger.Warn("no recognized trigger for behaviour",
			"behaviour", b.ID, "kind", b.TriggerKind)
		return nil
	}
}

// DeactivateAgent pauses an agent: all behaviours are disabled and their
// triggers undispatched.
func (d *Dispatcher) DeactivateAgent(ctx context.Context, agentID string) error {
	behaviours, err := d.store.ListBehaviours(ctx, agentID)
	if err != nil {
		return fmt.Errorf("list behaviours: %w", err)
	}
	for _, b := range behaviours {
		if err := d.Undispatch(ctx, b); err != nil {
			return err
		}
	}
	if err := d.store.SetBehavioursEnabled(ctx, agentID, false); err != nil {
		return err
	}
	return d.store.UpdateAgentStatus(ctx, agentID, store.AgentPaused)
}

// ReactivateAgent resumes a paused agent, re-dispatching every behaviour.
// Dispatch is idempotent per behaviour, so a pause/resume cycle never
// double-registers a trigger.
func (d *Dispatcher) ReactivateAgent(ctx context.Context, agentID string) error {
	if err := d.store.SetBehavioursEnabled(ctx, agentID, true); err != nil {
		return err
	}
	behaviours, err := d.store.ListBehaviours(ctx, agentID)
	if err != nil {
		return fmt.Errorf("list behaviours: %w", err)
	}
	for _, b := range behaviours {
		if err := d.Dispatch(ctx, b); err != nil {
			return err
		}
	}
	return d.store.UpdateAgentStatus(ctx, agentID, store.AgentActive)
}

func parseTrigger(config string) (*plan.Trigger, error) {
	var t plan.Trigger
	if err := json.Unmarshal([]byte(config), &t); err != nil {
		return nil, fmt.Errorf("parse trigger config: %w", err)
	}
	return &t, nil
}
