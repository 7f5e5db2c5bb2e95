// Package capability tracks which third-party integrations a principal has
// connected and computes the capability checklist for a proposed plan.
package capability

import (
	"context"
	"strings"

	"github.com/agentloom/agentloom/pkg/agentloom/plan"
	"github.com/agentloom/agentloom/pkg/agentloom/store"
)

// Vocabulary is the closed list of capability names the planner may use.
// OAuth wiring for each lives outside this core; the pipeline only needs
// the names.
var Vocabulary = []string{
	"gmail",
	"calendar",
	"slack",
	"discord",
	"github",
	"notion",
	"rss",
	"http",
}

// Registry answers which capabilities the requesting principal currently
// has connected.
type Registry interface {
	Connected(ctx context.Context, principal string) ([]string, error)
}

// StoreRegistry reads connections from the database.
type StoreRegistry struct {
	store *store.Store
}

// NewStoreRegistry creates a registry over the persisted connections table.
func NewStoreRegistry(s *store.Store) *StoreRegistry {
	return &StoreRegistry{store: s}
}

// Connected returns the principal's connected capability names.
func (r *StoreRegistry) Connected(ctx context.Context, principal string) ([]string, error) {
	return r.store.ConnectedCapabilities(ctx, principal)
}

// Check intersects a plan's required capabilities with the connected set.
// The result is deterministic: entries follow the plan's first-seen
// capability order and every referenced capability is marked required.
func Check(p *plan.Plan, connected []string) []plan.CapabilityCheck {
	have := make(map[string]bool, len(connected))
	for _, c := range connected {
		have[strings.ToLower(c)] = true
	}

	required := p.RequiredCapabilities()
	out := make([]plan.CapabilityCheck, 0, len(required))
	for _, name := range required {
		out = append(out, plan.CapabilityCheck{
			Name:      name,
			Required:  true,
			Connected: have[name],
		})
	}
	return out
}
