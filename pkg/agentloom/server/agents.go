// Package server – agents.go implements the plain JSON management routes:
// listing agents, inspecting one, and pausing/resuming its triggers.
package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/agentloom/agentloom/pkg/agentloom/store"
)

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	agents, err := s.store.ListAgents(r.Context(), principal(r))
	if err != nil {
		s.logger.Error("listing agents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing agents failed")
		return
	}
	writeJSON(w, http.StatusOK, agentViews(agents))
}

// handleAgentDetail serves /api/agents/{id} and /api/agents/{id}/{action}.
func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.SplitN(path, "/", 2)
	agentID := parts[0]
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "missing agent ID")
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleAgentGet(w, r, agentID)
	case action == "pause" && r.Method == http.MethodPost:
		s.handleAgentToggle(w, r, agentID, false)
	case action == "resume" && r.Method == http.MethodPost:
		s.handleAgentToggle(w, r, agentID, true)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleAgentGet(w http.ResponseWriter, r *http.Request, agentID string) {
	agent, err := s.store.GetAgent(r.Context(), agentID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		s.logger.Error("loading agent failed", "agent", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "loading agent failed")
		return
	}

	behaviours, err := s.store.ListBehaviours(r.Context(), agentID)
	if err != nil {
		s.logger.Error("loading behaviours failed", "agent", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "loading agent failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent":      agentView(agent),
		"behaviours": behaviourViews(behaviours),
	})
}

func (s *Server) handleAgentToggle(w http.ResponseWriter, r *http.Request, agentID string, resume bool) {
	var err error
	if resume {
		err = s.dispatcher.ReactivateAgent(r.Context(), agentID)
	} else {
		err = s.dispatcher.DeactivateAgent(r.Context(), agentID)
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		s.logger.Error("toggling agent failed", "agent", agentID, "resume", resume, "error", err)
		writeError(w, http.StatusInternalServerError, "toggling agent failed")
		return
	}

	status := store.AgentPaused
	if resume {
		status = store.AgentActive
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": agentID, "status": status})
}

// ── JSON views ──

type agentJSON struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Name      string `json:"name"`
	Persona   string `json:"persona,omitempty"`
	Model     string `json:"model,omitempty"`
	CreatedAt string `json:"created_at"`
}

type behaviourJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TriggerKind string `json:"trigger_kind"`
	Instruction string `json:"instruction"`
	Enabled     bool   `json:"enabled"`
	NextRunAt   string `json:"next_run_at,omitempty"`
}

func agentView(a *store.Agent) agentJSON {
	return agentJSON{
		ID:        a.ID,
		Status:    a.Status,
		Name:      a.Name,
		Persona:   a.Persona,
		Model:     a.Model,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

func agentViews(agents []*store.Agent) []agentJSON {
	out := make([]agentJSON, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentView(a))
	}
	return out
}

func behaviourViews(behaviours []*store.Behaviour) []behaviourJSON {
	out := make([]behaviourJSON, 0, len(behaviours))
	for _, b := range behaviours {
		v := behaviourJSON{
			ID:          b.ID,
			Name:        b.Name,
			TriggerKind: b.TriggerKind,
			Instruction: b.Instruction,
			Enabled:     b.Enabled,
		}
		if !b.NextRunAt.IsZero() {
			v.NextRunAt = b.NextRunAt.Format(time.RFC3339)
		}
		out = append(out, v)
	}
	return out
}
