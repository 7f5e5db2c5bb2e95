// Package server – webhook.go implements the passive inbound-event route.
// Nothing is registered when an inbound-event behaviour is dispatched;
// this route checks agent and behaviour status at delivery time instead.
package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agentloom/agentloom/pkg/agentloom/plan"
	"github.com/agentloom/agentloom/pkg/agentloom/store"
)

// maxWebhookBody caps inbound payloads at 256 KiB.
const maxWebhookBody = 256 << 10

// handleWebhook serves POST /hooks/{agentID}/{behaviourID}.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/hooks/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	agentID, behaviourID := parts[0], parts[1]

	agent, err := s.store.GetAgent(r.Context(), agentID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.logger.Error("webhook agent lookup failed", "agent", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "delivery failed")
		return
	}
	if agent.Status != store.AgentActive {
		// Paused or still deploying agents drop deliveries.
		writeError(w, http.StatusConflict, "agent is not active")
		return
	}

	behaviour := s.findInboundBehaviour(r, agentID, behaviourID)
	if behaviour == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	if err := s.store.RecordWebhookEvent(r.Context(), uuid.NewString(), agentID, behaviourID, string(body)); err != nil {
		s.logger.Error("recording webhook event failed",
			"agent", agentID, "behaviour", behaviourID, "error", err)
		writeError(w, http.StatusInternalServerError, "delivery failed")
		return
	}

	s.logger.Info("webhook delivery accepted",
		"agent", agentID, "behaviour", behaviourID, "bytes", len(body))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// findInboundBehaviour returns the behaviour when it belongs to the agent,
// is enabled, and has an inbound-event trigger; nil otherwise.
func (s *Server) findInboundBehaviour(r *http.Request, agentID, behaviourID string) *store.Behaviour {
	behaviours, err := s.store.ListBehaviours(r.Context(), agentID)
	if err != nil {
		s.logger.Error("webhook behaviour lookup failed", "agent", agentID, "error", err)
		return nil
	}
	for _, b := range behaviours {
		if b.ID == behaviourID && b.Enabled && b.TriggerKind == string(plan.TriggerInboundEvent) {
			return b
		}
	}
	return nil
}
