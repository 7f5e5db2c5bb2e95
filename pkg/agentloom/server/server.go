// Package server exposes the deployment pipeline over HTTP. Two endpoints
// stream framed events (negotiate and build); the rest are plain JSON.
// Authentication is out of scope here: the principal is taken from the
// X-Principal-ID header and defaults to "default".
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/agentloom/agentloom/pkg/agentloom/builder"
	"github.com/agentloom/agentloom/pkg/agentloom/gateway"
	"github.com/agentloom/agentloom/pkg/agentloom/pipeline"
	"github.com/agentloom/agentloom/pkg/agentloom/store"
	"github.com/agentloom/agentloom/pkg/agentloom/trigger"
)

// Server routes pipeline requests.
type Server struct {
	pipeline   *pipeline.Pipeline
	builder    *builder.Builder
	store      *store.Store
	dispatcher *trigger.Dispatcher
	hub        *gateway.Hub
	logger     *slog.Logger
	mux        *http.ServeMux
}

// New creates the HTTP server. hub may be nil to disable the WebSocket
// event relay.
func New(p *pipeline.Pipeline, b *builder.Builder, s *store.Store, d *trigger.Dispatcher, hub *gateway.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		pipeline:   p,
		builder:    b,
		store:      s,
		dispatcher: d,
		hub:        hub,
		logger:     logger.With("component", "server"),
		mux:        http.NewServeMux(),
	}

	srv.mux.HandleFunc("/api/agents/negotiate", srv.handleNegotiate)
	srv.mux.HandleFunc("/api/agents/build", srv.handleBuild)
	srv.mux.HandleFunc("/api/agents", srv.handleAgents)
	srv.mux.HandleFunc("/api/agents/", srv.handleAgentDetail)
	srv.mux.HandleFunc("/hooks/", srv.handleWebhook)
	if hub != nil {
		srv.mux.HandleFunc("/ws", hub.HandleWS)
	}
	return srv
}

// Handler returns the root handler for http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

// principal resolves the requesting account. Session validation is an
// external collaborator; this only carries the identity through.
func principal(r *http.Request) string {
	if p := r.Header.Get("X-Principal-ID"); p != "" {
		return p
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
