// Package server – handlers.go implements the two streaming endpoints.
// Validation failures are rejected with a plain client error before the
// stream opens; once streaming has started, every failure travels as an
// error event because the HTTP status is already on the wire.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentloom/agentloom/pkg/agentloom/pipeline"
	"github.com/agentloom/agentloom/pkg/agentloom/plan"
	"github.com/agentloom/agentloom/pkg/agentloom/stream"
)

// negotiateRequest is the body of POST /api/agents/negotiate.
type negotiateRequest struct {
	Messages              []plan.Message `json:"messages"`
	Answers               []plan.Answer  `json:"answers,omitempty"`
	PendingPlan           *plan.Plan     `json:"pendingPlan,omitempty"`
	IntegrationsConnected bool           `json:"integrationsConnected,omitempty"`
}

// buildRequest is the body of POST /api/agents/build.
type buildRequest struct {
	Description string     `json:"description"`
	Plan        *plan.Plan `json:"plan"`
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req negotiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if latestUserContent(req.Messages) == "" {
		writeError(w, http.StatusBadRequest, "latest user message is blank")
		return
	}

	s.streamEvents(w, r, func(ctx context.Context, sw *stream.Writer) {
		s.pipeline.Resolve(ctx, pipeline.Request{
			Principal:             principal(r),
			Messages:              req.Messages,
			Answers:               req.Answers,
			PendingPlan:           req.PendingPlan,
			IntegrationsConnected: req.IntegrationsConnected,
		}, sw)
	})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "description must not be blank")
		return
	}
	if req.Plan == nil || req.Plan.Name == "" || len(req.Plan.Behaviours) == 0 {
		writeError(w, http.StatusBadRequest, "plan needs a name and at least one behaviour")
		return
	}

	s.streamEvents(w, r, func(ctx context.Context, sw *stream.Writer) {
		s.builder.Build(ctx, principal(r), req.Description, req.Plan, sw)
	})
}

// streamEvents starts the framed event response and runs the work function
// as a detached goroutine writing to it. The response loop pumps frames
// to the client until the work closes the stream or the client goes away.
// A disconnect does not cancel the work: in-flight provisioning writes run
// to completion (spec'd limitation, not a guarantee of abortability).
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, work func(context.Context, *stream.Writer)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	pipe := newEventPipe()
	sw := stream.NewWriter(pipe)

	go func() {
		// Close is the last call on every path, including panics upstream
		// of it, so the client never hangs on a read.
		defer sw.Close()
		// Deliberately not r.Context(): the orchestrator has no
		// cancellation signal in this design.
		work(context.Background(), sw)
	}()

	defer pipe.abandon()
	for {
		select {
		case line, open := <-pipe.ch:
			if !open {
				return
			}
			if _, err := w.Write(line); err != nil {
				return
			}
			flusher.Flush()
			if s.hub != nil {
				s.hub.Broadcast(line)
			}
		case <-r.Context().Done():
			s.logger.Debug("stream client disconnected", "path", r.URL.Path)
			return
		}
	}
}

func latestUserContent(messages []plan.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
