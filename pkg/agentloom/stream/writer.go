// Package stream – writer.go implements the framed event protocol shared by
// the negotiation and build phases. Each event is one self-describing JSON
// object on its own line, written and flushed as soon as it is emitted so
// the client sees progress while slow collaborator calls are still running.
package stream

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

// Event types written to the stream. The envelope is {"type": ..., fields},
// one per line, each line independently parseable.
const (
	EventTextDelta     = "text_delta"
	EventTextDone      = "text_done"
	EventCard          = "card"
	EventBuildStage    = "build_stage"
	EventBuildComplete = "build_complete"
	EventError         = "error"
)

// StageStatus is the reported state of one build stage.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageDone    StageStatus = "done"
	StageError   StageStatus = "error"
)

// Event is the wire envelope. Unused fields are omitted per event type.
type Event struct {
	Type string `json:"type"`

	// Delta carries incremental assistant text (text_delta).
	Delta string `json:"delta,omitempty"`

	// Card and Payload carry a typed card (card).
	Card    string `json:"card,omitempty"`
	Payload any    `json:"payload,omitempty"`

	// Label and Status carry stage progress (build_stage).
	Label  string      `json:"label,omitempty"`
	Status StageStatus `json:"status,omitempty"`

	// AgentID and Summary carry the terminal success event (build_complete).
	AgentID string `json:"agent_id,omitempty"`
	Summary string `json:"summary,omitempty"`

	// Message carries the terminal failure event (error).
	Message string `json:"message,omitempty"`
}

// Writer serializes events onto a single outbound channel. Emission order
// is call order; there is no batching. All methods are safe for use from
// the detached orchestrator goroutine while the HTTP handler has already
// returned.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	flush  http.Flusher
	closed bool
	err    error // first write error, sticky
}

// NewWriter wraps an outbound channel. If w implements http.Flusher each
// event is flushed through intermediary buffers immediately.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flush = f
	}
	return sw
}

// Text emits one incremental chunk of assistant text.
func (w *Writer) Text(delta string) {
	w.emit(Event{Type: EventTextDelta, Delta: delta})
}

// TextDone marks the end of the assistant text block.
func (w *Writer) TextDone() {
	w.emit(Event{Type: EventTextDone})
}

// Card emits a typed card with its payload.
func (w *Writer) Card(kind string, payload any) {
	w.emit(Event{Type: EventCard, Card: kind, Payload: payload})
}

// BuildStage reports progress for one named stage. Repeated calls for the
// same label supersede each other on the client; nothing is retracted on
// the wire.
func (w *Writer) BuildStage(label string, status StageStatus) {
	w.emit(Event{Type: EventBuildStage, Label: label, Status: status})
}

// Complete emits the terminal success event.
func (w *Writer) Complete(agentID, summary string) {
	w.emit(Event{Type: EventBuildComplete, AgentID: agentID, Summary: summary})
}

// Error emits the terminal failure event. The stream stays open until
// Close so callers can still send an error_retry card first if they need to.
func (w *Writer) Error(message string) {
	w.emit(Event{Type: EventError, Message: message})
}

// Close marks the stream finished. It is idempotent and must be the last
// call on every code path, success or failure; events emitted after Close
// are dropped.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if c, ok := w.w.(io.Closer); ok {
		c.Close()
	}
}

// Err returns the first write error encountered, if any. A disconnected
// client surfaces here; emission never panics.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) emit(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.err != nil {
		return
	}

	line, err := json.Marshal(ev)
	if err != nil {
		w.err = err
		return
	}
	line = append(line, '\n')

	if _, err := w.w.Write(line); err != nil {
		w.err = err
		return
	}
	if w.flush != nil {
		w.flush.Flush()
	}
}
