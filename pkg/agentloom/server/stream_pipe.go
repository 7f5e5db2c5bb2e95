package server

import (
	"io"
	"sync"
)

// eventPipe carries framed event lines from the detached orchestrator
// goroutine to the HTTP response loop. The orchestrator side never blocks
// forever: once the reader abandons the pipe (client gone), writes fail
// with io.ErrClosedPipe and in-flight work runs to completion without a
// delivery channel. There is deliberately no cancellation signal back
// into the orchestrator.
type eventPipe struct {
	ch   chan []byte
	done chan struct{}

	closeOnce   sync.Once
	abandonOnce sync.Once
}

func newEventPipe() *eventPipe {
	return &eventPipe{
		ch:   make(chan []byte, 32),
		done: make(chan struct{}),
	}
}

// Write queues one frame for the response loop.
func (p *eventPipe) Write(b []byte) (int, error) {
	buf := append([]byte(nil), b...)
	select {
	case p.ch <- buf:
		return len(b), nil
	case <-p.done:
		return 0, io.ErrClosedPipe
	}
}

// Close signals end of stream to the reader. Called exactly once by the
// stream writer's Close; only the writer goroutine writes, so there is no
// send after close.
func (p *eventPipe) Close() error {
	p.closeOnce.Do(func() { close(p.ch) })
	return nil
}

// abandon is called by the reader when the client disconnects so pending
// writes unblock.
func (p *eventPipe) abandon() {
	p.abandonOnce.Do(func() { close(p.done) })
}
