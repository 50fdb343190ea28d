package connection

import (
	"errors"
	"sync"

	"canvassync/internal/protocol"
)

// ErrPipeClosed is returned once either end of a pipe has closed.
var ErrPipeClosed = errors.New("connection: pipe closed")

// Pipe is an in-process duplex channel with two symmetric ends. The client
// end satisfies Transport; the server end is what tests and the scripted demo
// backend hold.
type Pipe struct {
	client *PipeEnd
	server *PipeEnd
}

// PipeEnd is one side of a Pipe.
type PipeEnd struct {
	in   chan protocol.Envelope
	peer *PipeEnd

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewPipe creates a connected pair of ends.
func NewPipe() *Pipe {
	a := &PipeEnd{in: make(chan protocol.Envelope, 64), done: make(chan struct{})}
	b := &PipeEnd{in: make(chan protocol.Envelope, 64), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return &Pipe{client: a, server: b}
}

// Client returns the end the Manager dials.
func (p *Pipe) Client() *PipeEnd { return p.client }

// Server returns the backend-side end.
func (p *Pipe) Server() *PipeEnd { return p.server }

// Send delivers an envelope to the peer end.
func (e *PipeEnd) Send(env protocol.Envelope) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrPipeClosed
	}

	select {
	case e.peer.in <- env:
		return nil
	case <-e.peer.done:
		return ErrPipeClosed
	case <-e.done:
		return ErrPipeClosed
	}
}

// Receive blocks for the next envelope from the peer.
func (e *PipeEnd) Receive() (protocol.Envelope, error) {
	select {
	case env := <-e.in:
		return env, nil
	case <-e.done:
		return protocol.Envelope{}, ErrPipeClosed
	case <-e.peer.done:
		// Drain anything the peer sent before closing.
		select {
		case env := <-e.in:
			return env, nil
		default:
			return protocol.Envelope{}, ErrPipeClosed
		}
	}
}

// Close shuts this end down; the peer's blocked Receive fails.
func (e *PipeEnd) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.done)
	}
	return nil
}
