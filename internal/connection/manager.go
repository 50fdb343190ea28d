// Package connection owns the single duplex channel to the agent backend and
// the connection state machine around it. The manager never retries on its
// own: a failed or dropped connection surfaces to the caller, and reconnecting
// is an explicit caller action so repeated failures stay visible.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"canvassync/internal/logging"
	"canvassync/internal/protocol"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// ErrNotConnected is returned by Send when no channel is open.
var ErrNotConnected = errors.New("connection: not connected")

// Transport is one established duplex channel. Receive blocks until a frame
// arrives or the channel dies.
type Transport interface {
	Send(env protocol.Envelope) error
	Receive() (protocol.Envelope, error)
	Close() error
}

// DialFunc establishes a new transport.
type DialFunc func(ctx context.Context) (Transport, error)

// Manager drives the state machine over a single transport. One instance per
// tutoring view; callbacks fire in transition order without the manager lock
// held.
type Manager struct {
	dial DialFunc

	mu        sync.Mutex
	state     State
	transport Transport
	closing   bool
	readDone  chan struct{}

	onState   func(State)
	onMessage func(protocol.Envelope)
	onError   func(error)
}

// NewManager creates a disconnected manager around a dialer.
func NewManager(dial DialFunc) *Manager {
	return &Manager{
		dial:  dial,
		state: StateDisconnected,
	}
}

// OnStateChange registers the state callback. Must be set before Connect.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// OnMessage registers the inbound frame callback. Must be set before Connect.
func (m *Manager) OnMessage(fn func(protocol.Envelope)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// OnError registers the callback for asynchronous channel failures.
func (m *Manager) OnError(fn func(error)) {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the channel. Idempotent: calling it while connected (or while
// a connect is already in flight) is a no-op, so a remounting view cannot end
// up with duplicate channels. A failed dial leaves the manager disconnected
// and returns the error.
func (m *Manager) Connect(ctx context.Context) error {
	return m.open(ctx, StateConnecting)
}

// Reconnect is the explicit retry path after a failure. No-op when already
// connected.
func (m *Manager) Reconnect(ctx context.Context) error {
	return m.open(ctx, StateReconnecting)
}

func (m *Manager) open(ctx context.Context, via State) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected, StateConnecting, StateReconnecting:
		m.mu.Unlock()
		return nil
	}
	m.closing = false
	notify := m.setStateLocked(via)
	m.mu.Unlock()
	notify()

	log := logging.Get(logging.CategoryConnection)
	log.Info("dialing backend")

	t, err := m.dial(ctx)
	if err != nil {
		m.mu.Lock()
		notify = m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		notify()
		return fmt.Errorf("connection: dial failed: %w", err)
	}

	m.mu.Lock()
	if m.closing {
		// Close raced the dial; drop the fresh transport.
		m.mu.Unlock()
		_ = t.Close()
		return fmt.Errorf("connection: closed during dial")
	}
	m.transport = t
	m.readDone = make(chan struct{})
	notify = m.setStateLocked(StateConnected)
	done := m.readDone
	m.mu.Unlock()
	notify()

	go m.readLoop(t, done)
	log.Info("connected")
	return nil
}

// Send writes a frame to the channel. Fails synchronously when not connected;
// nothing is queued.
func (m *Manager) Send(env protocol.Envelope) error {
	m.mu.Lock()
	if m.state != StateConnected || m.transport == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	t := m.transport
	m.mu.Unlock()

	if err := t.Send(env); err != nil {
		return fmt.Errorf("connection: send %s: %w", env.Type, err)
	}
	return nil
}

// Close tears the channel down and settles in disconnected. Safe to call in
// any state, any number of times.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closing = true
	t := m.transport
	done := m.readDone
	m.transport = nil
	m.readDone = nil
	notify := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	notify()

	if t != nil {
		_ = t.Close()
	}
	if done != nil {
		<-done
	}
}

// readLoop pumps inbound frames until the transport dies.
func (m *Manager) readLoop(t Transport, done chan struct{}) {
	defer close(done)
	log := logging.Get(logging.CategoryConnection)

	for {
		env, err := t.Receive()
		if err != nil {
			m.mu.Lock()
			intentional := m.closing
			notify := func() {}
			if m.transport == t {
				m.transport = nil
				notify = m.setStateLocked(StateDisconnected)
			}
			onError := m.onError
			m.mu.Unlock()
			notify()

			if !intentional {
				log.Warn("channel closed unexpectedly", zap.Error(err))
				if onError != nil {
					onError(err)
				}
			}
			return
		}

		m.mu.Lock()
		onMessage := m.onMessage
		m.mu.Unlock()
		if onMessage != nil {
			onMessage(env)
		}
	}
}

// setStateLocked records a transition and returns the callback to run once
// the lock is released. Duplicate transitions return a no-op.
func (m *Manager) setStateLocked(s State) func() {
	if m.state == s {
		return func() {}
	}
	prev := m.state
	m.state = s
	logging.Get(logging.CategoryConnection).Debug("state transition",
		zap.String("from", string(prev)), zap.String("to", string(s)))

	fn := m.onState
	if fn == nil {
		return func() {}
	}
	return func() { fn(s) }
}
