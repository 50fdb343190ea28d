// Package session owns the conversational session layered on the connection:
// domain selection, start/end lifecycle, and the ordered chat log. Domain
// state transitions are opaque here; the controller stores whatever state
// label the backend reports and validates nothing locally.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"canvassync/internal/canvas"
	"canvassync/internal/connection"
	"canvassync/internal/logging"
	"canvassync/internal/protocol"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ChatMessage is one entry in the append-only chat log.
type ChatMessage struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
	Actions   []protocol.Action
}

// Session is the live conversational context. At most one per controller.
type Session struct {
	ID           string
	Domain       string
	GoalID       string
	CurrentState string
	StartedAt    time.Time
}

// Milestone is an achievement signal from the backend. Surfaced on its own
// channel, never as a chat message.
type Milestone struct {
	Title string
}

var (
	// ErrNoSession is returned by SendMessage without a live session.
	ErrNoSession = errors.New("session: no active session")
	// ErrNotConnected is returned when the connection is not up.
	ErrNotConnected = errors.New("session: not connected")
)

// Callbacks are the controller's outputs to the embedding view.
type Callbacks struct {
	OnMessage   func(ChatMessage)         // each appended chat message
	OnMilestone func(Milestone)           // achievement notifications
	OnState     func(currentState string) // opaque domain state label updates
	OnConnState func(connection.State)    // connection transitions, forwarded
	OnError     func(err error)           // backend-reported errors
}

// Controller drives the session over a connection manager.
type Controller struct {
	conn *connection.Manager
	cb   Callbacks

	mu       sync.Mutex
	session  *Session
	messages []ChatMessage
	now      func() time.Time
}

// NewController wires a controller to the manager's inbound feed. The caller
// must not register its own OnMessage handler on the manager afterwards.
func NewController(conn *connection.Manager, cb Callbacks) *Controller {
	c := &Controller{
		conn: conn,
		cb:   cb,
		now:  time.Now,
	}
	conn.OnMessage(c.handleEnvelope)
	conn.OnStateChange(c.handleConnState)
	return c
}

// SetClock overrides message timestamps. Tests only.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Session returns a copy of the live session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Messages returns a copy of the chat log in append order.
func (c *Controller) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatMessage(nil), c.messages...)
}

// StartSession opens a session for a domain. Requires a connected channel;
// clears the previous chat log on success.
func (c *Controller) StartSession(domain, goalID string) error {
	if c.conn.State() != connection.StateConnected {
		return fmt.Errorf("%w: cannot start session", ErrNotConnected)
	}

	if err := c.conn.Send(protocol.SessionStart(domain, goalID)); err != nil {
		return err
	}

	c.mu.Lock()
	c.session = &Session{
		ID:        uuid.NewString(),
		Domain:    domain,
		GoalID:    goalID,
		StartedAt: c.now(),
	}
	c.messages = nil
	c.mu.Unlock()

	logging.Get(logging.CategorySession).Info("session started",
		zap.String("domain", domain), zap.String("goal", goalID))
	return nil
}

// EndSession closes the session. The chat log is kept for display until the
// next StartSession.
func (c *Controller) EndSession() error {
	c.mu.Lock()
	had := c.session != nil
	c.session = nil
	c.mu.Unlock()

	if !had {
		return nil
	}

	logging.Get(logging.CategorySession).Info("session ended")
	if c.conn.State() == connection.StateConnected {
		return c.conn.Send(protocol.SessionEnd())
	}
	return nil
}

// SendMessage forwards a user chat message. Rejected synchronously without a
// live session or connection; never queued.
func (c *Controller) SendMessage(text string) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	c.mu.Unlock()

	if c.conn.State() != connection.StateConnected {
		return fmt.Errorf("%w: cannot send message", ErrNotConnected)
	}

	// Optimistic append: the user sees their message immediately.
	msg := c.append(RoleUser, text, nil)

	if err := c.conn.Send(protocol.ChatMessage(text)); err != nil {
		return err
	}
	logging.Get(logging.CategorySession).Debug("user message sent", zap.String("id", msg.ID))
	return nil
}

// ForwardCanvasText relays a settled canvas extraction to the backend.
// Dropped with a log line when no session is live.
func (c *Controller) ForwardCanvasText(text string, pos canvas.Position, itemID string) error {
	c.mu.Lock()
	live := c.session != nil
	c.mu.Unlock()
	if !live {
		logging.Get(logging.CategorySession).Debug("canvas text dropped, no session")
		return nil
	}
	return c.conn.Send(protocol.CanvasText(text, pos, itemID))
}

// ForwardIdle relays an idle nudge. Dropped when no session is live: an idle
// ping means nothing to a backend with no session context.
func (c *Controller) ForwardIdle(elapsed time.Duration) error {
	c.mu.Lock()
	live := c.session != nil
	c.mu.Unlock()
	if !live {
		logging.Get(logging.CategorySession).Debug("idle nudge dropped, no session")
		return nil
	}
	return c.conn.Send(protocol.CanvasIdle(elapsed.Milliseconds()))
}

// handleEnvelope dispatches inbound frames from the connection.
func (c *Controller) handleEnvelope(env protocol.Envelope) {
	log := logging.Get(logging.CategorySession)

	switch env.Type {
	case protocol.TypeChatResponse:
		c.append(RoleAgent, env.Content, env.Actions)

	case protocol.TypeMilestone:
		log.Info("milestone", zap.String("title", env.Title))
		if c.cb.OnMilestone != nil {
			c.cb.OnMilestone(Milestone{Title: env.Title})
		}

	case protocol.TypeStateUpdate:
		c.mu.Lock()
		if c.session != nil {
			c.session.CurrentState = env.CurrentState
		}
		c.mu.Unlock()
		if c.cb.OnState != nil {
			c.cb.OnState(env.CurrentState)
		}

	case protocol.TypeError:
		err := fmt.Errorf("session: backend error: %s", env.Message)
		if env.Code != "" {
			err = fmt.Errorf("session: backend error [%s]: %s", env.Code, env.Message)
		}
		log.Warn("backend error", zap.String("code", env.Code), zap.String("message", env.Message))
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}

	default:
		log.Warn("unhandled frame", zap.String("type", string(env.Type)))
	}
}

// handleConnState destroys the session on connection loss. The chat log
// survives for display.
func (c *Controller) handleConnState(s connection.State) {
	if c.cb.OnConnState != nil {
		c.cb.OnConnState(s)
	}
	if s == connection.StateConnected {
		return
	}
	c.mu.Lock()
	had := c.session != nil
	c.session = nil
	c.mu.Unlock()
	if had {
		logging.Get(logging.CategorySession).Warn("session destroyed by connection loss",
			zap.String("state", string(s)))
	}
}

// append adds a message to the log and notifies the view.
func (c *Controller) append(role Role, content string, actions []protocol.Action) ChatMessage {
	c.mu.Lock()
	msg := ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: c.now(),
		Actions:   actions,
	}
	c.messages = append(c.messages, msg)
	onMessage := c.cb.OnMessage
	c.mu.Unlock()

	if onMessage != nil {
		onMessage(msg)
	}
	return msg
}
