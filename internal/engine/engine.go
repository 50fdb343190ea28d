// Package engine composes the sync pipeline: canvas edits flow through the
// activity tracker into the session layer and out over the connection, and
// agent responses flow back through the typing animator onto the canvas,
// followed by a tracker resync so the agent never hears its own echo.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"canvassync/internal/activity"
	"canvassync/internal/animate"
	"canvassync/internal/canvas"
	"canvassync/internal/classify"
	"canvassync/internal/config"
	"canvassync/internal/connection"
	"canvassync/internal/logging"
	"canvassync/internal/sched"
	"canvassync/internal/session"
)

// responseOffsetY places agent replies below the item that prompted them.
const responseOffsetY = 80

// Events are the engine's outputs to the embedding view. All optional.
type Events struct {
	OnMessage   func(session.ChatMessage)
	OnMilestone func(session.Milestone)
	OnState     func(currentState string)
	OnConnState func(connection.State)
	OnError     func(error)
	OnTyping    func(animate.Progress)
}

// Engine owns one tutoring view's worth of sync machinery.
type Engine struct {
	host     canvas.Host
	conn     *connection.Manager
	tracker  *activity.Tracker
	animator *animate.Animator
	ctrl     *session.Controller
	events   Events

	mu      sync.Mutex
	lastPos canvas.Position
	hasPos  bool
}

// New wires the full pipeline over the given host and dialer. sch drives
// every timer; pass sched.NewReal() outside tests.
func New(cfg config.Config, host canvas.Host, dial connection.DialFunc, sch sched.Scheduler, events Events) *Engine {
	e := &Engine{
		host:   host,
		events: events,
	}

	e.conn = connection.NewManager(dial)
	e.animator = animate.New(host, sch, cfg.BaseDelay(), cfg.Jitter())

	e.ctrl = session.NewController(e.conn, session.Callbacks{
		OnMessage:   e.handleChatMessage,
		OnMilestone: events.OnMilestone,
		OnState:     events.OnState,
		OnConnState: events.OnConnState,
		OnError:     events.OnError,
	})

	e.tracker = activity.New(host, classify.New(), sch, activity.Options{
		Enabled:          cfg.Sync.Enabled,
		DebounceWindow:   cfg.DebounceWindow(),
		IdleThreshold:    cfg.IdleThreshold(),
		IdlePollInterval: cfg.IdlePollInterval(),
		SuppressPolicy:   cfg.Sync.SuppressPolicy,
		IsAnimating:      e.animator.IsAnimating,
	}, activity.Callbacks{
		OnTextUpdate: e.handleTextUpdate,
		OnIdle:       e.handleIdle,
	})

	return e
}

// Connect opens the backend channel. Forwarded state changes reach the view
// through Events.OnConnState; connection drops also land on Events.OnError.
func (e *Engine) Connect(ctx context.Context) error {
	if e.events.OnError != nil {
		e.conn.OnError(e.events.OnError)
	}
	return e.conn.Connect(ctx)
}

// Reconnect is the explicit retry path.
func (e *Engine) Reconnect(ctx context.Context) error {
	return e.conn.Reconnect(ctx)
}

// Start begins watching the canvas. Call after Connect.
func (e *Engine) Start() {
	e.tracker.Start()
	logging.Get(logging.CategoryBoot).Info("engine started")
}

// Stop tears everything down: tracker timers, any running animation, the
// channel. Safe to call repeatedly.
func (e *Engine) Stop() {
	e.tracker.Stop()
	e.animator.Stop()
	e.conn.Close()
}

// Session exposes the session controller for the view layer.
func (e *Engine) Session() *session.Controller { return e.ctrl }

// ConnState returns the connection state.
func (e *Engine) ConnState() connection.State { return e.conn.State() }

// IsAnimating reports whether the agent is currently typing.
func (e *Engine) IsAnimating() bool { return e.animator.IsAnimating() }

// ApplyConfig applies hot-reloaded tuning. Only the debounce window and log
// level take effect live; the rest applies on the next engine.
func (e *Engine) ApplyConfig(cfg config.Config) {
	e.tracker.SetDebounceWindow(cfg.DebounceWindow())
	logging.SetLevel(cfg.Logging.Level)
	logging.Get(logging.CategoryConfig).Info("engine config applied",
		zap.Duration("debounce", cfg.DebounceWindow()))
}

// handleTextUpdate forwards a settled extraction and remembers where it was,
// so the reply can be placed nearby.
func (e *Engine) handleTextUpdate(text string, pos canvas.Position, itemID string) {
	e.mu.Lock()
	e.lastPos = pos
	e.hasPos = true
	e.mu.Unlock()

	if err := e.ctrl.ForwardCanvasText(text, pos, itemID); err != nil {
		logging.Get(logging.CategoryActivity).Warn("canvas text forward failed", zap.Error(err))
		if e.events.OnError != nil {
			e.events.OnError(err)
		}
	}
}

func (e *Engine) handleIdle(elapsed time.Duration) {
	if err := e.ctrl.ForwardIdle(elapsed); err != nil {
		logging.Get(logging.CategoryActivity).Warn("idle forward failed", zap.Error(err))
	}
}

// handleChatMessage animates agent replies onto the canvas. User messages
// pass straight through to the view.
func (e *Engine) handleChatMessage(msg session.ChatMessage) {
	if e.events.OnMessage != nil {
		e.events.OnMessage(msg)
	}
	if msg.Role != session.RoleAgent || msg.Content == "" {
		return
	}

	_, err := e.animator.Start(msg.Content, e.replyPosition(), e.events.OnTyping, func(string) {
		// Post-reveal: rebaseline so the finished reply is never mistaken
		// for human input on the next debounce firing.
		e.tracker.Resync()
	})
	if err != nil {
		// A reply landed while another was still typing out. Skip the
		// animation; the chat log already has the content.
		logging.Get(logging.CategoryAnimate).Warn("reply not animated", zap.Error(err))
		e.tracker.Resync()
	}
}

// replyPosition picks a spot under the last human item we forwarded.
func (e *Engine) replyPosition() canvas.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasPos {
		return canvas.Position{X: 40, Y: 40}
	}
	return canvas.Position{X: e.lastPos.X, Y: e.lastPos.Y + responseOffsetY}
}
