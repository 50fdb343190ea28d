package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"canvassync/internal/canvas"
	"canvassync/internal/connection"
	"canvassync/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	conn   *connection.Manager
	ctrl   *Controller
	server *connection.PipeEnd

	mu         sync.Mutex
	messages   []ChatMessage
	milestones []Milestone
	states     []string
	errs       []error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}

	var mu sync.Mutex
	h.conn = connection.NewManager(func(ctx context.Context) (connection.Transport, error) {
		p := connection.NewPipe()
		mu.Lock()
		h.server = p.Server()
		mu.Unlock()
		return p.Client(), nil
	})

	h.ctrl = NewController(h.conn, Callbacks{
		OnMessage: func(m ChatMessage) {
			h.mu.Lock()
			h.messages = append(h.messages, m)
			h.mu.Unlock()
		},
		OnMilestone: func(m Milestone) {
			h.mu.Lock()
			h.milestones = append(h.milestones, m)
			h.mu.Unlock()
		},
		OnState: func(s string) {
			h.mu.Lock()
			h.states = append(h.states, s)
			h.mu.Unlock()
		},
		OnError: func(err error) {
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
		},
	})

	require.NoError(t, h.conn.Connect(context.Background()))
	t.Cleanup(h.conn.Close)
	return h
}

// expectFrame reads one outbound frame from the backend side.
func (h *harness) expectFrame(t *testing.T, want protocol.Type) protocol.Envelope {
	t.Helper()
	type result struct {
		env protocol.Envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		env, err := h.server.Receive()
		ch <- result{env, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		require.Equal(t, want, r.env.Type)
		return r.env
	case <-time.After(2 * time.Second):
		t.Fatalf("backend never received %s frame", want)
		return protocol.Envelope{}
	}
}

func (h *harness) milestoneCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.milestones)
}

func TestController_StartSessionRequiresConnection(t *testing.T) {
	h := newHarness(t)
	h.conn.Close()

	err := h.ctrl.StartSession("algorithms", "")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Nil(t, h.ctrl.Session())
}

func TestController_StartSessionClearsLog(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.StartSession("algorithms", "goal-7"))
	env := h.expectFrame(t, protocol.TypeSessionStart)
	assert.Equal(t, "algorithms", env.Domain)
	assert.Equal(t, "goal-7", env.GoalID)

	require.NoError(t, h.ctrl.SendMessage("hello"))
	h.expectFrame(t, protocol.TypeChatMessage)
	require.Len(t, h.ctrl.Messages(), 1)

	// A new session wipes the previous transcript.
	require.NoError(t, h.ctrl.StartSession("systems", ""))
	h.expectFrame(t, protocol.TypeSessionStart)
	assert.Empty(t, h.ctrl.Messages())

	sess := h.ctrl.Session()
	require.NotNil(t, sess)
	assert.Equal(t, "systems", sess.Domain)
	assert.False(t, sess.StartedAt.IsZero())
}

func TestController_SendMessageRejectsWithoutSession(t *testing.T) {
	h := newHarness(t)

	err := h.ctrl.SendMessage("orphan")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Empty(t, h.ctrl.Messages(), "rejected messages are not enqueued")
}

func TestController_ChatRoundTrip(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.StartSession("algorithms", ""))
	h.expectFrame(t, protocol.TypeSessionStart)

	require.NoError(t, h.ctrl.SendMessage("what is a hash table"))
	h.expectFrame(t, protocol.TypeChatMessage)

	require.NoError(t, h.server.Send(protocol.Envelope{
		Type:    protocol.TypeChatResponse,
		Content: "A hash table is...",
		Actions: []protocol.Action{{Kind: "open_card", Label: "Hash tables"}},
	}))

	require.Eventually(t, func() bool { return len(h.ctrl.Messages()) == 2 },
		2*time.Second, 10*time.Millisecond)

	msgs := h.ctrl.Messages()
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAgent, msgs[1].Role)
	assert.Equal(t, "A hash table is...", msgs[1].Content)
	require.Len(t, msgs[1].Actions, 1)
	assert.Equal(t, "open_card", msgs[1].Actions[0].Kind)
}

func TestController_MilestoneIsNotAChatMessage(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.StartSession("algorithms", ""))
	h.expectFrame(t, protocol.TypeSessionStart)

	require.NoError(t, h.server.Send(protocol.Envelope{
		Type:  protocol.TypeMilestone,
		Title: "First concept mastered",
	}))

	require.Eventually(t, func() bool { return h.milestoneCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.ctrl.Messages(), "milestones bypass the chat log")
}

func TestController_StateUpdateIsOpaque(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.StartSession("algorithms", ""))
	h.expectFrame(t, protocol.TypeSessionStart)

	require.NoError(t, h.server.Send(protocol.Envelope{
		Type:         protocol.TypeStateUpdate,
		CurrentState: "explaining_concept",
	}))

	require.Eventually(t, func() bool {
		s := h.ctrl.Session()
		return s != nil && s.CurrentState == "explaining_concept"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestController_EndSessionKeepsLog(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.StartSession("algorithms", ""))
	h.expectFrame(t, protocol.TypeSessionStart)
	require.NoError(t, h.ctrl.SendMessage("hi"))
	h.expectFrame(t, protocol.TypeChatMessage)

	require.NoError(t, h.ctrl.EndSession())
	h.expectFrame(t, protocol.TypeSessionEnd)

	assert.Nil(t, h.ctrl.Session())
	assert.Len(t, h.ctrl.Messages(), 1, "transcript survives until the next start")

	require.NoError(t, h.ctrl.EndSession(), "second end is a no-op")
}

func TestController_ConnectionLossDestroysSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.StartSession("algorithms", ""))
	h.expectFrame(t, protocol.TypeSessionStart)

	h.server.Close()

	require.Eventually(t, func() bool { return h.ctrl.Session() == nil },
		2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, h.ctrl.SendMessage("too late"), ErrNoSession)
}

func TestController_ForwardCanvasSignals(t *testing.T) {
	h := newHarness(t)

	// Without a session both forwards drop silently.
	require.NoError(t, h.ctrl.ForwardCanvasText("ignored", canvas.Position{}, "item-0"))
	require.NoError(t, h.ctrl.ForwardIdle(31*time.Second))

	require.NoError(t, h.ctrl.StartSession("algorithms", ""))
	h.expectFrame(t, protocol.TypeSessionStart)

	require.NoError(t, h.ctrl.ForwardCanvasText("what is a hash table", canvas.Position{X: 1}, "item-1"))
	env := h.expectFrame(t, protocol.TypeCanvasText)
	assert.Equal(t, "what is a hash table", env.Text)
	assert.Equal(t, "item-1", env.ItemID)

	require.NoError(t, h.ctrl.ForwardIdle(31*time.Second))
	env = h.expectFrame(t, protocol.TypeCanvasIdle)
	assert.Equal(t, int64(31000), env.DurationMs)
}

func TestController_BackendErrorSurfaced(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.StartSession("algorithms", ""))
	h.expectFrame(t, protocol.TypeSessionStart)

	require.NoError(t, h.server.Send(protocol.Envelope{
		Type:    protocol.TypeError,
		Message: "domain unavailable",
		Code:    "E_DOMAIN",
	}))

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.errs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.mu.Lock()
	assert.Contains(t, h.errs[0].Error(), "E_DOMAIN")
	h.mu.Unlock()
}
