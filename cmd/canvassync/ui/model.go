// Package ui renders the demo tutoring view: a chat transcript, an input line
// that doubles as the canvas, and a status bar with connection and session
// state.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"canvassync/internal/animate"
	"canvassync/internal/canvas"
	"canvassync/internal/engine"
	"canvassync/internal/session"
)

// Messages pushed into the program by the engine callbacks.
type (
	// ChatMsg is an appended chat message.
	ChatMsg session.ChatMessage
	// MilestoneMsg is an achievement toast.
	MilestoneMsg session.Milestone
	// SessionStateMsg is the backend's opaque state label.
	SessionStateMsg string
	// TypingMsg is animation progress for the typing indicator.
	TypingMsg animate.Progress
	// ErrMsg carries an asynchronous failure.
	ErrMsg struct{ Err error }

	toastExpiredMsg struct{}
)

var (
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true)
	agentStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	toastStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Padding(0, 1)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	separatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

// Model is the bubbletea model for the tutoring view.
type Model struct {
	host   *canvas.MemoryHost
	eng    *engine.Engine
	domain string

	vp       viewport.Model
	input    textinput.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer

	lines        []string
	seen         map[string]bool
	sessionState string
	typing       string
	toast        string
	lastErr      string
	ready        bool
	nextY        float64
}

// NewModel builds the view around a live engine and its canvas host.
func NewModel(host *canvas.MemoryHost, eng *engine.Engine, domain string) *Model {
	ti := textinput.New()
	ti.Placeholder = "write on the canvas (or /chat <message>, /end, /quit)"
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(76),
	)

	return &Model{
		host:     host,
		eng:      eng,
		domain:   domain,
		input:    ti,
		spin:     sp,
		renderer: renderer,
		seen:     make(map[string]bool),
		nextY:    40,
	}
}

// Init implements tea.Model. Messages that arrived before the program started
// (the session greeting, typically) are already in the controller's log;
// appendMessage dedupes by id against the ones the engine also pushed.
func (m *Model) Init() tea.Cmd {
	for _, msg := range m.eng.Session().Messages() {
		m.appendMessage(msg)
	}
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - 4
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submit()
		}

	case ChatMsg:
		m.appendMessage(session.ChatMessage(msg))
		m.refresh()
		return m, nil

	case TypingMsg:
		m.typing = msg.Partial
		if msg.Fraction >= 1 {
			m.typing = ""
		}
		return m, nil

	case MilestoneMsg:
		m.toast = msg.Title
		return m, tea.Tick(4*time.Second, func(time.Time) tea.Msg { return toastExpiredMsg{} })

	case toastExpiredMsg:
		m.toast = ""
		return m, nil

	case SessionStateMsg:
		m.sessionState = string(msg)
		return m, nil

	case ErrMsg:
		m.lastErr = msg.Err.Error()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit handles the enter key: slash commands go to the session layer,
// plain text becomes a human canvas item so the tracker pipeline runs.
func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if text == "" {
		return nil
	}

	switch {
	case text == "/quit":
		return tea.Quit

	case text == "/end":
		if err := m.eng.Session().EndSession(); err != nil {
			m.lastErr = err.Error()
		}
		m.sessionState = ""
		return nil

	case strings.HasPrefix(text, "/chat "):
		if err := m.eng.Session().SendMessage(strings.TrimPrefix(text, "/chat ")); err != nil {
			m.lastErr = err.Error()
		}
		return nil
	}

	// Plain text lands on the canvas untagged, exactly like the host's
	// default creation path.
	m.nextY += 60
	if _, err := m.host.CreateItem(canvas.Spec{
		Kind:     canvas.KindText,
		Text:     text,
		Position: canvas.Position{X: 40, Y: m.nextY},
	}); err != nil {
		m.lastErr = err.Error()
	}
	return nil
}

func (m *Model) appendMessage(msg session.ChatMessage) {
	if m.seen[msg.ID] {
		return
	}
	m.seen[msg.ID] = true

	var who string
	switch msg.Role {
	case session.RoleUser:
		who = userStyle.Render("you")
	default:
		who = agentStyle.Render("tutor")
	}

	body := msg.Content
	if msg.Role == session.RoleAgent && m.renderer != nil {
		if rendered, err := m.renderer.Render(msg.Content); err == nil {
			body = strings.TrimRight(rendered, "\n")
		}
	}

	m.lines = append(m.lines, fmt.Sprintf("%s %s", who, body))
	for _, a := range msg.Actions {
		m.lines = append(m.lines, separatorStyle.Render(fmt.Sprintf("  ▸ %s (%s)", a.Label, a.Kind)))
	}
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.vp.SetContent(strings.Join(m.lines, "\n"))
	m.vp.GotoBottom()
}

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.vp.View())
	b.WriteString("\n")

	if m.typing != "" {
		b.WriteString(statusStyle.Render(m.spin.View() + " tutor is writing on the canvas..."))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

func (m *Model) statusLine() string {
	parts := []string{
		fmt.Sprintf("conn:%s", m.eng.ConnState()),
		fmt.Sprintf("domain:%s", m.domain),
	}
	if m.sessionState != "" {
		parts = append(parts, fmt.Sprintf("state:%s", m.sessionState))
	}
	line := statusStyle.Render(strings.Join(parts, "  "))

	if m.toast != "" {
		line += "  " + toastStyle.Render("★ "+m.toast)
	}
	if m.lastErr != "" {
		line += "  " + errorStyle.Render(m.lastErr)
	}
	return line
}
