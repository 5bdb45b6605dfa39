package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/egv/autoclaude/internal/stream"
)

// maxRetainedLines bounds the scrollback; older lines are dropped and the
// status bar shows how many.
const maxRetainedLines = 1000

var (
	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Background(lipgloss.Color("#1a1a1a")).
			Padding(0, 1)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	phaseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
)

type model struct {
	jobID        string
	phase        string
	messageCount int
	dropped      int
	lines        []string
	terminal     bool
	failed       bool
	lastLine     string
	summary      string
	reconnecting string
	streamDone   bool
	viewport     viewport.Model
	width        int
	height       int
	stream       <-chan streamMsg
}

func newModel(jobID string, messages <-chan streamMsg, width, height int) model {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	vp := viewport.New(width, height-2)
	vp.SetContent("Waiting for event stream...\n")
	return model{
		jobID:    jobID,
		viewport: vp,
		width:    width,
		height:   height,
		stream:   messages,
	}
}

func (m model) Init() tea.Cmd {
	return waitForStreamMessage(m.stream)
}

func waitForStreamMessage(messages <-chan streamMsg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-messages
		if !ok {
			return streamEndedMsg{}
		}
		return msg
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.viewport.Width = typed.Width
		m.viewport.Height = typed.Height - 2
		m.viewport.SetContent(m.renderLines())
		return m, nil
	case consoleMsg:
		m = m.applyConsole(typed.message)
		m.viewport.SetContent(m.renderLines())
		m.viewport.GotoBottom()
		return m, waitForStreamMessage(m.stream)
	case heartbeatMsg:
		m.reconnecting = ""
		return m, waitForStreamMessage(m.stream)
	case reconnectingMsg:
		m.reconnecting = fmt.Sprintf("reconnecting (attempt %d, in %s)", typed.attempt, typed.wait)
		return m, waitForStreamMessage(m.stream)
	case streamEndedMsg:
		m.streamDone = true
		if m.terminal || typed.terminal {
			return m, tea.Quit
		}
		// Channel is closed; stop pumping and let the viewer quit.
		m.reconnecting = "stream closed"
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) applyConsole(message stream.ConsoleMessage) model {
	m.messageCount++
	m.reconnecting = ""
	m.lastLine = message.Text
	if message.Level == stream.LevelPhase {
		m.phase = message.Text
	}
	if isTerminalLine(message) {
		m.terminal = true
		m.failed = message.Level == stream.LevelError
		m.summary = m.renderSummary()
	}

	m.lines = append(m.lines, renderLine(message))
	if len(m.lines) > maxRetainedLines {
		m.dropped += len(m.lines) - maxRetainedLines
		m.lines = m.lines[len(m.lines)-maxRetainedLines:]
	}
	return m
}

func renderLine(message stream.ConsoleMessage) string {
	prefix := message.TS.Format("15:04:05")
	switch message.Level {
	case stream.LevelPhase:
		return fmt.Sprintf("%s %s", prefix, phaseStyle.Render("phase: "+message.Text))
	case stream.LevelWarn:
		return fmt.Sprintf("%s %s", prefix, warnStyle.Render(message.Text))
	case stream.LevelError:
		return fmt.Sprintf("%s %s", prefix, errorStyle.Render(message.Text))
	default:
		return fmt.Sprintf("%s %s", prefix, message.Text)
	}
}

func (m model) renderLines() string {
	if len(m.lines) == 0 {
		return "Waiting for event stream...\n"
	}
	return strings.Join(m.lines, "\n")
}

func (m model) statusBar() string {
	parts := []string{m.jobID}
	if m.phase != "" {
		parts = append(parts, m.phase)
	}
	parts = append(parts, fmt.Sprintf("%d messages", m.messageCount))
	if m.dropped > 0 {
		parts = append(parts, fmt.Sprintf("%d dropped", m.dropped))
	}
	if m.reconnecting != "" {
		parts = append(parts, m.reconnecting)
	}
	if m.terminal {
		if m.failed {
			parts = append(parts, "FAILED")
		} else {
			parts = append(parts, "DONE")
		}
	}
	return statusBarStyle.Width(m.width).Render(strings.Join(parts, " | "))
}

// renderSummary produces the completed-job summary as terminal markdown.
func (m model) renderSummary() string {
	result := "completed"
	if m.failed {
		result = "failed"
	}
	md := fmt.Sprintf("# Job %s\n\n**Result**: %s\n\n**Messages**: %d\n\n%s\n",
		m.jobID, result, m.messageCount, m.lastLine)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.width),
	)
	if err != nil {
		return md
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return rendered
}

func (m model) View() string {
	parts := []string{m.viewport.View(), m.statusBar(), "q: quit"}
	return strings.Join(parts, "\n")
}
