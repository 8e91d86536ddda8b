package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	agentStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true)
	failStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	inputStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type Message struct {
	Role    string
	Content string
}

// SendFunc delivers one request and returns the final answer. Partial
// results are passed to progress as they arrive.
type SendFunc func(input string, progress func(string)) (string, error)

type Model struct {
	messages []Message
	progress []string
	input    string
	sendFn   SendFunc
	events   chan tea.Msg
	width    int
	height   int
	scroll   int
	waiting  bool
	err      error
}

func NewModel(sendFn SendFunc) Model {
	return Model{
		sendFn: sendFn,
	}
}

type progressMsg struct {
	content string
}

type responseMsg struct {
	content string
	err     error
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			if m.waiting || strings.TrimSpace(m.input) == "" {
				return m, nil
			}
			return m.submitInput()
		case "backspace":
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
		case "pgup":
			if m.scroll > 0 {
				m.scroll--
			}
		case "pgdown":
			m.scroll++
		default:
			if len(msg.String()) == 1 || msg.String() == " " {
				m.input += msg.String()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case progressMsg:
		m.progress = append(m.progress, msg.content)
		return m, waitFor(m.events)

	case responseMsg:
		m.waiting = false
		m.progress = nil
		m.events = nil
		if msg.err != nil {
			m.err = msg.err
			m.messages = append(m.messages, Message{
				Role:    "error",
				Content: msg.err.Error(),
			})
		} else {
			m.messages = append(m.messages, Message{
				Role:    "assistant",
				Content: msg.content,
			})
		}
	}

	return m, nil
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input)
	m.messages = append(m.messages, Message{Role: "user", Content: text})
	m.input = ""
	m.waiting = true

	events := make(chan tea.Msg, 16)
	m.events = events
	sendFn := m.sendFn
	go func() {
		resp, err := sendFn(text, func(p string) { events <- progressMsg{content: p} })
		events <- responseMsg{content: resp, err: err}
	}()
	return m, waitFor(events)
}

func waitFor(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := dimStyle.Render("CareMesh Chat (Ctrl+C to quit)")
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n\n")

	for _, msg := range m.messages {
		switch msg.Role {
		case "user":
			b.WriteString(userStyle.Render("You: "))
			b.WriteString(msg.Content)
		case "assistant":
			b.WriteString(assistantStyle.Render("CareMesh:"))
			b.WriteString("\n")
			b.WriteString(RenderAnswer(msg.Content))
		case "error":
			b.WriteString(failStyle.Render("Error: "))
			b.WriteString(msg.Content)
		}
		b.WriteString("\n\n")
	}

	if m.waiting {
		for _, p := range m.progress {
			b.WriteString(dimStyle.Render("  … " + p))
			b.WriteString("\n")
		}
		b.WriteString(dimStyle.Render("Routing..."))
		b.WriteString("\n\n")
	}

	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	prompt := inputStyle.Render("> " + m.input)
	if !m.waiting {
		prompt += dimStyle.Render("█")
	}
	b.WriteString(prompt)

	return b.String()
}

// RenderAnswer highlights the "[agent]" label that starts each section of
// an aggregated answer and marks failed sections.
func RenderAnswer(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "[") {
			continue
		}
		end := strings.Index(line, "]")
		if end < 0 {
			continue
		}
		label, rest := line[:end+1], line[end+1:]
		if strings.HasPrefix(rest, " failed (") {
			lines[i] = agentStyle.Render(label) + failStyle.Render(rest)
		} else {
			lines[i] = agentStyle.Render(label) + rest
		}
	}
	return strings.Join(lines, "\n")
}

func Run(sendFn SendFunc) error {
	p := tea.NewProgram(NewModel(sendFn), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
