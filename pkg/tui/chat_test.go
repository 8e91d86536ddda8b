package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func typeText(m Model, text string) Model {
	for _, r := range text {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = next.(Model)
	}
	return m
}

// drain feeds command results back into the model until the request
// finishes.
func drain(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	for cmd != nil {
		next, c := m.Update(cmd())
		m = next.(Model)
		cmd = c
	}
	return m
}

func TestModel_SubmitStreamsProgress(t *testing.T) {
	var seen []string
	m := NewModel(func(input string, progress func(string)) (string, error) {
		progress("[data] Patient record: Ana Rivera")
		return "[data] Patient record: Ana Rivera\n[triage] Hi there", nil
	})
	m.width = 80

	m = typeText(m, "show patient 1")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if !m.waiting || cmd == nil {
		t.Fatal("expected a pending request")
	}

	first := cmd()
	if p, ok := first.(progressMsg); ok {
		seen = append(seen, p.content)
	}
	next, cmd = m.Update(first)
	m = drain(t, next.(Model), cmd)

	if m.waiting {
		t.Error("still waiting after response")
	}
	if len(seen) != 1 {
		t.Errorf("progress = %v", seen)
	}
	if len(m.messages) != 2 || m.messages[0].Content != "show patient 1" || m.messages[1].Role != "assistant" {
		t.Fatalf("messages = %+v", m.messages)
	}
	if !strings.Contains(m.View(), "Hi there") {
		t.Error("view missing answer")
	}
}

func TestModel_Error(t *testing.T) {
	m := NewModel(func(string, func(string)) (string, error) {
		return "", errors.New("router unavailable")
	})
	m = typeText(m, "hello")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = drain(t, next.(Model), cmd)

	if len(m.messages) != 2 || m.messages[1].Role != "error" || m.err == nil {
		t.Errorf("messages = %+v", m.messages)
	}
}

func TestModel_IgnoresEmptyInput(t *testing.T) {
	m := NewModel(func(string, func(string)) (string, error) {
		t.Fatal("send called for empty input")
		return "", nil
	})
	m = typeText(m, "   ")
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("expected no command")
	}
}

func TestRenderAnswer(t *testing.T) {
	out := RenderAnswer("[insurance] covered\n[data] failed (timeout): slow\nplain line")
	for _, want := range []string{"covered", "failed (timeout): slow", "plain line", "[insurance]", "[data]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}
