package specialist

import (
	"context"
	"fmt"
	"strings"

	"github.com/igorsilveira/caremesh/pkg/a2a"
)

// ContextMarker introduces upstream data appended to a triage request.
const ContextMarker = "Data context:"

const maxSuggestions = 3

// ParseTriagePrompt splits a request into the forwarded data context, if
// any, and what the user actually asked.
func ParseTriagePrompt(text string) (dataContext, request string) {
	if lead, rest, ok := strings.Cut(text, ContextMarker); ok {
		request = strings.TrimSpace(lead)
		if request == "" {
			request = "your request"
		}
		return strings.TrimSpace(rest), request
	}
	request = strings.TrimSpace(text)
	if request == "" {
		request = "your request"
	}
	return "", request
}

// Suggestions returns practical next steps for the request, most
// specific first. The last one is always the escalation offer.
func Suggestions(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	switch {
	case containsAny(lower, []string{"chest pain", "shortness of breath", "fainting"}):
		out = append(out,
			"If symptoms are severe or worsening, call emergency services immediately.",
			"Do not drive yourself; ask someone to help or call for transport.",
		)
	case containsAny(lower, []string{"fever", "cough", "sore throat"}):
		out = append(out,
			"Track your temperature, stay hydrated, and rest.",
			"If fever persists beyond 48 hours or you have breathing issues, seek urgent care.",
		)
	case containsAny(lower, []string{"medication", "refill", "prescription"}):
		out = append(out,
			"I can log a refill request and confirm the pharmacy details.",
			"Please share the medication name, dose, and preferred pharmacy.",
		)
	case containsAny(lower, []string{"history", "follow", "activity"}):
		out = append(out,
			"I reviewed your recent encounters and will flag any changes for the clinician.",
			"Let me know if your symptoms changed since the last check-in.",
		)
	default:
		out = append(out,
			"Share your symptoms, when they started, and any current medications.",
			"We can arrange a follow-up or connect you to a clinician if needed.",
		)
	}
	return append(out, "If this is urgent, reply here and I'll prioritize your case.")
}

// Triage answers with patient-facing guidance. It never exposes routing
// details or raw record payloads.
type Triage struct{}

func NewTriage() *Triage { return &Triage{} }

func (t *Triage) Execute(_ context.Context, req a2a.ExecRequest) (a2a.Message, error) {
	text := latestText(req)
	if strings.TrimSpace(text) == "" {
		return a2a.Message{}, fmt.Errorf("triage needs a text request: %w", a2a.ErrInvalidInput)
	}
	return a2a.NewTextMessage(a2a.RoleAgent, TriageReply(text)), nil
}

func TriageReply(text string) string {
	dataContext, request := ParseTriagePrompt(text)
	lower := strings.ToLower(text)

	lines := []string{"Hi there, thanks for reaching out."}
	if dataContext != "" {
		lines[0] = "Hi there, I reviewed the latest notes in your chart."
	}

	switch {
	case containsAny(lower, []string{"chest pain", "shortness of breath"}):
		lines = append(lines, "Chest symptoms can be serious, so I want to make sure you're safe.")
	case containsAny(lower, []string{"fever", "cough", "sore throat"}):
		lines = append(lines, "Respiratory symptoms can vary, so I'll ask a few key questions.")
	case dataContext != "":
		lines = append(lines, "I've reviewed the recent encounter notes you mentioned.")
	}

	lines = append(lines, fmt.Sprintf("Here's what I recommend based on %s:", request))
	steps := Suggestions(text)
	for _, s := range steps[:min(len(steps), maxSuggestions)] {
		lines = append(lines, "- "+s)
	}
	lines = append(lines, "If you'd like me to take action now, just reply to this message and I'll coordinate next steps.")
	return strings.Join(lines, "\n")
}
