package a2a

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	DocumentationURL   string       `json:"documentationUrl,omitempty"`
	Capabilities       Capabilities `json:"capabilities"`
	DefaultInputModes  []string     `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string     `json:"defaultOutputModes,omitempty"`
	Skills             []Skill      `json:"skills,omitempty"`
}

type Capabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications"`
}

type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCanceled  TaskState = "canceled"
)

func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed || s == TaskStateCanceled
}

type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Task struct {
	ID        string       `json:"id"`
	Agent     string       `json:"agent"`
	Status    TaskStatus   `json:"status"`
	History   []Message    `json:"history"`
	Result    *Message     `json:"result,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func (t Task) State() TaskState { return t.Status.State }

// clone copies the slices and pointers a caller could otherwise use to
// reach into the store's record.
func (t Task) clone() Task {
	c := t
	c.History = append([]Message(nil), t.History...)
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	if t.Status.Message != nil {
		m := *t.Status.Message
		c.Status.Message = &m
	}
	return c
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Message struct {
	ID        string    `json:"messageId"`
	Role      Role      `json:"role"`
	Parts     Parts     `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewMessage(role Role, parts ...Part) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Parts:     append(Parts(nil), parts...),
		CreatedAt: time.Now().UTC(),
	}
}

func NewTextMessage(role Role, text string) Message {
	return NewMessage(role, TextPart{Text: text})
}

// stamped fills in the id and timestamp of a message received without
// them.
func (m Message) stamped() Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m
}

// Text joins the message's text parts with newlines.
func (m Message) Text() string {
	var texts []string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok && tp.Text != "" {
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (m Message) Validate() error {
	if m.Role != RoleUser && m.Role != RoleAgent {
		return fmt.Errorf("message role %q: %w", m.Role, ErrInvalidInput)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message has no parts: %w", ErrInvalidInput)
	}
	return nil
}

// Part is either a TextPart or a DataPart.
type Part interface {
	kind() string
}

type TextPart struct {
	Text string
}

func (TextPart) kind() string { return "text" }

type DataPart struct {
	Data map[string]any
}

func (DataPart) kind() string { return "data" }

type Parts []Part

type wirePart struct {
	Kind string         `json:"kind,omitempty"`
	Text *string        `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

func (ps Parts) MarshalJSON() ([]byte, error) {
	out := make([]wirePart, 0, len(ps))
	for _, p := range ps {
		switch v := p.(type) {
		case TextPart:
			text := v.Text
			out = append(out, wirePart{Kind: "text", Text: &text})
		case DataPart:
			out = append(out, wirePart{Kind: "data", Data: v.Data})
		default:
			return nil, fmt.Errorf("unsupported part %T", p)
		}
	}
	return json.Marshal(out)
}

func (ps *Parts) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parts: %w", ErrInvalidInput)
	}
	out := make(Parts, 0, len(raw))
	for i, r := range raw {
		p, err := decodePart(r)
		if err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		out = append(out, p)
	}
	*ps = out
	return nil
}

// decodePart accepts tagged parts as well as the untagged forms
// {"text": ...} and a bare structured object.
func decodePart(b []byte) (Part, error) {
	var w wirePart
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, ErrInvalidInput
	}
	switch w.Kind {
	case "text":
		if w.Text == nil {
			return nil, fmt.Errorf("text part without text: %w", ErrInvalidInput)
		}
		return TextPart{Text: *w.Text}, nil
	case "data":
		return DataPart{Data: w.Data}, nil
	case "":
		if w.Text != nil {
			return TextPart{Text: *w.Text}, nil
		}
		var obj map[string]any
		if err := json.Unmarshal(b, &obj); err != nil || len(obj) == 0 {
			return nil, fmt.Errorf("empty part: %w", ErrInvalidInput)
		}
		if w.Data != nil && len(obj) == 1 {
			return DataPart{Data: w.Data}, nil
		}
		return DataPart{Data: obj}, nil
	default:
		return nil, fmt.Errorf("unknown part kind %q: %w", w.Kind, ErrInvalidInput)
	}
}
