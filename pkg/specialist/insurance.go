package specialist

import (
	"context"
	"fmt"
	"strings"

	"github.com/igorsilveira/caremesh/pkg/a2a"
)

// Insurance answers coverage, copay and benefits questions.
type Insurance struct{}

func NewInsurance() *Insurance { return &Insurance{} }

func (i *Insurance) Execute(_ context.Context, req a2a.ExecRequest) (a2a.Message, error) {
	text := strings.TrimSpace(latestText(req))
	if text == "" {
		return a2a.Message{}, fmt.Errorf("insurance needs a text request: %w", a2a.ErrInvalidInput)
	}
	reply := "Insurance Agent Response:\n" +
		"I handle coverage checks, copay explanations, and benefits questions.\n" +
		"Your request: " + text
	return a2a.NewTextMessage(a2a.RoleAgent, reply), nil
}
