package router

import (
	"errors"
	"fmt"

	"github.com/igorsilveira/caremesh/pkg/a2a"
)

// Aggregate merges per-entry results into one agent message: a text part
// per entry in decision order, then a data part summarizing the outcome.
// Failed entries are labeled, never dropped.
func Aggregate(d Decision, results []Result) a2a.Message {
	parts := make([]a2a.Part, 0, len(d.Entries)+1)
	summary := make([]any, 0, len(d.Entries))

	for i, entry := range d.Entries {
		res := Result{Agent: entry.Agent, Err: fmt.Errorf("no result: %w", a2a.ErrUnavailable)}
		if i < len(results) {
			res = results[i]
		}
		parts = append(parts, a2a.TextPart{Text: resultLine(res)})

		item := map[string]any{"agent": res.Agent, "state": string(res.Task.State())}
		if res.Task.ID != "" {
			item["taskId"] = res.Task.ID
		}
		if res.Err != nil {
			item["error"] = map[string]any{"code": a2a.ErrorCode(res.Err), "message": failureMessage(res.Err)}
			if res.Task.State() == "" {
				item["state"] = string(a2a.TaskStateFailed)
			}
		}
		summary = append(summary, item)
	}

	parts = append(parts, a2a.DataPart{Data: map[string]any{"results": summary}})
	return a2a.NewMessage(a2a.RoleAgent, parts...)
}

func resultLine(res Result) string {
	if res.Err != nil {
		return fmt.Sprintf("[%s] failed (%s): %s", res.Agent, a2a.ErrorCode(res.Err), failureMessage(res.Err))
	}
	text := ""
	if res.Task.Result != nil {
		text = res.Task.Result.Text()
	}
	return fmt.Sprintf("[%s] %s", res.Agent, text)
}

func failureMessage(err error) string {
	var detail *a2a.ErrorDetail
	if errors.As(err, &detail) {
		return detail.Message
	}
	return err.Error()
}

// Card describes the router as an agent.
func Card(url string) a2a.AgentCard {
	return a2a.AgentCard{
		Name:               Name,
		Description:        "Routes patient requests to the data, triage and insurance agents and merges their answers.",
		URL:                url,
		Version:            "1.0.0",
		DocumentationURL:   "https://example.com/docs/router",
		Capabilities:       a2a.Capabilities{Streaming: true},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text", "data"},
		Skills: []a2a.Skill{{
			ID:          "route",
			Name:        "Request Routing",
			Description: "Classifies a request and coordinates the specialist agents that can answer it.",
			Tags:        []string{"router", "orchestration"},
			Examples: []string{
				"What is my copay?",
				"Show my history and update DOB to 1980-12-01",
				"I have a fever and cough",
			},
		}},
	}
}
