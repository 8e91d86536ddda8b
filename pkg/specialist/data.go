package specialist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/igorsilveira/caremesh/pkg/a2a"
	"github.com/igorsilveira/caremesh/pkg/records"
	"github.com/igorsilveira/caremesh/pkg/telemetry"
	"github.com/igorsilveira/caremesh/pkg/toolbackend"
)

const listLimit = 5

var (
	patientPattern = regexp.MustCompile(`\bpatient\s*(?:id\s*)?#?(\d+)\b`)
	datePattern    = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	statusPattern  = regexp.MustCompile(`\bstatus\s+(?:to\s+)?([a-z]+)\b`)

	caseTriggers = []string{"open a case", "open case", "new case", "create case", "create a case"}
	dobTriggers  = []string{"dob", "date of birth", "birthday"}
	statusWords  = []string{"stable", "monitoring", "urgent", "discharged"}
)

// ToolCall is one record backend operation planned from a request.
type ToolCall struct {
	Op     toolbackend.Operation
	Params map[string]any
}

// PlanData maps a free-text request onto backend operations. Writes are
// planned before reads so a combined request reports the updated record.
func PlanData(text string) []ToolCall {
	lower := strings.ToLower(text)
	patientID := int64(1)
	if m := patientPattern.FindStringSubmatch(lower); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			patientID = id
		}
	}

	var calls []ToolCall
	if strings.Contains(lower, "update") || strings.Contains(lower, "change") || strings.Contains(lower, "set ") {
		changes := map[string]any{}
		if containsAny(lower, dobTriggers) {
			if m := datePattern.FindStringSubmatch(lower); m != nil {
				changes["date_of_birth"] = m[1]
			}
		}
		if m := statusPattern.FindStringSubmatch(lower); m != nil && slices.Contains(statusWords, m[1]) {
			changes["status"] = m[1]
		}
		if len(changes) > 0 {
			calls = append(calls, ToolCall{Op: toolbackend.OpUpdateRecord, Params: map[string]any{
				"patient_id": patientID,
				"data":       changes,
			}})
		}
	}
	if containsAny(lower, caseTriggers) {
		calls = append(calls, ToolCall{Op: toolbackend.OpCreateCase, Params: map[string]any{
			"patient_id": patientID,
			"complaint":  strings.TrimSpace(text),
			"urgency":    urgency(lower),
		}})
	}
	if strings.Contains(lower, "history") {
		calls = append(calls, ToolCall{Op: toolbackend.OpGetHistory, Params: map[string]any{"patient_id": patientID}})
	}
	if strings.Contains(lower, "list") {
		params := map[string]any{"limit": listLimit}
		for _, s := range statusWords {
			if strings.Contains(lower, s) {
				params["status"] = s
				break
			}
		}
		calls = append(calls, ToolCall{Op: toolbackend.OpListRecords, Params: params})
	}
	if len(calls) == 0 {
		calls = append(calls, ToolCall{Op: toolbackend.OpGetRecord, Params: map[string]any{"patient_id": patientID}})
	}
	return calls
}

func urgency(lower string) string {
	switch {
	case containsAny(lower, []string{"chest pain", "shortness of breath", "fainting", "severe", "urgent"}):
		return "high"
	case containsAny(lower, []string{"fever", "cough", "pain", "dizz"}):
		return "medium"
	default:
		return "low"
	}
}

// Data is the patient data agent: it turns requests into record backend
// calls and summarizes what came back.
type Data struct {
	backend toolbackend.Caller
}

func NewData(backend toolbackend.Caller) *Data {
	return &Data{backend: backend}
}

func (d *Data) Execute(ctx context.Context, req a2a.ExecRequest) (a2a.Message, error) {
	text := latestText(req)
	if strings.TrimSpace(text) == "" {
		return a2a.Message{}, fmt.Errorf("data agent needs a text request: %w", a2a.ErrInvalidInput)
	}

	logger := telemetry.FromContext(ctx)
	calls := PlanData(text)

	var lines []string
	results := make([]any, 0, len(calls))
	for _, call := range calls {
		raw, err := d.backend.Call(ctx, call.Op, call.Params)
		if err != nil {
			return a2a.Message{}, fmt.Errorf("%s: %w", call.Op, err)
		}
		line, err := summarize(call, raw)
		if err != nil {
			return a2a.Message{}, fmt.Errorf("%s: decoding result: %w", call.Op, err)
		}
		logger.Debug("data agent step", slog.String("operation", string(call.Op)))

		var decoded any
		_ = json.Unmarshal(raw, &decoded)
		results = append(results, map[string]any{"operation": string(call.Op), "result": decoded})
		lines = append(lines, line)
		if len(calls) > 1 {
			req.Report(a2a.NewTextMessage(a2a.RoleAgent, line))
		}
	}

	return a2a.NewMessage(a2a.RoleAgent,
		a2a.TextPart{Text: strings.Join(lines, "\n")},
		a2a.DataPart{Data: map[string]any{"results": results}},
	), nil
}

func summarize(call ToolCall, raw json.RawMessage) (string, error) {
	switch call.Op {
	case toolbackend.OpGetRecord:
		var p records.Patient
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", err
		}
		return fmt.Sprintf("Patient record: %s (id %d), born %s, status %s.", p.Name, p.ID, p.DateOfBirth, p.Status), nil

	case toolbackend.OpListRecords:
		var list []records.Patient
		if err := json.Unmarshal(raw, &list); err != nil {
			return "", err
		}
		if len(list) == 0 {
			return "Patient list: no matching patients.", nil
		}
		names := make([]string, 0, len(list))
		for _, p := range list {
			names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.Status))
		}
		return fmt.Sprintf("Patient list (limit %d): %s.", listLimit, strings.Join(names, ", ")), nil

	case toolbackend.OpGetHistory:
		var encounters []records.Encounter
		if err := json.Unmarshal(raw, &encounters); err != nil {
			return "", err
		}
		id := call.Params["patient_id"]
		if len(encounters) == 0 {
			return fmt.Sprintf("Encounter history for patient %v: no encounters on file.", id), nil
		}
		notes := make([]string, 0, len(encounters))
		for _, e := range encounters {
			notes = append(notes, fmt.Sprintf("%s via %s: %s", e.CreatedAt.Format("2006-01-02"), e.Channel, e.Notes))
		}
		return fmt.Sprintf("Encounter history for patient %v: %s.", id, strings.Join(notes, "; ")), nil

	case toolbackend.OpUpdateRecord:
		var p records.Patient
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", err
		}
		changes, _ := call.Params["data"].(map[string]any)
		fields := make([]string, 0, len(changes))
		for k := range changes {
			fields = append(fields, k)
		}
		slices.Sort(fields)
		return fmt.Sprintf("Updated patient %d (%s): %s; date of birth %s, status %s.",
			p.ID, p.Name, strings.Join(fields, ", "), p.DateOfBirth, p.Status), nil

	case toolbackend.OpCreateCase:
		var c records.Case
		if err := json.Unmarshal(raw, &c); err != nil {
			return "", err
		}
		return fmt.Sprintf("Opened case %d for patient %d with %s urgency.", c.ID, c.PatientID, c.Urgency), nil
	}
	return string(raw), nil
}

// latestText is the text of the newest message in the task history.
func latestText(req a2a.ExecRequest) string {
	if len(req.History) == 0 {
		return ""
	}
	return req.History[len(req.History)-1].Text()
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
