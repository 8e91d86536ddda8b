package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/igorsilveira/caremesh/pkg/a2a"
)

func agent(name string, exec a2a.ExecutorFunc) *a2a.Runtime {
	return a2a.NewRuntime(a2a.RuntimeConfig{
		Card:     a2a.AgentCard{Name: name, Version: "1.0.0"},
		Executor: exec,
	})
}

func reply(text string) a2a.ExecutorFunc {
	return func(_ context.Context, req a2a.ExecRequest) (a2a.Message, error) {
		return a2a.NewTextMessage(a2a.RoleAgent, text), nil
	}
}

func delayed(d time.Duration, text string) a2a.ExecutorFunc {
	return func(ctx context.Context, _ a2a.ExecRequest) (a2a.Message, error) {
		select {
		case <-time.After(d):
			return a2a.NewTextMessage(a2a.RoleAgent, text), nil
		case <-ctx.Done():
			return a2a.Message{}, ctx.Err()
		}
	}
}

func failing(err error) a2a.ExecutorFunc {
	return func(context.Context, a2a.ExecRequest) (a2a.Message, error) {
		return a2a.Message{}, err
	}
}

type recorder struct {
	mu     sync.Mutex
	inputs []string
}

func (r *recorder) exec(text string) a2a.ExecutorFunc {
	return func(_ context.Context, req a2a.ExecRequest) (a2a.Message, error) {
		r.mu.Lock()
		r.inputs = append(r.inputs, req.History[len(req.History)-1].Text())
		r.mu.Unlock()
		return a2a.NewTextMessage(a2a.RoleAgent, text), nil
	}
}

func newRouter(t *testing.T, timeout time.Duration, agents ...a2a.Agent) *Router {
	t.Helper()
	r, err := New(Config{Agents: agents, CallTimeout: timeout})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func defaultAgents() []a2a.Agent {
	return []a2a.Agent{
		agent(AgentData, reply("Patient record: Ana Rivera")),
		agent(AgentTriage, reply("Hi there")),
		agent(AgentInsurance, reply("Insurance Agent Response")),
	}
}

func userText(text string) a2a.Message {
	return a2a.NewTextMessage(a2a.RoleUser, text)
}

func TestClassify(t *testing.T) {
	r := newRouter(t, 0, defaultAgents()...)

	tests := []struct {
		text       string
		agents     []string
		sequential []bool
	}{
		{"What is my copay?", []string{AgentInsurance}, []bool{false}},
		{"show my history and update DOB to 1980-12-01", []string{AgentData, AgentTriage}, []bool{false, true}},
		{"I have a fever and cough", []string{AgentTriage}, []bool{false}},
		{"Does my insurance cover the visit in my chart?", []string{AgentInsurance, AgentData, AgentTriage}, []bool{false, false, true}},
		{"", []string{AgentTriage}, []bool{false}},
		{"I need a specialist", []string{AgentTriage}, []bool{false}},
		{"my adobe login is broken", []string{AgentTriage}, []bool{false}},
		{"what are my benefits?", []string{AgentInsurance}, []bool{false}},
		{"pull my records", []string{AgentData, AgentTriage}, []bool{false, true}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			d := r.Classify(userText(tt.text))
			if got := d.Agents(); !reflect.DeepEqual(got, tt.agents) {
				t.Fatalf("agents = %v, want %v", got, tt.agents)
			}
			for i, e := range d.Entries {
				if e.Sequential != tt.sequential[i] {
					t.Errorf("entry %d sequential = %v, want %v", i, e.Sequential, tt.sequential[i])
				}
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	r := newRouter(t, 0, defaultAgents()...)
	msg := userText("copay question about my patient history")

	first := r.Classify(msg).Agents()
	for range 50 {
		if got := r.Classify(msg).Agents(); !reflect.DeepEqual(got, first) {
			t.Fatalf("classification changed: %v vs %v", got, first)
		}
	}
}

func TestClassify_Groups(t *testing.T) {
	rules := []Rule{
		{Name: "billing", Keywords: []string{"bill"}, Targets: []Target{{Agent: AgentInsurance}}, Group: "money"},
		{Name: "copay", Keywords: []string{"copay"}, Targets: []Target{{Agent: AgentData}}, Group: "money"},
		{Name: "symptoms", Keywords: []string{"cough"}, Targets: []Target{{Agent: AgentTriage}}},
	}
	r, err := New(Config{Agents: defaultAgents(), Rules: rules})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := r.Classify(userText("my copay bill and a cough"))
	if got, want := d.Agents(), []string{AgentInsurance, AgentTriage}; !reflect.DeepEqual(got, want) {
		t.Errorf("agents = %v, want %v", got, want)
	}
	if got, want := d.Rules, []string{"billing", "symptoms"}; !reflect.DeepEqual(got, want) {
		t.Errorf("rules = %v, want %v", got, want)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Agents: []a2a.Agent{agent(AgentTriage, reply("x"))}}); err == nil {
		t.Error("expected error for rules targeting unregistered agents")
	}
	if _, err := New(Config{Agents: defaultAgents(), Fallback: "nobody"}); err == nil {
		t.Error("expected error for unknown fallback")
	}
	bad := []Rule{{Name: "empty", Targets: []Target{{Agent: AgentTriage}}}}
	if _, err := New(Config{Agents: defaultAgents(), Rules: bad}); err == nil {
		t.Error("expected error for rule without keywords")
	}
}

func TestHandle_Copay(t *testing.T) {
	r := newRouter(t, time.Second, defaultAgents()...)

	msg, err := r.Handle(context.Background(), "req-1", userText("What is my copay?"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := msg.Text(); got != "[insurance] Insurance Agent Response" {
		t.Errorf("text = %q", got)
	}
	if msg.Role != a2a.RoleAgent {
		t.Errorf("role = %q", msg.Role)
	}
}

func TestHandle_HistoryAndDOB(t *testing.T) {
	var triage recorder
	r := newRouter(t, time.Second,
		agent(AgentData, reply("Updated patient 1: date of birth 1980-12-01")),
		agent(AgentTriage, triage.exec("Hi there, I reviewed the latest notes in your chart.")),
		agent(AgentInsurance, reply("unused")),
	)

	msg, err := r.Handle(context.Background(), "req-2", userText("show my history and update DOB to 1980-12-01"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	lines := strings.Split(msg.Text(), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "[data] ") || !strings.HasPrefix(lines[1], "[triage] ") {
		t.Fatalf("text = %q", msg.Text())
	}
	if len(triage.inputs) != 1 {
		t.Fatalf("triage calls = %d", len(triage.inputs))
	}
	want := "show my history and update DOB to 1980-12-01\n" + ContextPrefix + "Updated patient 1: date of birth 1980-12-01"
	if triage.inputs[0] != want {
		t.Errorf("triage input = %q, want %q", triage.inputs[0], want)
	}
}

func TestHandle_DataTimeout(t *testing.T) {
	var triage recorder
	r := newRouter(t, 100*time.Millisecond,
		agent(AgentData, delayed(5*time.Second, "too late")),
		agent(AgentTriage, triage.exec("Hi there")),
		agent(AgentInsurance, reply("Insurance Agent Response")),
	)

	msg, err := r.Handle(context.Background(), "req-3", userText("Is my patient history covered by insurance?"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	text := msg.Text()
	if !strings.Contains(text, "[insurance] Insurance Agent Response") {
		t.Errorf("insurance portion missing: %q", text)
	}
	if !strings.Contains(text, "[data] failed (timeout)") {
		t.Errorf("timeout notice missing: %q", text)
	}
	// Triage still runs on the original input when data failed.
	if len(triage.inputs) != 1 || strings.Contains(triage.inputs[0], ContextPrefix) {
		t.Errorf("triage inputs = %q", triage.inputs)
	}

	var summary []any
	for _, p := range msg.Parts {
		if dp, ok := p.(a2a.DataPart); ok {
			summary, _ = dp.Data["results"].([]any)
		}
	}
	if len(summary) != 3 {
		t.Fatalf("summary = %v", summary)
	}
	data := summary[1].(map[string]any)
	if errInfo, _ := data["error"].(map[string]any); errInfo["code"] != a2a.CodeTimeout {
		t.Errorf("data summary = %v", data)
	}
}

func TestDispatch_OrderUnderLatency(t *testing.T) {
	rules := []Rule{
		{Name: "slow", Keywords: []string{"x"}, Targets: []Target{{Agent: "slow"}}},
		{Name: "fast", Keywords: []string{"x"}, Targets: []Target{{Agent: "fast"}}},
		{Name: "medium", Keywords: []string{"x"}, Targets: []Target{{Agent: "medium"}}},
	}
	r, err := New(Config{
		Agents: []a2a.Agent{
			agent("slow", delayed(150*time.Millisecond, "s")),
			agent("fast", reply("f")),
			agent("medium", delayed(50*time.Millisecond, "m")),
			agent(AgentTriage, reply("t")),
		},
		Rules: rules,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	d := r.Classify(userText("x"))
	results, err := r.Dispatch(context.Background(), "req-4", d)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("entries did not overlap: %v", elapsed)
	}
	if got := Aggregate(d, results).Text(); got != "[slow] s\n[fast] f\n[medium] m" {
		t.Errorf("text = %q", got)
	}
}

func TestDispatch_AllAgentsFailed(t *testing.T) {
	r := newRouter(t, time.Second,
		agent(AgentData, reply("x")),
		agent(AgentTriage, reply("x")),
		agent(AgentInsurance, failing(errors.New("coverage service down"))),
	)

	d := r.Classify(userText("copay"))
	results, err := r.Dispatch(context.Background(), "req-5", d)
	if !errors.Is(err, a2a.ErrAllAgentsFailed) {
		t.Fatalf("err = %v, want ErrAllAgentsFailed", err)
	}
	msg := Aggregate(d, results)
	if !strings.HasPrefix(msg.Text(), "[insurance] failed (internal): ") {
		t.Errorf("text = %q", msg.Text())
	}
}

func TestDispatch_EmptyDecision(t *testing.T) {
	r := newRouter(t, time.Second, defaultAgents()...)
	if _, err := r.Dispatch(context.Background(), "req-6", Decision{}); !errors.Is(err, a2a.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCancel(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	blocking := func(ctx context.Context, _ a2a.ExecRequest) (a2a.Message, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return a2a.Message{}, ctx.Err()
	}
	r := newRouter(t, 10*time.Second,
		agent(AgentData, blocking),
		agent(AgentTriage, reply("x")),
		agent(AgentInsurance, blocking),
	)

	if r.Cancel("unknown") {
		t.Error("Cancel of unknown request reported true")
	}

	type outcome struct {
		results []Result
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		d := r.Classify(userText("copay for patient 1"))
		results, err := r.Dispatch(context.Background(), "req-7", d)
		done <- outcome{results, err}
	}()

	<-started
	r.Cancel("req-7")
	r.Cancel("req-7")

	select {
	case out := <-done:
		if !errors.Is(out.err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", out.err)
		}
		for _, res := range out.results {
			if res.OK() {
				t.Errorf("%s succeeded after cancel", res.Agent)
			}
			if res.Task.ID != "" && res.Task.State() != a2a.TaskStateCanceled {
				t.Errorf("%s task state = %s", res.Agent, res.Task.State())
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch did not return after Cancel")
	}

	if r.Cancel("req-7") {
		t.Error("Cancel of finished request reported true")
	}
}

func TestRouterAsAgent(t *testing.T) {
	r := newRouter(t, time.Second, defaultAgents()...)
	rt := a2a.NewRuntime(a2a.RuntimeConfig{Card: Card("http://localhost:8010"), Executor: r})

	st, err := rt.SendStream(context.Background(), userText("copay and my chart"), "")
	if err != nil {
		t.Fatalf("SendStream: %v", err)
	}
	var states []a2a.TaskState
	var final a2a.Task
	for task := range st.All() {
		states = append(states, task.State())
		final = task
	}
	// submitted, working, one partial per entry, completed
	if len(states) != 6 {
		t.Errorf("states = %v", states)
	}
	if final.State() != a2a.TaskStateCompleted {
		t.Fatalf("final = %s", final.State())
	}
	want := "[insurance] Insurance Agent Response\n[data] Patient record: Ana Rivera\n[triage] Hi there"
	if got := final.Result.Text(); got != want {
		t.Errorf("result = %q, want %q", got, want)
	}
}

func TestRouterAsAgent_AllFailed(t *testing.T) {
	r := newRouter(t, time.Second,
		agent(AgentData, reply("x")),
		agent(AgentTriage, failing(errors.New("triage offline"))),
		agent(AgentInsurance, reply("x")),
	)
	rt := a2a.NewRuntime(a2a.RuntimeConfig{Card: Card(""), Executor: r})

	task, err := rt.Send(context.Background(), userText("I feel unwell"), "")
	if !errors.Is(err, a2a.ErrAllAgentsFailed) {
		t.Fatalf("err = %v, want ErrAllAgentsFailed", err)
	}
	if task.State() != a2a.TaskStateFailed || task.Error.Code != a2a.CodeAllAgentsFailed {
		t.Errorf("task = %s / %+v", task.State(), task.Error)
	}
}

func TestRouterCancelPropagates(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	data := agent(AgentData, func(ctx context.Context, _ a2a.ExecRequest) (a2a.Message, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return a2a.Message{}, ctx.Err()
	})
	r := newRouter(t, 10*time.Second, data, agent(AgentTriage, reply("x")), agent(AgentInsurance, reply("x")))
	rt := a2a.NewRuntime(a2a.RuntimeConfig{Card: Card(""), Executor: r})

	result := make(chan a2a.Task, 1)
	go func() {
		task, _ := rt.Send(context.Background(), userText("show patient 1"), "")
		result <- task
	}()
	<-started

	tasks := rt.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("router tasks = %d", len(tasks))
	}
	if _, err := rt.CancelTask(context.Background(), tasks[0].ID); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}

	select {
	case task := <-result:
		if task.State() != a2a.TaskStateCanceled {
			t.Errorf("router task = %s", task.State())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("router task did not finish")
	}

	waitSettled(t, data, a2a.TaskStateCanceled)
}

// waitSettled waits until every task of rt is in state want.
func waitSettled(t *testing.T, rt *a2a.Runtime, want a2a.TaskState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		tasks := rt.Tasks()
		settled := len(tasks) > 0
		for _, task := range tasks {
			if task.State() != want {
				settled = false
			}
		}
		if settled {
			return
		}
		if time.Now().After(deadline) {
			for _, task := range tasks {
				t.Errorf("task %s = %s, want %s", task.ID, task.State(), want)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandle_DeadlineIgnoredByAgent(t *testing.T) {
	data := agent(AgentData, func(context.Context, a2a.ExecRequest) (a2a.Message, error) {
		time.Sleep(1500 * time.Millisecond)
		return a2a.NewTextMessage(a2a.RoleAgent, "too late"), nil
	})
	r := newRouter(t, 50*time.Millisecond,
		data,
		agent(AgentTriage, reply("Hi")),
		agent(AgentInsurance, reply("Insurance")),
	)

	start := time.Now()
	msg, err := r.Handle(context.Background(), "req-slow", userText("copay and patient history"))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("Handle took %s, want it bounded by the call timeout", elapsed)
	}

	want := []string{"[insurance] Insurance", "[data] failed (timeout)", "[triage] Hi"}
	lines := strings.Split(msg.Text(), "\n")
	if len(lines) != len(want) {
		t.Fatalf("lines = %q", lines)
	}
	for i, prefix := range want {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], prefix)
		}
	}

	// The abandoned data task settles as failed instead of completed.
	waitSettled(t, data, a2a.TaskStateFailed)
	for _, task := range data.Tasks() {
		if task.Error == nil || task.Error.Code != a2a.CodeTimeout {
			t.Errorf("data task error = %+v, want timeout", task.Error)
		}
	}
}
