package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/igorsilveira/caremesh/pkg/a2a"
	"github.com/igorsilveira/caremesh/pkg/audit"
	"github.com/igorsilveira/caremesh/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	Name               = "router"
	DefaultCallTimeout = 30 * time.Second

	// ContextPrefix introduces the previous entry's result in the input of
	// a sequential entry.
	ContextPrefix = "Data context: "
)

// Result is the outcome of one entry. Err is nil only when the agent's
// task completed.
type Result struct {
	Agent    string
	Task     a2a.Task
	Err      error
	Duration time.Duration
}

func (r Result) OK() bool { return r.Err == nil }

// Router classifies requests, fans them out to agents and merges the
// answers. It never changes an agent's task; it only reads responses.
type Router struct {
	agents      map[string]a2a.Agent
	rules       []Rule
	fallback    string
	callTimeout time.Duration
	auditLog    *audit.Logger
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

type Config struct {
	Agents []a2a.Agent
	// Rules defaults to DefaultRules.
	Rules []Rule
	// Fallback is the agent used when no rule matches. Defaults to triage.
	Fallback    string
	CallTimeout time.Duration
	AuditLog    *audit.Logger
	Logger      *slog.Logger
}

// New checks that every agent the rule table names is registered.
func New(cfg Config) (*Router, error) {
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}
	if cfg.Fallback == "" {
		cfg.Fallback = AgentTriage
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	agents := make(map[string]a2a.Agent, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents[a.Name()] = a
	}
	if _, ok := agents[cfg.Fallback]; !ok {
		return nil, fmt.Errorf("router: fallback agent %q is not registered", cfg.Fallback)
	}
	for _, rule := range cfg.Rules {
		if len(rule.Keywords) == 0 || len(rule.Targets) == 0 {
			return nil, fmt.Errorf("router: rule %q needs keywords and targets", rule.Name)
		}
		for _, t := range rule.Targets {
			if _, ok := agents[t.Agent]; !ok {
				return nil, fmt.Errorf("router: rule %q targets unknown agent %q", rule.Name, t.Agent)
			}
		}
	}

	rules := make([]Rule, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		rules = append(rules, rule.compile())
	}

	return &Router{
		agents:      agents,
		rules:       rules,
		fallback:    cfg.Fallback,
		callTimeout: cfg.CallTimeout,
		auditLog:    cfg.AuditLog,
		logger:      telemetry.Component(cfg.Logger, Name),
		inflight:    make(map[string]context.CancelFunc),
	}, nil
}

// Classify is deterministic: the same text always yields the same
// decision.
func (r *Router) Classify(msg a2a.Message) Decision {
	return classify(r.rules, r.fallback, msg)
}

// Dispatch runs every entry of the decision. Results come back in decision
// order. Individual failures are reported per entry; the error is non-nil
// only when every entry failed or the request was canceled.
func (r *Router) Dispatch(ctx context.Context, requestID string, d Decision) ([]Result, error) {
	return r.dispatch(ctx, requestID, d, nil)
}

func (r *Router) dispatch(ctx context.Context, requestID string, d Decision, onResult func(Result)) ([]Result, error) {
	if len(d.Entries) == 0 {
		return nil, fmt.Errorf("router: empty routing decision: %w", a2a.ErrInvalidInput)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.register(requestID, cancel)
	defer r.unregister(requestID)

	ctx, span := telemetry.StartSpan(ctx, "router.dispatch",
		attribute.String("request_id", requestID),
		attribute.StringSlice("agents", d.Agents()),
	)
	logger := telemetry.FromContext(ctx).With(slog.String("request_id", requestID))

	results := make([]Result, len(d.Entries))
	done := make([]chan struct{}, len(d.Entries))
	for i := range done {
		done[i] = make(chan struct{})
	}

	var reportMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range d.Entries {
		g.Go(func() error {
			defer close(done[i])

			msg := entry.Message
			if entry.Sequential && i > 0 {
				select {
				case <-done[i-1]:
				case <-gctx.Done():
					results[i] = Result{Agent: entry.Agent, Err: gctx.Err()}
					return nil
				}
				if prev := results[i-1]; prev.OK() && prev.Task.Result != nil {
					msg = withContext(msg, prev.Task.Result.Text())
				}
			}

			results[i] = r.call(gctx, entry.Agent, msg)
			if res := results[i]; !res.OK() {
				logger.Warn("agent call failed",
					slog.String("agent", res.Agent),
					slog.String("code", a2a.ErrorCode(res.Err)),
					slog.String("err", res.Err.Error()),
				)
			}
			if onResult != nil {
				reportMu.Lock()
				onResult(results[i])
				reportMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	err := outcome(ctx, results)
	label := "complete"
	switch {
	case errors.Is(err, a2a.ErrAllAgentsFailed):
		label = "all_failed"
	case err != nil:
		label = "canceled"
	case failedCount(results) > 0:
		label = "partial"
	}
	telemetry.Metrics.Dispatches.WithLabelValues(label).Inc()
	telemetry.EndSpan(span, err)
	logger.Info("request dispatched",
		slog.Any("agents", d.Agents()),
		slog.String("outcome", label),
	)
	r.auditDispatch(ctx, requestID, d, results, label)
	return results, err
}

func outcome(ctx context.Context, results []Result) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("router: request canceled: %w", ctx.Err())
	}
	if failedCount(results) < len(results) {
		return nil
	}
	msgs := make([]string, 0, len(results))
	for _, res := range results {
		msgs = append(msgs, fmt.Sprintf("%s: %s", res.Agent, a2a.ErrorCode(res.Err)))
	}
	return fmt.Errorf("router: %s: %w", strings.Join(msgs, ", "), a2a.ErrAllAgentsFailed)
}

func failedCount(results []Result) int {
	n := 0
	for _, res := range results {
		if !res.OK() {
			n++
		}
	}
	return n
}

// call sends msg to one agent under the per-call deadline and folds the
// task outcome into a Result.
func (r *Router) call(ctx context.Context, name string, msg a2a.Message) Result {
	ctx, span := telemetry.StartSpan(ctx, "router.call", attribute.String("agent", name))
	start := time.Now()

	res := Result{Agent: name}
	agent, ok := r.agents[name]
	if !ok {
		res.Err = fmt.Errorf("agent %q is not registered: %w", name, a2a.ErrUnavailable)
	} else {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		res.Task, res.Err = send(callCtx, agent, msg)
		res.Err = taskError(ctx, callCtx, res, r.callTimeout)
		cancel()
	}
	res.Duration = time.Since(start)

	telemetry.Metrics.AgentCallDuration.WithLabelValues(name).Observe(res.Duration.Seconds())
	status := "ok"
	if res.Err != nil {
		status = a2a.ErrorCode(res.Err)
	}
	telemetry.Metrics.AgentCalls.WithLabelValues(name, status).Inc()
	telemetry.EndSpan(span, res.Err)
	return res
}

type sendResult struct {
	task a2a.Task
	err  error
}

// send returns as soon as ctx is done, even when the agent keeps running.
// The abandoned call sees ctx canceled and settles its own task.
func send(ctx context.Context, agent a2a.Agent, msg a2a.Message) (a2a.Task, error) {
	done := make(chan sendResult, 1)
	go func() {
		task, err := agent.Send(ctx, msg, "")
		done <- sendResult{task: task, err: err}
	}()
	select {
	case out := <-done:
		return out.task, out.err
	case <-ctx.Done():
		return a2a.Task{}, ctx.Err()
	}
}

func taskError(parent, callCtx context.Context, res Result, timeout time.Duration) error {
	// The call's own deadline expired while the request is still live.
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s did not answer within %s: %w", res.Agent, timeout, a2a.ErrTimeout)
	}
	if res.Err != nil {
		return res.Err
	}
	switch res.Task.State() {
	case a2a.TaskStateCompleted:
		return nil
	case a2a.TaskStateCanceled:
		return fmt.Errorf("%s task %s was canceled: %w", res.Agent, res.Task.ID, context.Canceled)
	case a2a.TaskStateFailed:
		if res.Task.Error != nil {
			return res.Task.Error
		}
		return fmt.Errorf("%s task %s failed", res.Agent, res.Task.ID)
	default:
		return fmt.Errorf("%s returned task %s in state %s: %w", res.Agent, res.Task.ID, res.Task.State(), a2a.ErrInvalidTransition)
	}
}

func withContext(msg a2a.Message, text string) a2a.Message {
	if strings.TrimSpace(text) == "" {
		return msg
	}
	parts := append(a2a.Parts(nil), msg.Parts...)
	parts = append(parts, a2a.TextPart{Text: ContextPrefix + text})
	return a2a.NewMessage(msg.Role, parts...)
}

// Cancel stops every in-flight call of a request. It reports whether the
// request was still running; unknown and finished requests are a no-op.
func (r *Router) Cancel(requestID string) bool {
	r.mu.Lock()
	cancel, ok := r.inflight[requestID]
	r.mu.Unlock()
	if ok {
		cancel()
		r.logger.Info("request canceled", slog.String("request_id", requestID))
	}
	return ok
}

func (r *Router) register(requestID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight[requestID] = cancel
}

func (r *Router) unregister(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, requestID)
}

// Handle classifies, dispatches and aggregates one request.
func (r *Router) Handle(ctx context.Context, requestID string, msg a2a.Message) (a2a.Message, error) {
	d := r.Classify(msg)
	results, err := r.Dispatch(ctx, requestID, d)
	return Aggregate(d, results), err
}

// Execute lets the router run as an agent. The task id doubles as the
// request id, so cancelling the router task reaches every agent call.
// Each finished entry is reported as a partial result.
func (r *Router) Execute(ctx context.Context, req a2a.ExecRequest) (a2a.Message, error) {
	if len(req.History) == 0 {
		return a2a.Message{}, fmt.Errorf("router: empty history: %w", a2a.ErrInvalidInput)
	}
	msg := req.History[len(req.History)-1]

	d := r.Classify(msg)
	results, err := r.dispatch(ctx, req.TaskID, d, func(res Result) {
		req.Report(a2a.NewTextMessage(a2a.RoleAgent, resultLine(res)))
	})
	answer := Aggregate(d, results)
	if err != nil {
		if errors.Is(err, a2a.ErrAllAgentsFailed) {
			req.Report(answer)
		}
		return a2a.Message{}, err
	}
	return answer, nil
}

func (r *Router) auditDispatch(ctx context.Context, requestID string, d Decision, results []Result, label string) {
	if r.auditLog == nil {
		return
	}
	summary := make([]map[string]any, 0, len(results))
	for _, res := range results {
		summary = append(summary, map[string]any{
			"agent":   res.Agent,
			"task_id": res.Task.ID,
			"code":    a2a.ErrorCode(res.Err),
		})
	}
	detail := map[string]any{"rules": d.Rules, "outcome": label, "results": summary}
	if err := r.auditLog.Log(context.WithoutCancel(ctx), audit.EventDispatch, requestID, Name, "router", detail); err != nil {
		r.logger.Warn("audit log write failed", slog.String("err", err.Error()))
	}
}
