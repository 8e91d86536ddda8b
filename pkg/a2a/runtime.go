package a2a

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/igorsilveira/caremesh/pkg/audit"
	"github.com/igorsilveira/caremesh/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ExecRequest is what an agent's decision logic sees for one run.
type ExecRequest struct {
	TaskID  string
	History []Message
	// Report publishes a partial result as a working snapshot. It is never
	// nil.
	Report func(Message)
}

// Executor is an agent's decision logic. It returns the result message or
// a typed failure; it never touches task state.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (Message, error)
}

type ExecutorFunc func(ctx context.Context, req ExecRequest) (Message, error)

func (f ExecutorFunc) Execute(ctx context.Context, req ExecRequest) (Message, error) {
	return f(ctx, req)
}

// Runtime wraps an Executor with the task protocol: task creation and
// resumption, the state machine, streaming and cancellation.
type Runtime struct {
	card     AgentCard
	name     string
	store    *TaskStore
	exec     Executor
	auditLog *audit.Logger
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

type RuntimeConfig struct {
	Name     string
	Card     AgentCard
	Store    *TaskStore
	Executor Executor
	AuditLog *audit.Logger
	Logger   *slog.Logger
}

func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.Name == "" {
		cfg.Name = cfg.Card.Name
	}
	if cfg.Store == nil {
		cfg.Store = NewTaskStore(cfg.Name)
	}
	return &Runtime{
		card:     cfg.Card,
		name:     cfg.Name,
		store:    cfg.Store,
		exec:     cfg.Executor,
		auditLog: cfg.AuditLog,
		logger:   telemetry.Component(cfg.Logger, cfg.Name),
		inflight: make(map[string]context.CancelFunc),
	}
}

func (r *Runtime) Name() string    { return r.name }
func (r *Runtime) Card() AgentCard { return r.card }

func (r *Runtime) GetTask(_ context.Context, id string) (Task, error) {
	return r.store.Get(id)
}

func (r *Runtime) Tasks() []Task {
	return r.store.List()
}

// Send runs the executor to completion and returns the terminal task.
// Executor failures come back as a failed task with a nil error; only a
// request-level AllAgentsFailed is also returned as the error.
func (r *Runtime) Send(ctx context.Context, msg Message, taskID string) (Task, error) {
	task, execCtx, err := r.begin(ctx, msg, taskID)
	if err != nil {
		return task, err
	}
	final := r.run(execCtx, task, func(Task) {})
	if final.Error != nil && final.Error.Code == CodeAllAgentsFailed {
		return final, final.Error
	}
	return final, nil
}

// SendStream starts the same computation as Send and returns a stream of
// task snapshots. Closing the stream before the terminal snapshot cancels
// the task.
func (r *Runtime) SendStream(ctx context.Context, msg Message, taskID string) (*Stream, error) {
	task, execCtx, err := r.begin(ctx, msg, taskID)
	if err != nil {
		return nil, err
	}

	st := newStream()
	telemetry.Metrics.ActiveStreams.Inc()
	go func() {
		defer telemetry.Metrics.ActiveStreams.Dec()
		defer close(st.updates)

		go func() {
			select {
			case <-st.done:
				r.cancelInflight(task.ID)
			case <-execCtx.Done():
			}
		}()

		if !st.emit(task) {
			r.cancelInflight(task.ID)
		}
		r.run(execCtx, task, func(t Task) { st.emit(t) })
	}()
	return st, nil
}

// CancelTask cancels a submitted or working task. A task that is already
// terminal is returned unchanged.
func (r *Runtime) CancelTask(ctx context.Context, id string) (Task, error) {
	task, err := r.store.Get(id)
	if err != nil {
		return Task{}, err
	}
	if task.State().Terminal() {
		return task, nil
	}

	task, err = r.store.Cancel(id)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return r.store.Get(id)
		}
		return task, err
	}
	r.cancelInflight(id)

	telemetry.Metrics.TaskTransitions.WithLabelValues(r.name, string(TaskStateCanceled)).Inc()
	r.logger.Info("task canceled", slog.String("task_id", id))
	r.auditLogEvent(ctx, audit.EventTaskCancel, id, "")
	return task, nil
}

// begin creates or resumes the task and registers its execution context.
// Malformed input fails before any task is created.
func (r *Runtime) begin(ctx context.Context, msg Message, taskID string) (Task, context.Context, error) {
	msg = msg.stamped()
	if err := msg.Validate(); err != nil {
		return Task{}, nil, err
	}

	if taskID == "" {
		task, err := r.store.Create(msg)
		if err != nil {
			return Task{}, nil, err
		}
		execCtx := r.register(ctx, task.ID)
		r.logger.Debug("task created", slog.String("task_id", task.ID))
		r.auditLogEvent(ctx, audit.EventTaskNew, task.ID, msg.Text())
		return task, execCtx, nil
	}

	r.mu.Lock()
	if _, busy := r.inflight[taskID]; busy {
		r.mu.Unlock()
		return Task{}, nil, fmt.Errorf("task %q is already executing: %w", taskID, ErrInvalidTransition)
	}
	execCtx, cancel := context.WithCancel(ctx)
	r.inflight[taskID] = cancel
	r.mu.Unlock()

	task, err := r.store.Append(taskID, msg)
	if err != nil {
		r.release(taskID)
		return task, nil, err
	}
	r.auditLogEvent(ctx, audit.EventTaskResume, task.ID, msg.Text())
	return task, execCtx, nil
}

func (r *Runtime) register(ctx context.Context, id string) context.Context {
	execCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.inflight[id] = cancel
	r.mu.Unlock()
	return execCtx
}

func (r *Runtime) release(id string) {
	r.mu.Lock()
	cancel, ok := r.inflight[id]
	delete(r.inflight, id)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *Runtime) cancelInflight(id string) {
	r.mu.Lock()
	cancel := r.inflight[id]
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run drives a registered task from submitted to a terminal state, handing
// every snapshot to emit.
func (r *Runtime) run(ctx context.Context, task Task, emit func(Task)) Task {
	defer r.release(task.ID)

	ctx, span := telemetry.StartSpan(ctx, "a2a.execute",
		attribute.String("agent", r.name),
		attribute.String("task_id", task.ID),
	)
	ctx = WithTaskID(ctx, task.ID)
	ctx = telemetry.WithLogger(ctx, r.logger.With(slog.String("task_id", task.ID)))

	working, err := r.store.Transition(task.ID, TaskStateWorking, nil, nil)
	if err != nil {
		// Canceled before it started.
		telemetry.EndSpan(span, err)
		current, _ := r.store.Get(task.ID)
		emit(current)
		return current
	}
	telemetry.Metrics.TaskTransitions.WithLabelValues(r.name, string(TaskStateWorking)).Inc()
	telemetry.Metrics.ActiveTasks.WithLabelValues(r.name).Inc()
	defer telemetry.Metrics.ActiveTasks.WithLabelValues(r.name).Dec()
	emit(working)

	req := ExecRequest{
		TaskID:  task.ID,
		History: working.History,
		Report: func(partial Message) {
			if snap, err := r.store.Progress(task.ID, partial); err == nil {
				emit(snap)
			}
		},
	}
	result, execErr := r.execute(ctx, req)
	if execErr == nil {
		if result.Role == "" {
			result.Role = RoleAgent
		}
		if result.ID == "" {
			result.ID = uuid.NewString()
		}
		if result.CreatedAt.IsZero() {
			result.CreatedAt = time.Now().UTC()
		}
		if verr := result.Validate(); verr != nil {
			execErr = fmt.Errorf("agent produced an invalid result: %w", verr)
		}
	}

	var final Task
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		final, err = r.store.Transition(task.ID, TaskStateCanceled, nil, nil)
	case execErr == nil && ctx.Err() != nil:
		// The executor finished after the caller's deadline.
		execErr = fmt.Errorf("agent %s: %w", r.name, ctx.Err())
		final, err = r.store.Transition(task.ID, TaskStateFailed, nil, execErr)
	case execErr != nil:
		final, err = r.store.Transition(task.ID, TaskStateFailed, nil, execErr)
	default:
		final, err = r.store.Transition(task.ID, TaskStateCompleted, &result, nil)
	}
	if err != nil {
		// Lost the race against CancelTask; the stored state stands.
		final, _ = r.store.Get(task.ID)
	} else {
		telemetry.Metrics.TaskTransitions.WithLabelValues(r.name, string(final.State())).Inc()
		r.finish(ctx, final, execErr)
	}
	telemetry.EndSpan(span, execErr)
	emit(final)
	return final
}

func (r *Runtime) execute(ctx context.Context, req ExecRequest) (msg Message, err error) {
	defer func() {
		if p := recover(); p != nil {
			telemetry.Metrics.ErrorsTotal.WithLabelValues(r.name).Inc()
			err = fmt.Errorf("agent %s panicked: %v", r.name, p)
		}
	}()
	if r.exec == nil {
		return Message{}, fmt.Errorf("agent %s has no executor", r.name)
	}
	return r.exec.Execute(ctx, req)
}

func (r *Runtime) finish(ctx context.Context, task Task, execErr error) {
	switch task.State() {
	case TaskStateCompleted:
		r.logger.Info("task completed", slog.String("task_id", task.ID))
		r.auditLogEvent(ctx, audit.EventTaskDone, task.ID, "")
	case TaskStateFailed:
		telemetry.Metrics.ErrorsTotal.WithLabelValues(r.name).Inc()
		r.logger.Warn("task failed",
			slog.String("task_id", task.ID),
			slog.String("code", ErrorCode(execErr)),
			slog.String("err", execErr.Error()),
		)
		r.auditLogEvent(ctx, audit.EventTaskFail, task.ID, execErr.Error())
	case TaskStateCanceled:
		r.logger.Info("task canceled during execution", slog.String("task_id", task.ID))
		r.auditLogEvent(ctx, audit.EventTaskCancel, task.ID, "")
	}
}

func (r *Runtime) auditLogEvent(ctx context.Context, eventType, taskID, detail string) {
	if r.auditLog == nil {
		return
	}
	// The request context may already be canceled; the audit write must not be.
	if err := r.auditLog.Log(context.WithoutCancel(ctx), eventType, taskID, r.name, "a2a", detail); err != nil {
		r.logger.Warn("audit log write failed", slog.String("err", err.Error()))
	}
}
