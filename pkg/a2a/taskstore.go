package a2a

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// transitions lists the legal edges of the task state machine. Terminal
// states have no outgoing edges.
var transitions = map[TaskState][]TaskState{
	TaskStateSubmitted: {TaskStateWorking, TaskStateCanceled},
	TaskStateWorking:   {TaskStateCompleted, TaskStateFailed, TaskStateCanceled},
}

func canTransition(from, to TaskState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type taskRecord struct {
	mu   sync.Mutex
	task Task
}

// TaskStore keeps one agent's tasks. The map lock only guards lookup and
// insertion; mutations take the per-task lock.
type TaskStore struct {
	agent string
	mu    sync.RWMutex
	tasks map[string]*taskRecord
	order []string
}

func NewTaskStore(agent string) *TaskStore {
	return &TaskStore{agent: agent, tasks: make(map[string]*taskRecord)}
}

func (s *TaskStore) Create(msg Message) (Task, error) {
	if err := msg.Validate(); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	rec := &taskRecord{task: Task{
		ID:        uuid.NewString(),
		Agent:     s.agent,
		Status:    TaskStatus{State: TaskStateSubmitted, Timestamp: now},
		History:   []Message{msg},
		CreatedAt: now,
		UpdatedAt: now,
	}}

	s.mu.Lock()
	s.tasks[rec.task.ID] = rec
	s.order = append(s.order, rec.task.ID)
	s.mu.Unlock()

	return rec.task.clone(), nil
}

func (s *TaskStore) lookup(id string) (*taskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	return rec, nil
}

func (s *TaskStore) Get(id string) (Task, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return Task{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.task.clone(), nil
}

// Append adds msg to a non-terminal task's history.
func (s *TaskStore) Append(id string, msg Message) (Task, error) {
	if err := msg.Validate(); err != nil {
		return Task{}, err
	}
	rec, err := s.lookup(id)
	if err != nil {
		return Task{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.task.Status.State.Terminal() {
		return rec.task.clone(), fmt.Errorf("task %q is %s: %w", id, rec.task.Status.State, ErrInvalidTransition)
	}
	rec.task.History = append(rec.task.History, msg)
	rec.task.UpdatedAt = time.Now().UTC()
	return rec.task.clone(), nil
}

// Transition moves the task to state. A non-nil result is appended to the
// history and kept as the task result; a non-nil cause is recorded as the
// task's error detail.
func (s *TaskStore) Transition(id string, state TaskState, result *Message, cause error) (Task, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return Task{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	from := rec.task.Status.State
	if !canTransition(from, state) {
		return rec.task.clone(), fmt.Errorf("task %q: %s -> %s: %w", id, from, state, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	rec.task.Status = TaskStatus{State: state, Timestamp: now}
	if result != nil {
		r := *result
		rec.task.History = append(rec.task.History, r)
		rec.task.Result = &r
		rec.task.Status.Message = &r
	}
	if cause != nil {
		rec.task.Error = NewErrorDetail(cause)
	}
	rec.task.UpdatedAt = now
	return rec.task.clone(), nil
}

// Progress records a partial result on a working task without changing
// its state.
func (s *TaskStore) Progress(id string, partial Message) (Task, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return Task{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.task.Status.State != TaskStateWorking {
		return rec.task.clone(), fmt.Errorf("task %q is %s: %w", id, rec.task.Status.State, ErrInvalidTransition)
	}
	now := time.Now().UTC()
	rec.task.Status.Message = &partial
	rec.task.Status.Timestamp = now
	rec.task.UpdatedAt = now
	return rec.task.clone(), nil
}

func (s *TaskStore) Cancel(id string) (Task, error) {
	return s.Transition(id, TaskStateCanceled, nil, nil)
}

func (s *TaskStore) List() []Task {
	s.mu.RLock()
	recs := make([]*taskRecord, 0, len(s.order))
	for _, id := range s.order {
		recs = append(recs, s.tasks[id])
	}
	s.mu.RUnlock()

	result := make([]Task, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		result = append(result, rec.task.clone())
		rec.mu.Unlock()
	}
	return result
}
