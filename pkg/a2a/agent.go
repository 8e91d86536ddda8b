package a2a

import "context"

// Agent is the protocol surface every agent exposes, whether it runs in
// process (*Runtime) or behind HTTP (*Client).
type Agent interface {
	Name() string
	Card() AgentCard
	Send(ctx context.Context, msg Message, taskID string) (Task, error)
	SendStream(ctx context.Context, msg Message, taskID string) (*Stream, error)
	GetTask(ctx context.Context, id string) (Task, error)
	CancelTask(ctx context.Context, id string) (Task, error)
}

var (
	_ Agent = (*Runtime)(nil)
	_ Agent = (*Client)(nil)
)

type taskIDKey struct{}

// WithTaskID records the id of the task being executed, so tool calls and
// outbound agent calls can be attributed to it.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

func TaskIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}
