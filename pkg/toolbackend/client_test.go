package toolbackend

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/igorsilveira/caremesh/pkg/a2a"
	"github.com/igorsilveira/caremesh/pkg/audit"
	"github.com/igorsilveira/caremesh/pkg/records"
	"github.com/igorsilveira/caremesh/pkg/store"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type testEnv struct {
	client *Client
	audit  *audit.Logger
	store  *store.Store
}

func newTestEnv(t *testing.T, timeout time.Duration) testEnv {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "caremesh.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	repo, err := records.New(context.Background(), s.DB())
	if err != nil {
		t.Fatalf("records.New: %v", err)
	}
	auditLog, err := audit.New(s.DB())
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}

	backend := records.NewServer(records.ServerConfig{Repository: repo})
	c := New(Config{Timeout: timeout, AuditLog: auditLog})
	connectInMemory(t, c, backend.MCP())
	return testEnv{client: c, audit: auditLog, store: s}
}

func connectInMemory(t *testing.T, c *Client, server *mcpsdk.Server) {
	t.Helper()
	st, ct := mcpsdk.NewInMemoryTransports()
	if _, err := server.Connect(context.Background(), st, nil); err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	if err := c.Connect(context.Background(), ct); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
}

func TestClient_Call(t *testing.T) {
	env := newTestEnv(t, 0)

	raw, err := env.client.Call(context.Background(), OpGetRecord, map[string]any{"patient_id": 1})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var p records.Patient
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if p.Name != "Ana Rivera" {
		t.Errorf("Name = %q", p.Name)
	}
	if got := len(env.client.Tools()); got != 5 {
		t.Errorf("Tools = %d, want 5", got)
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	tests := []struct {
		name   string
		op     Operation
		params map[string]any
		want   error
	}{
		{"unknown patient", OpGetRecord, map[string]any{"patient_id": 99}, a2a.ErrNotFound},
		{"bad dob", OpUpdateRecord, map[string]any{"patient_id": 1, "data": map[string]any{"date_of_birth": "1-2-3"}}, a2a.ErrInvalidInput},
		{"bad urgency", OpCreateCase, map[string]any{"patient_id": 1, "complaint": "rash", "urgency": "eventually"}, a2a.ErrInvalidInput},
		{"unknown op", Operation("drop_table"), nil, a2a.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.client.Call(ctx, tt.op, tt.params); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := New(Config{})
	if _, err := c.Call(context.Background(), OpListRecords, nil); !errors.Is(err, a2a.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestClient_AuditsWithTaskID(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := a2a.WithTaskID(context.Background(), "task-123")

	if _, err := env.client.Call(ctx, OpGetHistory, map[string]any{"patient_id": 2}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if _, err := env.client.Call(ctx, OpGetRecord, map[string]any{"patient_id": 50}); err == nil {
		t.Fatal("expected failure")
	}

	entries, err := env.audit.Query(context.Background(), audit.Filter{TaskID: "task-123"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	events := map[string]int{}
	for _, e := range entries {
		events[e.EventType]++
	}
	if events[audit.EventToolCall] != 1 || events[audit.EventToolFail] != 1 {
		t.Errorf("events = %v", events)
	}
}

func slowBackend(release <-chan struct{}) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "slow", Version: "1.0.0"}, nil)
	wait := func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ map[string]any) (*mcpsdk.CallToolResult, any, error) {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-release:
		}
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "{}"}}}, nil, nil
	}
	for op := range operations {
		mcpsdk.AddTool(server, &mcpsdk.Tool{Name: string(op)}, wait)
	}
	return server
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	c := New(Config{Timeout: 50 * time.Millisecond})
	connectInMemory(t, c, slowBackend(release))

	start := time.Now()
	_, err := c.Call(context.Background(), OpGetRecord, map[string]any{"patient_id": 1})
	if a2a.ErrorCode(err) != a2a.CodeTimeout {
		t.Fatalf("err = %v, want timeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("call took %v", time.Since(start))
	}
}

func TestClient_MissingTools(t *testing.T) {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "partial", Version: "1.0.0"}, nil)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: string(OpGetRecord)}, func(context.Context, *mcpsdk.CallToolRequest, map[string]any) (*mcpsdk.CallToolResult, any, error) {
		return &mcpsdk.CallToolResult{}, nil, nil
	})

	st, ct := mcpsdk.NewInMemoryTransports()
	if _, err := server.Connect(context.Background(), st, nil); err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	c := New(Config{})
	if err := c.Connect(context.Background(), ct); !errors.Is(err, a2a.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestToolError(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"not_found: patient 9 does not exist", a2a.CodeNotFound},
		{"invalid_input: complaint is required", a2a.CodeInvalidInput},
		{"unavailable: database locked", a2a.CodeUnavailable},
		{"internal: boom", a2a.CodeUnavailable},
		{"no code here", a2a.CodeUnavailable},
	}
	for _, tt := range tests {
		if got := a2a.ErrorCode(toolError(OpGetRecord, tt.text)); got != tt.want {
			t.Errorf("toolError(%q) code = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestClient_StoreFailureIsUnavailable(t *testing.T) {
	env := newTestEnv(t, 0)
	if err := env.store.Close(); err != nil {
		t.Fatalf("closing store: %v", err)
	}

	_, err := env.client.Call(context.Background(), OpGetRecord, map[string]any{"patient_id": 1})
	if !errors.Is(err, a2a.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if code := a2a.ErrorCode(err); code != a2a.CodeUnavailable {
		t.Errorf("code = %q, want %q", code, a2a.CodeUnavailable)
	}
}

func TestClient_Ping(t *testing.T) {
	env := newTestEnv(t, 0)
	if err := env.client.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	_ = env.client.Close()
	if err := env.client.Ping(context.Background()); !errors.Is(err, a2a.ErrUnavailable) {
		t.Errorf("Ping after Close = %v, want ErrUnavailable", err)
	}
}
