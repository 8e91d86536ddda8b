package toolbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/igorsilveira/caremesh/pkg/a2a"
	"github.com/igorsilveira/caremesh/pkg/audit"
	"github.com/igorsilveira/caremesh/pkg/telemetry"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
)

type Operation string

const (
	OpGetRecord    Operation = "get_record"
	OpListRecords  Operation = "list_records"
	OpUpdateRecord Operation = "update_record"
	OpCreateCase   Operation = "create_case"
	OpGetHistory   Operation = "get_history"
)

var operations = map[Operation]bool{
	OpGetRecord:    true,
	OpListRecords:  true,
	OpUpdateRecord: true,
	OpCreateCase:   true,
	OpGetHistory:   true,
}

// Caller is the call contract agents use to reach the record backend.
type Caller interface {
	Call(ctx context.Context, op Operation, params map[string]any) (json.RawMessage, error)
}

// Client calls the record backend over an MCP session. Failures come back
// as a2a.ErrNotFound, a2a.ErrInvalidInput or a2a.ErrUnavailable.
type Client struct {
	mu       sync.Mutex
	client   *mcpsdk.Client
	session  *mcpsdk.ClientSession
	tools    []*mcpsdk.Tool
	timeout  time.Duration
	auditLog *audit.Logger
	logger   *slog.Logger
}

type Config struct {
	// Timeout bounds a single call when the caller's context has no
	// earlier deadline. Zero means no extra bound.
	Timeout  time.Duration
	AuditLog *audit.Logger
	Logger   *slog.Logger
}

func New(cfg Config) *Client {
	return &Client{
		client: mcpsdk.NewClient(&mcpsdk.Implementation{
			Name:    "caremesh",
			Version: "1.0.0",
		}, nil),
		timeout:  cfg.Timeout,
		auditLog: cfg.AuditLog,
		logger:   telemetry.Component(cfg.Logger, "toolbackend"),
	}
}

// HTTPTransport reaches a backend served over streamable HTTP.
func HTTPTransport(endpoint string, httpClient *http.Client) mcpsdk.Transport {
	return &mcpsdk.StreamableClientTransport{Endpoint: endpoint, HTTPClient: httpClient}
}

// CommandTransport starts the backend as a subprocess speaking MCP over
// stdio.
func CommandTransport(ctx context.Context, command string, args []string, env map[string]string) mcpsdk.Transport {
	cmd := exec.CommandContext(ctx, command, args...)
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	return &mcpsdk.CommandTransport{Command: cmd}
}

// Connect opens the session and checks that the backend serves every
// operation.
func (c *Client) Connect(ctx context.Context, transport mcpsdk.Transport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return fmt.Errorf("toolbackend: already connected")
	}
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("toolbackend: connecting: %v: %w", err, a2a.ErrUnavailable)
	}

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("toolbackend: listing tools: %v: %w", err, a2a.ErrUnavailable)
	}
	served := make(map[string]bool, len(result.Tools))
	for _, t := range result.Tools {
		served[t.Name] = true
	}
	for op := range operations {
		if !served[string(op)] {
			_ = session.Close()
			return fmt.Errorf("toolbackend: backend does not serve %s: %w", op, a2a.ErrUnavailable)
		}
	}

	c.session = session
	c.tools = result.Tools
	c.logger.Info("record backend connected", slog.Int("tools", len(result.Tools)))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.tools = nil
	return err
}

// Ping checks that the backend session is alive.
func (c *Client) Ping(ctx context.Context) error {
	session, err := c.currentSession()
	if err != nil {
		return err
	}
	if err := session.Ping(ctx, nil); err != nil {
		return fmt.Errorf("toolbackend: ping: %v: %w", err, a2a.ErrUnavailable)
	}
	return nil
}

// Tools lists what the backend advertised at connect time.
func (c *Client) Tools() []*mcpsdk.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools
}

func (c *Client) currentSession() (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, fmt.Errorf("toolbackend: not connected: %w", a2a.ErrUnavailable)
	}
	return c.session, nil
}

func (c *Client) Call(ctx context.Context, op Operation, params map[string]any) (json.RawMessage, error) {
	if !operations[op] {
		return nil, fmt.Errorf("toolbackend: unknown operation %q: %w", op, a2a.ErrInvalidInput)
	}
	if params == nil {
		params = map[string]any{}
	}

	ctx, span := telemetry.StartSpan(ctx, "toolbackend.call", attribute.String("operation", string(op)))
	start := time.Now()
	out, err := c.call(ctx, op, params)
	telemetry.EndSpan(span, err)

	telemetry.Metrics.ToolDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = a2a.ErrorCode(err)
	}
	telemetry.Metrics.ToolCalls.WithLabelValues(string(op), status).Inc()

	taskID := a2a.TaskIDFromContext(ctx)
	if err != nil {
		telemetry.FromContext(ctx).Warn("tool call failed",
			slog.String("operation", string(op)),
			slog.String("code", status),
			slog.String("err", err.Error()),
		)
		c.audit(ctx, audit.EventToolFail, taskID, map[string]any{"operation": op, "params": params, "error": err.Error()})
		return nil, err
	}
	telemetry.FromContext(ctx).Debug("tool call", slog.String("operation", string(op)))
	c.audit(ctx, audit.EventToolCall, taskID, map[string]any{"operation": op, "params": params})
	return out, nil
}

func (c *Client) call(ctx context.Context, op Operation, params map[string]any) (json.RawMessage, error) {
	session, err := c.currentSession()
	if err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      string(op),
		Arguments: params,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("toolbackend %s: %w", op, ctxErr)
		}
		return nil, fmt.Errorf("toolbackend %s: %v: %w", op, err, a2a.ErrUnavailable)
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		return nil, toolError(op, text)
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("toolbackend %s: result is not JSON", op)
	}
	return json.RawMessage(text), nil
}

// toolError maps the backend's "code: message" error text onto the error
// taxonomy.
func toolError(op Operation, text string) error {
	code, msg, ok := strings.Cut(text, ": ")
	if !ok {
		return fmt.Errorf("toolbackend %s: %s: %w", op, text, a2a.ErrUnavailable)
	}
	switch code {
	case a2a.CodeNotFound:
		return fmt.Errorf("toolbackend %s: %s: %w", op, msg, a2a.ErrNotFound)
	case a2a.CodeInvalidInput:
		return fmt.Errorf("toolbackend %s: %s: %w", op, msg, a2a.ErrInvalidInput)
	case a2a.CodeUnavailable, a2a.CodeInternal:
		// The backend could not serve the call, e.g. its store failed.
		return fmt.Errorf("toolbackend %s: %s: %w", op, msg, a2a.ErrUnavailable)
	default:
		return fmt.Errorf("toolbackend %s: %s: %w", op, text, a2a.ErrUnavailable)
	}
}

func (c *Client) audit(ctx context.Context, event, taskID string, detail map[string]any) {
	if c.auditLog == nil {
		return
	}
	if err := c.auditLog.Log(context.WithoutCancel(ctx), event, taskID, "data", "toolbackend", detail); err != nil {
		c.logger.Warn("audit log write failed", slog.String("err", err.Error()))
	}
}
