package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/igorsilveira/caremesh/pkg/audit"
	"github.com/igorsilveira/caremesh/pkg/telemetry"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names served by the record backend.
const (
	ToolGetRecord    = "get_record"
	ToolListRecords  = "list_records"
	ToolUpdateRecord = "update_record"
	ToolCreateCase   = "create_case"
	ToolGetHistory   = "get_history"
)

// Tool errors carry one of these codes as a "code: message" prefix.
const (
	CodeNotFound     = "not_found"
	CodeInvalidInput = "invalid_input"
	CodeInternal     = "internal"
)

type GetRecordInput struct {
	PatientID int64 `json:"patient_id,omitempty" jsonschema:"id of the patient to fetch"`
}

type ListRecordsInput struct {
	Status string `json:"status,omitempty" jsonschema:"only return patients with this status"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of patients, default 20"`
}

type UpdateRecordInput struct {
	PatientID int64   `json:"patient_id,omitempty" jsonschema:"id of the patient to update"`
	Data      Changes `json:"data" jsonschema:"fields to change: name, date_of_birth (YYYY-MM-DD), status"`
}

type CreateCaseInput struct {
	PatientID int64  `json:"patient_id,omitempty" jsonschema:"id of the patient the case is for"`
	Complaint string `json:"complaint,omitempty" jsonschema:"short description of the complaint"`
	Urgency   string `json:"urgency,omitempty" jsonschema:"one of low, medium, high"`
}

type GetHistoryInput struct {
	PatientID int64 `json:"patient_id,omitempty" jsonschema:"id of the patient"`
}

// Server exposes a Repository as MCP tools.
type Server struct {
	repo     *Repository
	auditLog *audit.Logger
	logger   *slog.Logger
	mcp      *mcpsdk.Server
}

type ServerConfig struct {
	Repository *Repository
	AuditLog   *audit.Logger
	Logger     *slog.Logger
	Version    string
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	s := &Server{
		repo:     cfg.Repository,
		auditLog: cfg.AuditLog,
		logger:   telemetry.Component(cfg.Logger, "records"),
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "caremesh-records",
		Version: cfg.Version,
	}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolGetRecord,
		Description: "Retrieve a single patient using their ID.",
	}, s.getRecord)
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolListRecords,
		Description: "Return a list of patients, optionally filtered by status.",
	}, s.listRecords)
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolUpdateRecord,
		Description: "Modify patient fields such as name, date of birth, or status.",
	}, s.updateRecord)
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolCreateCase,
		Description: "Open a new triage case for a patient.",
	}, s.createCase)
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolGetHistory,
		Description: "Retrieve the encounter history for a patient, newest first.",
	}, s.getHistory)

	s.mcp = server
	return s
}

// MCP returns the underlying MCP server, for in-process or stdio sessions.
func (s *Server) MCP() *mcpsdk.Server {
	return s.mcp
}

// Handler serves the tools over the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.mcp
	}, nil)
}

// ServeStdio serves a single session over stdin/stdout until ctx is done or
// the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) getRecord(ctx context.Context, _ *mcpsdk.CallToolRequest, in GetRecordInput) (*mcpsdk.CallToolResult, any, error) {
	p, err := s.repo.GetPatient(ctx, in.PatientID)
	return s.respond(ctx, ToolGetRecord, audit.EventToolCall, map[string]any{"patient_id": in.PatientID}, p, err)
}

func (s *Server) listRecords(ctx context.Context, _ *mcpsdk.CallToolRequest, in ListRecordsInput) (*mcpsdk.CallToolResult, any, error) {
	list, err := s.repo.ListPatients(ctx, in.Status, in.Limit)
	return s.respond(ctx, ToolListRecords, audit.EventToolCall, map[string]any{"count": len(list)}, list, err)
}

func (s *Server) updateRecord(ctx context.Context, _ *mcpsdk.CallToolRequest, in UpdateRecordInput) (*mcpsdk.CallToolResult, any, error) {
	p, err := s.repo.UpdatePatient(ctx, in.PatientID, in.Data)
	return s.respond(ctx, ToolUpdateRecord, audit.EventRecordUpdate, map[string]any{"patient_id": in.PatientID, "changes": in.Data}, p, err)
}

func (s *Server) createCase(ctx context.Context, _ *mcpsdk.CallToolRequest, in CreateCaseInput) (*mcpsdk.CallToolResult, any, error) {
	c, err := s.repo.CreateCase(ctx, in.PatientID, in.Complaint, in.Urgency)
	return s.respond(ctx, ToolCreateCase, audit.EventCaseCreate, map[string]any{"patient_id": in.PatientID, "case_id": c.ID}, c, err)
}

func (s *Server) getHistory(ctx context.Context, _ *mcpsdk.CallToolRequest, in GetHistoryInput) (*mcpsdk.CallToolResult, any, error) {
	h, err := s.repo.History(ctx, in.PatientID)
	return s.respond(ctx, ToolGetHistory, audit.EventToolCall, map[string]any{"patient_id": in.PatientID, "count": len(h)}, h, err)
}

// respond turns a repository result into a tool result. Failures are
// reported as tool errors so the client can tell them apart from transport
// problems.
func (s *Server) respond(ctx context.Context, tool, event string, detail map[string]any, v any, err error) (*mcpsdk.CallToolResult, any, error) {
	if err != nil {
		code := errorCode(err)
		s.logger.Info("tool call failed",
			slog.String("tool", tool),
			slog.String("code", code),
			slog.String("err", err.Error()),
		)
		s.audit(ctx, audit.EventToolFail, tool, map[string]any{"code": code, "error": err.Error()})
		return errorResult(code, err), nil, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return errorResult(CodeInternal, err), nil, nil
	}
	s.logger.Debug("tool call", slog.String("tool", tool))
	s.audit(ctx, event, tool, detail)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
	}, nil, nil
}

func (s *Server) audit(ctx context.Context, event, tool string, detail map[string]any) {
	if s.auditLog == nil {
		return
	}
	detail["tool"] = tool
	if err := s.auditLog.Log(context.WithoutCancel(ctx), event, "", "records", "mcp", detail); err != nil {
		s.logger.Warn("audit log write failed", slog.String("err", err.Error()))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	default:
		return CodeInternal
	}
}

func errorResult(code string, err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf("%s: %s", code, err.Error())}},
	}
}
