package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/igorsilveira/caremesh/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const AgentCardPath = "/.well-known/agent-card.json"

type Handler struct {
	router    chi.Router
	runtime   *Runtime
	logger    *slog.Logger
	authToken string
}

type HandlerConfig struct {
	Runtime   *Runtime
	Logger    *slog.Logger
	AuthToken string
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		runtime:   cfg.Runtime,
		logger:    cfg.Logger,
		authToken: cfg.AuthToken,
	}
	h.buildRouter()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) buildRouter() {
	r := chi.NewRouter()
	r.Use(traceMiddleware)
	r.Get(AgentCardPath, h.handleAgentCard)

	r.Group(func(r chi.Router) {
		if h.authToken != "" {
			r.Use(h.authMiddleware)
		}
		r.Post("/rpc", h.handleJSONRPC)
		r.Get("/ws", h.handleWebSocket)
		r.Get("/tasks", h.handleListTasks)
		r.Get("/tasks/{id}", h.handleGetTask)
		r.Post("/tasks/{id}:cancel", h.handleCancelTask)
	})
	h.router = r
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header || token != h.authToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// traceMiddleware continues a trace started by the calling agent.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runtime.Card())
}

func (h *Handler) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(nil, ErrCodeParse, "parse error"))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidReq, "invalid jsonrpc version"))
		return
	}

	if req.Method == MethodSendStream {
		h.rpcSendStream(w, r, req)
		return
	}
	writeJSON(w, http.StatusOK, h.call(r.Context(), req))
}

// call answers every non-streaming method.
func (h *Handler) call(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	resp := h.dispatch(ctx, req)
	status := "ok"
	if resp.Error != nil {
		status = "error"
	}
	telemetry.Metrics.RPCRequests.WithLabelValues(h.runtime.Name(), req.Method, status).Inc()
	return resp
}

func (h *Handler) dispatch(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	switch req.Method {
	case MethodSend:
		var params SendParams
		if err := decodeParams(req.Params, &params); err != nil {
			return newJSONRPCErrorFrom(req.ID, err, nil)
		}
		task, err := h.runtime.Send(ctx, params.Message, params.TaskID)
		if err != nil {
			var data any
			if task.ID != "" {
				data = task
			}
			return newJSONRPCErrorFrom(req.ID, err, data)
		}
		return NewJSONRPCResponse(req.ID, task)

	case MethodGetTask, MethodCancelTask:
		var params TaskIDParams
		if err := decodeParams(req.Params, &params); err != nil {
			return newJSONRPCErrorFrom(req.ID, err, nil)
		}
		if params.ID == "" {
			return NewJSONRPCError(req.ID, ErrCodeInvalidParams, "missing task id")
		}
		var (
			task Task
			err  error
		)
		if req.Method == MethodGetTask {
			task, err = h.runtime.GetTask(ctx, params.ID)
		} else {
			task, err = h.runtime.CancelTask(ctx, params.ID)
		}
		if err != nil {
			return newJSONRPCErrorFrom(req.ID, err, nil)
		}
		return NewJSONRPCResponse(req.ID, task)

	case MethodAgentCard:
		return NewJSONRPCResponse(req.ID, h.runtime.Card())

	default:
		return NewJSONRPCError(req.ID, ErrCodeNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing params: %w", ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("invalid params: %v: %w", err, ErrInvalidInput)
	}
	return nil
}

func (h *Handler) rpcSendStream(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params SendParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, newJSONRPCErrorFrom(req.ID, err, nil))
		return
	}

	st, err := h.runtime.SendStream(r.Context(), params.Message, params.TaskID)
	if err != nil {
		telemetry.Metrics.RPCRequests.WithLabelValues(h.runtime.Name(), req.Method, "error").Inc()
		writeJSON(w, http.StatusOK, newJSONRPCErrorFrom(req.ID, err, nil))
		return
	}
	telemetry.Metrics.RPCRequests.WithLabelValues(h.runtime.Name(), req.Method, "ok").Inc()

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for task := range st.All() {
		writeSSE(w, flusher, canFlush, "task", NewJSONRPCResponse(req.ID, task))
	}
}

// handleWebSocket serves JSON-RPC over a websocket. Stream snapshots are
// pushed as individual responses; closing the socket cancels whatever is
// still running.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.String("err", err.Error()))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	requests := make(chan JSONRPCRequest)
	go func() {
		defer cancel()
		defer close(requests)
		for {
			var req JSONRPCRequest
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range requests {
		if req.JSONRPC != "2.0" {
			if err := wsjson.Write(ctx, conn, NewJSONRPCError(req.ID, ErrCodeInvalidReq, "invalid jsonrpc version")); err != nil {
				return
			}
			continue
		}
		if req.Method != MethodSendStream {
			if err := wsjson.Write(ctx, conn, h.call(ctx, req)); err != nil {
				return
			}
			continue
		}

		var params SendParams
		if err := decodeParams(req.Params, &params); err != nil {
			if err := wsjson.Write(ctx, conn, newJSONRPCErrorFrom(req.ID, err, nil)); err != nil {
				return
			}
			continue
		}
		st, err := h.runtime.SendStream(ctx, params.Message, params.TaskID)
		if err != nil {
			if err := wsjson.Write(ctx, conn, newJSONRPCErrorFrom(req.ID, err, nil)); err != nil {
				return
			}
			continue
		}
		for task := range st.All() {
			if err := wsjson.Write(ctx, conn, NewJSONRPCResponse(req.ID, task)); err != nil {
				return
			}
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.runtime.GetTask(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runtime.Tasks())
}

func (h *Handler) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.runtime.CancelTask(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, canFlush bool, event string, data any) {
	b, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	if canFlush {
		flusher.Flush()
	}
}
