package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Client talks to a remote agent over HTTP JSON-RPC.
type Client struct {
	name       string
	baseURL    string
	authToken  string
	httpClient *http.Client
	card       atomic.Pointer[AgentCard]
}

type ClientConfig struct {
	Name      string
	BaseURL   string
	AuthToken string
	// HTTPClient defaults to a client without a global timeout; per-call
	// deadlines come from the context.
	HTTPClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authToken:  cfg.AuthToken,
		httpClient: cfg.HTTPClient,
	}
}

func (c *Client) Name() string { return c.name }

// Card returns the last card fetched with FetchCard, or a stub carrying
// only the name and URL.
func (c *Client) Card() AgentCard {
	if card := c.card.Load(); card != nil {
		return *card
	}
	return AgentCard{Name: c.name, URL: c.baseURL}
}

func (c *Client) FetchCard(ctx context.Context) (AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+AgentCardPath, nil)
	if err != nil {
		return AgentCard{}, fmt.Errorf("building card request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AgentCard{}, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AgentCard{}, fmt.Errorf("agent %s card: status %d: %w", c.name, resp.StatusCode, ErrUnavailable)
	}
	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return AgentCard{}, fmt.Errorf("decoding card: %w", err)
	}
	c.card.Store(&card)
	return card, nil
}

func (c *Client) Send(ctx context.Context, msg Message, taskID string) (Task, error) {
	var task Task
	err := c.call(ctx, MethodSend, SendParams{Message: msg, TaskID: taskID}, &task)
	return task, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var task Task
	err := c.call(ctx, MethodGetTask, TaskIDParams{ID: id}, &task)
	return task, err
}

func (c *Client) CancelTask(ctx context.Context, id string) (Task, error) {
	var task Task
	err := c.call(ctx, MethodCancelTask, TaskIDParams{ID: id}, &task)
	return task, err
}

// SendStream opens an SSE stream. Closing the returned stream drops the
// connection, which cancels the task on the remote side.
func (c *Client) SendStream(ctx context.Context, msg Message, taskID string) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := c.post(ctx, MethodSendStream, SendParams{Message: msg, TaskID: taskID})
	if err != nil {
		cancel()
		return nil, err
	}

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		defer cancel()
		defer resp.Body.Close()
		var task Task
		if err := decodeRPC(resp.Body, &task); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("agent %s answered a stream request without a stream", c.name)
	}

	st := newStream()
	go func() {
		defer close(st.updates)
		defer cancel()
		defer resp.Body.Close()

		go func() {
			select {
			case <-st.done:
				cancel()
			case <-ctx.Done():
			}
		}()

		for data := range sseEvents(resp.Body) {
			var task Task
			if err := decodeRPC(bytes.NewReader(data), &task); err != nil {
				return
			}
			if !st.emit(task) {
				return
			}
		}
	}()
	return st, nil
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	resp, err := c.post(ctx, method, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeRPC(resp.Body, out)
}

func (c *Client) post(ctx context.Context, method string, params any) (*http.Response, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	body, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  raw,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if method == MethodSendStream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("agent %s: status %d: %w", c.name, resp.StatusCode, ErrUnavailable)
	}
	return resp, nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("agent %s: %w", c.name, ctxErr)
	}
	return fmt.Errorf("agent %s: %v: %w", c.name, err, ErrUnavailable)
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

// decodeRPC unpacks a JSON-RPC response into out. An AllAgentsFailed error
// that carries the failed task still fills out.
func decodeRPC(r io.Reader, out any) error {
	var env rpcEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %v: %w", err, ErrUnavailable)
	}
	if env.Error != nil {
		if len(env.Error.Data) > 0 && out != nil {
			_ = json.Unmarshal(env.Error.Data, out)
		}
		return &JSONRPCError{Code: env.Error.Code, Message: env.Error.Message}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}

// sseEvents yields the data payload of each server-sent event.
func sseEvents(r io.Reader) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		var data bytes.Buffer
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				if data.Len() > 0 {
					payload := append([]byte(nil), data.Bytes()...)
					data.Reset()
					if !yield(payload) {
						return
					}
				}
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}
		if data.Len() > 0 {
			yield(data.Bytes())
		}
	}
}

var errNoStream = errors.New("stream ended without a terminal snapshot")

// SendStreamed runs msg through SendStream and returns the terminal
// snapshot. Partial snapshots are handed to onUpdate when it is non-nil.
func SendStreamed(ctx context.Context, agent Agent, msg Message, taskID string, onUpdate func(Task)) (Task, error) {
	st, err := agent.SendStream(ctx, msg, taskID)
	if err != nil {
		return Task{}, err
	}
	var last Task
	for t := range st.All() {
		last = t
		if onUpdate != nil {
			onUpdate(t)
		}
	}
	if !last.State().Terminal() {
		return last, errNoStream
	}
	return last, nil
}
