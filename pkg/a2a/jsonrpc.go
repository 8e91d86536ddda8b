package a2a

import (
	"encoding/json"
	"errors"
)

const (
	MethodSend       = "message/send"
	MethodSendStream = "message/send_stream"
	MethodGetTask    = "task/get"
	MethodCancelTask = "task/cancel"
	MethodAgentCard  = "agent/card"
)

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string { return e.Message }

// Unwrap maps protocol codes back onto the error taxonomy.
func (e *JSONRPCError) Unwrap() error {
	switch e.Code {
	case ErrCodeInvalidParams:
		return ErrInvalidInput
	case ErrCodeTaskNotFound:
		return ErrNotFound
	case ErrCodeInvalidTransition:
		return ErrInvalidTransition
	case ErrCodeTimeout:
		return ErrTimeout
	case ErrCodeUnavailable:
		return ErrUnavailable
	case ErrCodeAllAgentsFailed:
		return ErrAllAgentsFailed
	}
	return nil
}

type SendParams struct {
	Message Message `json:"message"`
	TaskID  string  `json:"taskId,omitempty"`
}

type TaskIDParams struct {
	ID string `json:"id"`
}

const (
	ErrCodeParse             = -32700
	ErrCodeInvalidReq        = -32600
	ErrCodeNotFound          = -32601
	ErrCodeInvalidParams     = -32602
	ErrCodeInternal          = -32603
	ErrCodeTaskNotFound      = -32001
	ErrCodeInvalidTransition = -32002
	ErrCodeTimeout           = -32003
	ErrCodeUnavailable       = -32004
	ErrCodeAllAgentsFailed   = -32005
)

func rpcCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return ErrCodeInvalidParams
	case errors.Is(err, ErrNotFound):
		return ErrCodeTaskNotFound
	case errors.Is(err, ErrInvalidTransition):
		return ErrCodeInvalidTransition
	case ErrorCode(err) == CodeTimeout:
		return ErrCodeTimeout
	case errors.Is(err, ErrUnavailable):
		return ErrCodeUnavailable
	case errors.Is(err, ErrAllAgentsFailed):
		return ErrCodeAllAgentsFailed
	default:
		return ErrCodeInternal
	}
}

func NewJSONRPCResponse(id any, result any) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

func NewJSONRPCError(id any, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}

func newJSONRPCErrorFrom(id any, err error, data any) JSONRPCResponse {
	resp := NewJSONRPCError(id, rpcCode(err), err.Error())
	resp.Error.Data = data
	return resp
}
