// Package jsonrpc exposes the Interceptor as a JSON-RPC 2.0 endpoint.
//
// Wallets and dapps point their RPC URL here. Every call goes through the
// Caller (the Interceptor), so submissions are gated and everything else is
// proxied to the upstream node.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/walletguard/internal/interceptor"
	"github.com/mbd888/walletguard/internal/logging"
	"github.com/mbd888/walletguard/internal/protocol"
)

// Version is the only protocol version accepted.
const Version = "2.0"

// Error codes. CodeUserRejected is the EIP-1193 "user rejected request" code.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUserRejected   = 4001
)

// MaxBatchSize bounds the number of calls in one batch.
const MaxBatchSize = 100

var nullID = json.RawMessage("null")

// Caller runs one RPC call. *interceptor.Interceptor satisfies it.
type Caller interface {
	Submit(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// Request is one JSON-RPC call. ID is nil for notifications.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the caller expects no response.
func (r *Request) IsNotification() bool { return r.ID == nil }

// Response is one JSON-RPC reply.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// ToError maps a Submit error to the wire error object. Upstream rpc.Error
// codes and rpc.DataError data pass through unchanged.
func ToError(err error) *Error {
	var rejected *protocol.RejectedError
	if errors.As(err, &rejected) {
		return &Error{Code: CodeUserRejected, Message: rejected.Error()}
	}
	if errors.Is(err, interceptor.ErrInvalidParams) {
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	out := &Error{Code: CodeInternalError, Message: err.Error()}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		out.Code = rpcErr.ErrorCode()
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		out.Data = dataErr.ErrorData()
	}
	return out
}

// Handler serves POST requests carrying a single call or a batch.
type Handler struct {
	caller Caller
}

// NewHandler creates a new JSON-RPC handler
func NewHandler(caller Caller) *Handler {
	return &Handler{caller: caller}
}

// RegisterRoutes mounts the proxy at / and /rpc.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/", h.Serve)
	r.POST("/rpc", h.Serve)
}

// Serve handles one HTTP request.
func (h *Handler) Serve(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, errorResponse(nullID, CodeParseError, "could not read request body"))
		return
	}

	ctx := c.Request.Context()
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		h.serveBatch(ctx, c, trimmed)
		return
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		c.JSON(http.StatusOK, errorResponse(nullID, CodeParseError, "parse error"))
		return
	}
	resp := h.handle(ctx, &req)
	if resp == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) serveBatch(ctx context.Context, c *gin.Context, body []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		c.JSON(http.StatusOK, errorResponse(nullID, CodeParseError, "parse error"))
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusOK, errorResponse(nullID, CodeInvalidRequest, "empty batch"))
		return
	}
	if len(raw) > MaxBatchSize {
		c.JSON(http.StatusOK, errorResponse(nullID, CodeInvalidRequest, "batch too large"))
		return
	}

	responses := make([]*Response, len(raw))
	var wg sync.WaitGroup
	for n, elem := range raw {
		var req Request
		if err := json.Unmarshal(elem, &req); err != nil {
			responses[n] = errorResponse(nullID, CodeInvalidRequest, "invalid request")
			continue
		}
		wg.Add(1)
		go func(n int, req Request) {
			defer wg.Done()
			responses[n] = h.handle(ctx, &req)
		}(n, req)
	}
	wg.Wait()

	out := make([]*Response, 0, len(responses))
	for _, r := range responses {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, out)
}

// handle runs one call. It returns nil for notifications.
func (h *Handler) handle(ctx context.Context, req *Request) *Response {
	id := req.ID
	if id == nil {
		id = nullID
	}
	if req.JSONRPC != Version || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return errorResponse(id, CodeInvalidRequest, "invalid request")
	}

	result, err := h.caller.Submit(ctx, req.Method, req.Params)
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		rpcErr := ToError(err)
		if rpcErr.Code == CodeInternalError {
			logging.L(ctx).Warn("rpc call failed", "method", req.Method, "error", err)
		}
		return &Response{JSONRPC: Version, ID: id, Error: rpcErr}
	}
	if len(result) == 0 {
		result = nullID
	}
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, msg string) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: msg}}
}
