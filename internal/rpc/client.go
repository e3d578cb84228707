package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Backend is the raw transport to the remote transactional backend. The
// dispatcher layers calling-convention negotiation on top of it.
type Backend interface {
	// Invoke calls a procedure with the wrapper convention: a single payload
	// object.
	Invoke(ctx context.Context, name string, payload any) (json.RawMessage, error)
	// InvokePositional calls a procedure with a positional argument list
	// (the direct and legacy conventions).
	InvokePositional(ctx context.Context, name string, args []any) (json.RawMessage, error)
	// TableOp applies a direct data-table operation, used when replaying
	// queued table tasks.
	TableOp(ctx context.Context, table string, payload json.RawMessage) error
	// RefreshSchema asks the backend to reload its procedure schema cache.
	// Used only as a recovery step after a not-found signature.
	RefreshSchema(ctx context.Context) error
}

type HTTPBackend struct {
	baseURL string
	client  *http.Client
	monitor *Monitor
	logger  *zap.Logger
}

func NewHTTPBackend(baseURL string, timeout time.Duration, monitor *Monitor, logger *zap.Logger) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		monitor: monitor,
		logger:  logger,
	}
}

type rpcRequest struct {
	Payload any   `json:"payload,omitempty"`
	Args    []any `json:"args,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (b *HTTPBackend) Invoke(ctx context.Context, name string, payload any) (json.RawMessage, error) {
	return b.post(ctx, "/rpc/"+name, rpcRequest{Payload: payload})
}

func (b *HTTPBackend) InvokePositional(ctx context.Context, name string, args []any) (json.RawMessage, error) {
	return b.post(ctx, "/rpc/"+name, rpcRequest{Args: args})
}

func (b *HTTPBackend) TableOp(ctx context.Context, table string, payload json.RawMessage) error {
	_, err := b.post(ctx, "/tables/"+table, rpcRequest{Payload: payload})
	return err
}

func (b *HTTPBackend) RefreshSchema(ctx context.Context) error {
	_, err := b.post(ctx, "/schema/refresh", rpcRequest{})
	return err
}

func (b *HTTPBackend) post(ctx context.Context, path string, body rpcRequest) (json.RawMessage, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("building rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.monitor.MarkOffline()
		b.logger.Warn("backend unreachable", zap.String("path", path), zap.Error(err))
		return nil, &Error{Code: CodeOffline, Message: err.Error()}
	}
	defer resp.Body.Close()
	b.monitor.MarkOnline()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: CodeAborted, Message: err.Error()}
	}

	var decoded rpcResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("decoding rpc response: %w", err)
		}
	}

	if resp.StatusCode >= 400 || decoded.Error != nil {
		be := &Error{HTTPStatus: resp.StatusCode}
		if decoded.Error != nil {
			be.Code = decoded.Error.Code
			be.Message = decoded.Error.Message
		}
		return nil, be
	}

	return decoded.Result, nil
}
