// Package client provides a thin caller abstraction over the gateway's RPC
// surface so the execute engine works identically against a remote gateway
// (HTTP) and an in-process one (tests, single-binary deployments).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Caller invokes one gateway RPC method. result may be nil when the caller
// does not need the response body.
type Caller interface {
	Call(ctx context.Context, method string, params any, result any) error
}

// RPCError is a gateway error envelope surfaced to the caller.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway rpc error %s: %s", e.Code, e.Message)
}

// HTTPCaller calls a remote gateway over its HTTP RPC surface.
type HTTPCaller struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTP creates a caller for a gateway at baseURL (no trailing slash
// needed). token may be empty when the gateway runs without auth.
func NewHTTP(baseURL, token string) *HTTPCaller {
	return &HTTPCaller{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// Call posts params to /api/v1/rpc/<method> and decodes the result field.
func (h *HTTPCaller) Call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params for %s: %w", method, err)
	}

	url := h.baseURL + "/api/v1/rpc/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: unexpected status %d", method, resp.StatusCode)
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}
