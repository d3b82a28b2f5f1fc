package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCall(t *testing.T) {
	ctx := context.Background()

	t.Run("posts params and decodes the result envelope", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/rpc/gpu.job.get", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

			var params map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
			assert.Equal(t, "job-1", params["jobId"])

			json.NewEncoder(w).Encode(map[string]any{
				"ok":     true,
				"result": map[string]any{"jobId": "job-1", "state": "queued"},
			})
		}))
		defer srv.Close()

		var out struct {
			JobID string `json:"jobId"`
			State string `json:"state"`
		}
		c := NewHTTP(srv.URL, "secret")
		require.NoError(t, c.Call(ctx, "gpu.job.get", map[string]any{"jobId": "job-1"}, &out))
		assert.Equal(t, "job-1", out.JobID)
		assert.Equal(t, "queued", out.State)
	})

	t.Run("no token means no authorization header", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}))
		defer srv.Close()

		c := NewHTTP(srv.URL, "")
		require.NoError(t, c.Call(ctx, "node.list", nil, nil))
	})

	t.Run("error envelopes become RPCError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": "NOT_FOUND", "message": "unknown job: ghost"},
			})
		}))
		defer srv.Close()

		err := NewHTTP(srv.URL, "").Call(ctx, "gpu.job.get", map[string]any{"jobId": "ghost"}, nil)
		var rpcErr *RPCError
		require.True(t, errors.As(err, &rpcErr))
		assert.Equal(t, "NOT_FOUND", rpcErr.Code)
		assert.Contains(t, rpcErr.Error(), "unknown job: ghost")
	})

	t.Run("unexpected status without an envelope errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"ok": false}`))
		}))
		defer srv.Close()

		err := NewHTTP(srv.URL, "").Call(ctx, "node.list", nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status 502")
	})

	t.Run("an unparseable body errors with the status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("<html>gateway exploded</html>"))
		}))
		defer srv.Close()

		err := NewHTTP(srv.URL, "").Call(ctx, "node.list", nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
	})

	t.Run("a missing result leaves the destination zero", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}))
		defer srv.Close()

		var out struct {
			JobID string `json:"jobId"`
		}
		require.NoError(t, NewHTTP(srv.URL, "").Call(ctx, "gpu.job.get", nil, &out))
		assert.Empty(t, out.JobID)
	})
}
