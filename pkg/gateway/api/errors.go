package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/openclaw/pkg/gateway/registry"
	"github.com/openclaw/openclaw/pkg/gateway/scheduler"
	"github.com/openclaw/openclaw/pkg/pipeline"
)

// RPC error codes returned in the error envelope.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeNotConnected   = "NOT_CONNECTED"
	CodeTimeout        = "TIMEOUT"
	CodeUnavailable    = "UNAVAILABLE"
	CodeInternal       = "INTERNAL"
)

// errorBody is the wire shape of an RPC error.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError emits the {error:{code,message}} envelope.
func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": errorBody{Code: code, Message: message}})
}

// mapError translates registry/scheduler errors to HTTP error responses.
func mapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrInvalidRequest), errors.Is(err, pipeline.ErrInvalidRequest):
		writeError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, registry.ErrNotConnected):
		writeError(c, http.StatusServiceUnavailable, CodeNotConnected, err.Error())
	case errors.Is(err, registry.ErrInvokeTimeout):
		writeError(c, http.StatusGatewayTimeout, CodeTimeout, err.Error())
	default:
		slog.Error("Unexpected RPC error", "error", err)
		writeError(c, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
