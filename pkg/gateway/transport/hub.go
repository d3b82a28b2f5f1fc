// Package transport carries the node protocol over HTTP: a long-lived SSE
// stream delivers invoke frames to each worker, and a plain POST returns the
// results. The registry sees only the FrameSender surface.
package transport

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/openclaw/pkg/gateway/registry"
)

// sendBuffer is the per-connection frame queue. A worker that stops reading
// its stream fails sends once the buffer fills rather than blocking invokes.
const sendBuffer = 16

// Hub implements registry.FrameSender over per-connection SSE channels.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]chan registry.InvokeFrame

	// registry is wired after construction; the registry itself needs the
	// hub as its sender first.
	registry *registry.Registry
}

// NewHub creates an empty hub. Call SetRegistry before mounting routes.
func NewHub() *Hub {
	return &Hub{
		logger: slog.With("component", "node_transport"),
		conns:  make(map[string]chan registry.InvokeFrame),
	}
}

// SetRegistry wires the registry the hub registers connections with.
func (h *Hub) SetRegistry(reg *registry.Registry) {
	h.registry = reg
}

// SendEvent queues a frame for one connection. Fails when the connection is
// gone or its buffer is full.
func (h *Hub) SendEvent(connID string, frame registry.InvokeFrame) error {
	h.mu.Lock()
	ch, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("connection %s is gone", connID)
	}
	select {
	case ch <- frame:
		return nil
	default:
		return fmt.Errorf("connection %s send buffer is full", connID)
	}
}

// Connect handles a worker's connect request. The JSON body is the protocol
// connect frame; the response is an SSE stream of invoke frames that stays
// open until either side closes. Disconnect unregisters the node and fails
// its pending invokes.
func (h *Hub) Connect(c *gin.Context) {
	var frame registry.ConnectFrame
	if err := c.ShouldBindJSON(&frame); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"code":    "INVALID_REQUEST",
			"message": "malformed connect frame: " + err.Error(),
		}})
		return
	}
	if frame.ClientID == "" && frame.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"code":    "INVALID_REQUEST",
			"message": "connect frame needs clientId or deviceId",
		}})
		return
	}
	frame.RemoteIP = c.ClientIP()

	connID := h.registry.NewConnID()
	ch := make(chan registry.InvokeFrame, sendBuffer)
	h.mu.Lock()
	h.conns[connID] = ch
	h.mu.Unlock()

	session := h.registry.Register(connID, frame)
	defer func() {
		h.registry.Unregister(connID)
		h.mu.Lock()
		delete(h.conns, connID)
		h.mu.Unlock()
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// The first event tells the worker its session identity.
	c.SSEvent("connected", gin.H{"connId": connID, "nodeId": session.NodeID})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case frame, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("invoke", frame)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Result handles a worker's answer to an invoke frame. Stale answers (already
// timed out or disconnected) report consumed=false and are otherwise ignored.
func (h *Hub) Result(c *gin.Context) {
	var frame registry.InvokeResultFrame
	if err := c.ShouldBindJSON(&frame); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"code":    "INVALID_REQUEST",
			"message": "malformed result frame: " + err.Error(),
		}})
		return
	}
	consumed := h.registry.HandleInvokeResult(frame)
	if !consumed {
		h.logger.Debug("Dropped stale invoke result",
			"request_id", frame.RequestID, "node_id", frame.NodeID)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "consumed": consumed})
}
