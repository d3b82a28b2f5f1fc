// Package registry tracks connected worker nodes and routes invoke requests
// to their sockets, resolving responses by request id.
package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/openclaw/openclaw/pkg/models"
)

// Sentinel errors for registry operations.
var (
	// ErrNotConnected indicates the target node has no active session.
	ErrNotConnected = errors.New("node not connected")

	// ErrInvokeTimeout indicates the node did not answer within the deadline.
	ErrInvokeTimeout = errors.New("invoke timed out")
)

// DefaultInvokeTimeout applies when an invoke request has no timeoutMs.
const DefaultInvokeTimeout = 30 * time.Second

// FrameSender delivers an event frame to one node's socket. The transport
// layer implements this; sends are assumed thread-safe.
type FrameSender interface {
	SendEvent(connID string, frame InvokeFrame) error
}

// InvokeFrame is the event frame pushed to a worker node.
type InvokeFrame struct {
	RequestID      string `json:"id"`
	Command        string `json:"command"`
	Params         any    `json:"params,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// ConnectFrame is the protocol-level connect message a node sends on its
// socket. DeviceID wins over ClientID as the node id.
type ConnectFrame struct {
	ClientID    string                `json:"clientId"`
	DeviceID    string                `json:"deviceId,omitempty"`
	DisplayName string                `json:"displayName,omitempty"`
	Platform    string                `json:"platform,omitempty"`
	Version     string                `json:"version,omitempty"`
	Caps        []string              `json:"caps,omitempty"`
	Commands    []string              `json:"commands,omitempty"`
	Permissions map[string]bool       `json:"permissions,omitempty"`
	PathEnv     string                `json:"pathEnv,omitempty"`
	Resources   *models.NodeResources `json:"resources,omitempty"`
	RemoteIP    string                `json:"remoteIp,omitempty"`
}

// NodeSession is one connected worker node. The registry borrows the
// connection; it never owns the socket.
type NodeSession struct {
	NodeID        string
	ConnID        string
	DisplayName   string
	Platform      string
	Version       string
	Caps          []string
	Commands      []string
	Permissions   map[string]bool
	PathEnv       string
	Resources     models.NodeResources
	ConnectedAtMs int64
	RemoteIP      string
}

// HasCommand reports whether the node advertises an RPC command.
func (s *NodeSession) HasCommand(cmd string) bool {
	for _, c := range s.Commands {
		if c == cmd {
			return true
		}
	}
	return false
}

// pendingInvoke is one in-flight invoke awaiting a node response.
type pendingInvoke struct {
	nodeID  string
	command string
	done    chan models.InvokeResult
	timer   *time.Timer
}

// Registry is the concurrent node session and pending-invoke table.
type Registry struct {
	sender FrameSender
	logger *slog.Logger

	mu      sync.Mutex
	byNode  map[string]*NodeSession // nodeId → session
	byConn  map[string]string       // connId → nodeId
	pending map[string]*pendingInvoke

	ulidEntropy *ulid.MonotonicEntropy
}

// New creates a Registry that sends invoke frames through sender.
func New(sender FrameSender) *Registry {
	return &Registry{
		sender:      sender,
		logger:      slog.With("component", "node_registry"),
		byNode:      make(map[string]*NodeSession),
		byConn:      make(map[string]string),
		pending:     make(map[string]*pendingInvoke),
		ulidEntropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewConnID mints a sortable connection id for a fresh socket.
func (r *Registry) NewConnID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), r.ulidEntropy).String()
}

// Register builds a NodeSession from a connect frame and indexes it.
// A reconnect under the same node id replaces the previous session; pending
// invokes bound to the replaced session are failed.
func (r *Registry) Register(connID string, frame ConnectFrame) *NodeSession {
	nodeID := frame.DeviceID
	if nodeID == "" {
		nodeID = frame.ClientID
	}

	session := &NodeSession{
		NodeID:        nodeID,
		ConnID:        connID,
		DisplayName:   frame.DisplayName,
		Platform:      frame.Platform,
		Version:       frame.Version,
		Caps:          append([]string(nil), frame.Caps...),
		Commands:      append([]string(nil), frame.Commands...),
		Permissions:   frame.Permissions,
		PathEnv:       frame.PathEnv,
		Resources:     normalizeResources(frame.Resources),
		ConnectedAtMs: time.Now().UnixMilli(),
		RemoteIP:      frame.RemoteIP,
	}

	r.mu.Lock()
	if old, ok := r.byNode[nodeID]; ok && old.ConnID != connID {
		delete(r.byConn, old.ConnID)
		r.failPendingLocked(nodeID, fmt.Errorf("%w: node %s reconnected", ErrNotConnected, nodeID))
	}
	r.byNode[nodeID] = session
	r.byConn[connID] = nodeID
	r.mu.Unlock()

	r.logger.Info("Node registered",
		"node_id", nodeID,
		"conn_id", connID,
		"commands", len(session.Commands),
		"gpu_count", session.Resources.GPUCount)
	return session
}

// Unregister removes the session for a connection and fails every pending
// invoke bound to its node. Safe to call for unknown conn ids.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	nodeID, ok := r.byConn[connID]
	if ok {
		delete(r.byConn, connID)
		if s, ok := r.byNode[nodeID]; ok && s.ConnID == connID {
			delete(r.byNode, nodeID)
		}
		r.failPendingLocked(nodeID, fmt.Errorf("%w: node %s disconnected", ErrNotConnected, nodeID))
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("Node unregistered", "node_id", nodeID, "conn_id", connID)
	}
}

// failPendingLocked resolves every pending invoke for nodeID with an error
// and stops its timer. Caller holds r.mu.
func (r *Registry) failPendingLocked(nodeID string, cause error) {
	for id, p := range r.pending {
		if p.nodeID != nodeID {
			continue
		}
		p.timer.Stop()
		delete(r.pending, id)
		p.done <- models.InvokeResult{OK: false, Error: cause.Error()}
	}
}

// Get returns the session for a node id, or nil.
func (r *Registry) Get(nodeID string) *NodeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byNode[nodeID]
}

// List returns a snapshot of all connected nodes as public NodeInfo.
func (r *Registry) List() models.NodeListResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := make([]models.NodeInfo, 0, len(r.byNode))
	for _, s := range r.byNode {
		res := s.Resources
		nodes = append(nodes, models.NodeInfo{
			NodeID:        s.NodeID,
			DisplayName:   s.DisplayName,
			Platform:      s.Platform,
			Version:       s.Version,
			Caps:          append([]string(nil), s.Caps...),
			Commands:      append([]string(nil), s.Commands...),
			Resources:     &res,
			Connected:     true,
			ConnectedAtMs: s.ConnectedAtMs,
			RemoteIP:      s.RemoteIP,
		})
	}
	return models.NodeListResult{TS: time.Now().UnixMilli(), Nodes: nodes}
}

// Invoke sends a command to a node and blocks until the node answers, the
// timeout fires, or the node disconnects. The error return covers transport
// and registry failures; an application-level failure arrives as
// InvokeResult{OK: false}.
func (r *Registry) Invoke(ctx context.Context, req models.InvokeParams) (models.InvokeResult, error) {
	timeout := DefaultInvokeTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	requestID := uuid.NewString()
	done := make(chan models.InvokeResult, 1)

	r.mu.Lock()
	session, ok := r.byNode[req.NodeID]
	if !ok {
		r.mu.Unlock()
		return models.InvokeResult{}, fmt.Errorf("%w: %s", ErrNotConnected, req.NodeID)
	}
	connID := session.ConnID

	p := &pendingInvoke{
		nodeID:  req.NodeID,
		command: req.Command,
		done:    done,
	}
	p.timer = time.AfterFunc(timeout, func() {
		r.mu.Lock()
		if _, still := r.pending[requestID]; still {
			delete(r.pending, requestID)
			r.mu.Unlock()
			done <- models.InvokeResult{OK: false, Error: ErrInvokeTimeout.Error()}
			return
		}
		r.mu.Unlock()
	})
	r.pending[requestID] = p
	r.mu.Unlock()

	frame := InvokeFrame{
		RequestID:      requestID,
		Command:        req.Command,
		Params:         req.Params,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := r.sender.SendEvent(connID, frame); err != nil {
		r.mu.Lock()
		if pend, still := r.pending[requestID]; still {
			pend.timer.Stop()
			delete(r.pending, requestID)
		}
		r.mu.Unlock()
		return models.InvokeResult{}, fmt.Errorf("send to node %s: %w", req.NodeID, err)
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		r.mu.Lock()
		if pend, still := r.pending[requestID]; still {
			pend.timer.Stop()
			delete(r.pending, requestID)
		}
		r.mu.Unlock()
		return models.InvokeResult{}, ctx.Err()
	}
}

// InvokeResultFrame is a node's answer to an invoke frame.
type InvokeResultFrame struct {
	RequestID   string `json:"id"`
	NodeID      string `json:"nodeId"`
	OK          bool   `json:"ok"`
	Payload     any    `json:"payload,omitempty"`
	PayloadJSON string `json:"payloadJSON,omitempty"`
	Error       string `json:"error,omitempty"`
}

// HandleInvokeResult dispatches a node's answer to the waiting caller.
// Returns true iff a pending entry was consumed. Answers whose node id does
// not match the pending entry are ignored (stale or spoofed frames).
func (r *Registry) HandleInvokeResult(frame InvokeResultFrame) bool {
	r.mu.Lock()
	p, ok := r.pending[frame.RequestID]
	if !ok || p.nodeID != frame.NodeID {
		r.mu.Unlock()
		return false
	}
	p.timer.Stop()
	delete(r.pending, frame.RequestID)
	r.mu.Unlock()

	p.done <- models.InvokeResult{
		OK:          frame.OK,
		Payload:     frame.Payload,
		PayloadJSON: frame.PayloadJSON,
		Error:       frame.Error,
	}
	return true
}

// PendingCount returns the number of in-flight invokes (health/tests).
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// normalizeResources coerces a node's advertised resources into a sane
// request shape: negative or non-finite values are dropped.
func normalizeResources(res *models.NodeResources) models.NodeResources {
	if res == nil {
		return models.NodeResources{}
	}
	out := *res
	if out.GPUCount < 0 {
		out.GPUCount = 0
	}
	if out.GPUMemGB < 0 || math.IsNaN(out.GPUMemGB) || math.IsInf(out.GPUMemGB, 0) {
		out.GPUMemGB = 0
	}
	if out.CPUCores < 0 {
		out.CPUCores = 0
	}
	if out.RAMGB < 0 {
		out.RAMGB = 0
	}
	if out.DiskGB < 0 {
		out.DiskGB = 0
	}
	return out
}
