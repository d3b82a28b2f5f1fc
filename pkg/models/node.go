package models

// NodeInfo is the gateway's public view of a connected worker node,
// returned by node.list.
type NodeInfo struct {
	NodeID        string         `json:"nodeId"`
	DisplayName   string         `json:"displayName,omitempty"`
	Platform      string         `json:"platform,omitempty"`
	Version       string         `json:"version,omitempty"`
	Caps          []string       `json:"caps,omitempty"`
	Commands      []string       `json:"commands,omitempty"`
	Resources     *NodeResources `json:"resources,omitempty"`
	Connected     bool           `json:"connected"`
	ConnectedAtMs int64          `json:"connectedAtMs"`
	RemoteIP      string         `json:"remoteIp,omitempty"`
}

// NodeListResult is the node.list RPC result.
type NodeListResult struct {
	TS    int64      `json:"ts"`
	Nodes []NodeInfo `json:"nodes"`
}

// InvokeParams is the node.invoke RPC request.
type InvokeParams struct {
	NodeID         string `json:"nodeId"`
	Command        string `json:"command"`
	Params         any    `json:"params,omitempty"`
	TimeoutMs      int64  `json:"timeoutMs,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// InvokeResult is the node.invoke RPC result.
type InvokeResult struct {
	OK          bool   `json:"ok"`
	Payload     any    `json:"payload,omitempty"`
	PayloadJSON string `json:"payloadJSON,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RunCommandResult is the payload returned by a worker node for a
// system.run invocation.
type RunCommandResult struct {
	ExitCode int    `json:"exitCode"`
	TimedOut bool   `json:"timedOut,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}
