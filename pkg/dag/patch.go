package dag

import (
	"fmt"

	"github.com/openclaw/openclaw/pkg/models"
)

// PatchOpKind tags a structural DAG patch operation.
type PatchOpKind string

// Patch operation kinds.
const (
	OpAddNode     PatchOpKind = "addNode"
	OpRemoveNode  PatchOpKind = "removeNode"
	OpReplaceNode PatchOpKind = "replaceNode"
	OpAddEdge     PatchOpKind = "addEdge"
	OpRemoveEdge  PatchOpKind = "removeEdge"
)

// PatchOp is one tagged structural operation. Node is required for
// addNode/replaceNode; NodeID for removeNode; Edge for the edge ops.
type PatchOp struct {
	Kind   PatchOpKind     `json:"kind"`
	Node   *models.DAGNode `json:"node,omitempty"`
	NodeID string          `json:"nodeId,omitempty"`
	Edge   *models.DAGEdge `json:"edge,omitempty"`
}

// ApplyPatch applies ops to a copy of d and returns the patched DAG. The
// original is never mutated. Removal of core execution-chain nodes is
// rejected. The caller is expected to re-run Validate on the result.
func ApplyPatch(d *models.PlanDAG, ops []PatchOp) (*models.PlanDAG, error) {
	out := &models.PlanDAG{
		SchemaVersion: d.SchemaVersion,
		PlanID:        d.PlanID,
		Nodes:         append([]models.DAGNode(nil), d.Nodes...),
		Edges:         append([]models.DAGEdge(nil), d.Edges...),
	}

	for i, op := range ops {
		switch op.Kind {
		case OpAddNode:
			if op.Node == nil {
				return nil, fmt.Errorf("op %d: addNode requires a node", i)
			}
			if out.Node(op.Node.ID) != nil {
				return nil, fmt.Errorf("op %d: node %q already exists", i, op.Node.ID)
			}
			out.Nodes = append(out.Nodes, *op.Node)

		case OpRemoveNode:
			if op.NodeID == "" {
				return nil, fmt.Errorf("op %d: removeNode requires nodeId", i)
			}
			if coreNodeIDs[op.NodeID] {
				return nil, fmt.Errorf("op %d: core node %q may not be removed", i, op.NodeID)
			}
			idx := nodeIndex(out, op.NodeID)
			if idx < 0 {
				return nil, fmt.Errorf("op %d: node %q not found", i, op.NodeID)
			}
			out.Nodes = append(out.Nodes[:idx], out.Nodes[idx+1:]...)
			// Drop edges touching the removed node.
			kept := out.Edges[:0]
			for _, e := range out.Edges {
				if e.From != op.NodeID && e.To != op.NodeID {
					kept = append(kept, e)
				}
			}
			out.Edges = kept

		case OpReplaceNode:
			if op.Node == nil {
				return nil, fmt.Errorf("op %d: replaceNode requires a node", i)
			}
			idx := nodeIndex(out, op.Node.ID)
			if idx < 0 {
				return nil, fmt.Errorf("op %d: node %q not found", i, op.Node.ID)
			}
			out.Nodes[idx] = *op.Node

		case OpAddEdge:
			if op.Edge == nil {
				return nil, fmt.Errorf("op %d: addEdge requires an edge", i)
			}
			if out.Node(op.Edge.From) == nil || out.Node(op.Edge.To) == nil {
				return nil, fmt.Errorf("op %d: edge %s -> %s references unknown node", i, op.Edge.From, op.Edge.To)
			}
			out.Edges = append(out.Edges, *op.Edge)

		case OpRemoveEdge:
			if op.Edge == nil {
				return nil, fmt.Errorf("op %d: removeEdge requires an edge", i)
			}
			idx := -1
			for j, e := range out.Edges {
				if e.From == op.Edge.From && e.To == op.Edge.To {
					idx = j
					break
				}
			}
			if idx < 0 {
				return nil, fmt.Errorf("op %d: edge %s -> %s not found", i, op.Edge.From, op.Edge.To)
			}
			out.Edges = append(out.Edges[:idx], out.Edges[idx+1:]...)

		default:
			return nil, fmt.Errorf("op %d: unknown kind %q", i, op.Kind)
		}
	}

	return out, nil
}

func nodeIndex(d *models.PlanDAG, id string) int {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return i
		}
	}
	return -1
}
