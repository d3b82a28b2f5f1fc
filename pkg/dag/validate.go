// Package dag provides pure functions over plan DAGs: topological
// validation, convention checks, and patch application.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openclaw/openclaw/pkg/models"
)

// Core node ids that structural patches may not remove.
var coreNodeIDs = map[string]bool{
	"setup.venv":   true,
	"install.deps": true,
	"train.run":    true,
	"eval.run":     true,
	"report.write": true,
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	OK      bool
	Order   []string // deterministic topological order when OK
	Reasons []string // duplicate ids, missing endpoints, cycles
}

// Validate checks the DAG invariants (unique ids, existing edge endpoints,
// acyclicity) and produces a deterministic execution order using Kahn's
// algorithm with lexical tie-breaking among ready nodes.
func Validate(d *models.PlanDAG) ValidationResult {
	var reasons []string

	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			reasons = append(reasons, "node with empty id")
			continue
		}
		if seen[n.ID] {
			reasons = append(reasons, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
	}

	indegree := make(map[string]int, len(d.Nodes))
	adj := make(map[string][]string, len(d.Nodes))
	for id := range seen {
		indegree[id] = 0
	}
	for _, e := range d.Edges {
		if !seen[e.From] {
			reasons = append(reasons, fmt.Sprintf("edge %s -> %s: unknown node %q", e.From, e.To, e.From))
			continue
		}
		if !seen[e.To] {
			reasons = append(reasons, fmt.Sprintf("edge %s -> %s: unknown node %q", e.From, e.To, e.To))
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
		indegree[e.To]++
	}

	if len(reasons) > 0 {
		return ValidationResult{OK: false, Reasons: reasons}
	}

	// Kahn's algorithm. The ready set is kept sorted so the order is stable
	// across runs regardless of map iteration.
	ready := make([]string, 0, len(indegree))
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(d.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		unlocked := false
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
				unlocked = true
			}
		}
		if unlocked {
			sort.Strings(ready)
		}
	}

	if len(order) != len(d.Nodes) {
		var remaining []string
		for id, deg := range indegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		reasons = append(reasons, fmt.Sprintf("cycle detected involving nodes: %s", strings.Join(remaining, ", ")))
		return ValidationResult{OK: false, Reasons: reasons}
	}

	return ValidationResult{OK: true, Order: order}
}

// IsGpuNode reports whether a node is routed to GPU execution: type train or
// eval, or an explicit gpuCount request.
func IsGpuNode(n *models.DAGNode) bool {
	if n.Type == models.NodeTypeTrain || n.Type == models.NodeTypeEval {
		return true
	}
	return n.Resources != nil && n.Resources.GPUCount > 0
}
