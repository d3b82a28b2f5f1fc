package accept

import (
	"encoding/json"
	"os"

	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// loadApprovals reads report/manual_approvals.json. Three shapes are
// accepted: {approved: [...], notes?}, a bare array of ids, and a map of
// id to bool. A missing or malformed file yields an empty set.
func loadApprovals(layout plan.Layout) map[string]bool {
	approved := make(map[string]bool)
	raw, err := os.ReadFile(layout.Path(plan.ApprovalsPath))
	if err != nil {
		return approved
	}

	var doc models.ManualApprovals
	if err := json.Unmarshal(raw, &doc); err == nil && doc.Approved != nil {
		for _, id := range doc.Approved {
			approved[id] = true
		}
		return approved
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, id := range list {
			approved[id] = true
		}
		return approved
	}

	var flags map[string]bool
	if err := json.Unmarshal(raw, &flags); err == nil {
		for id, ok := range flags {
			if ok {
				approved[id] = true
			}
		}
	}
	return approved
}
