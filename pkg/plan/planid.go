package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/openclaw/openclaw/pkg/models"
)

// proposalDigestCap bounds how much of the proposal feeds the plan-id digest.
const proposalDigestCap = 80 * 1024

// ComputePlanID builds a plan id of the form YYYYMMDD-HHMMSS-<12hex>.
// The hex suffix is SHA-256(discovery || modelKey || proposal[:80kB])
// truncated, so identical inputs at the same UTC second yield the same id.
func ComputePlanID(now time.Time, proposal string, discovery models.DiscoveryMode, modelKey string) string {
	p := proposal
	if len(p) > proposalDigestCap {
		p = p[:proposalDigestCap]
	}
	h := sha256.New()
	h.Write([]byte(discovery))
	h.Write([]byte(modelKey))
	h.Write([]byte(p))
	digest := hex.EncodeToString(h.Sum(nil))
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102-150405"), digest[:12])
}

// ComputeRunID builds a run id of the form YYYYMMDD-HHMMSS-<6hex>.
// The hex suffix is derived from the plan id and the timestamp so repeated
// accepts within one second still get distinct directories per plan.
func ComputeRunID(now time.Time, planID string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", planID, now.UnixNano())))
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102-150405"), hex.EncodeToString(h[:])[:6])
}

func attemptDirName(attempt int) string {
	return fmt.Sprintf("attempt-%d", attempt)
}
