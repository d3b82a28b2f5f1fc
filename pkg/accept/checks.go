package accept

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// checkInput bundles everything check evaluation reads.
type checkInput struct {
	layout    plan.Layout
	metrics   map[string]any
	execLog   *models.ExecuteLog
	approvals map[string]bool
}

// approved reports whether the check was manually approved by id or selector.
func (in checkInput) approved(check models.AcceptanceCheck) bool {
	return (check.ID != "" && in.approvals[check.ID]) ||
		(check.Selector != "" && in.approvals[check.Selector])
}

// evaluateCheck evaluates one acceptance check. A pass on a needs_confirm
// check stays needs_confirm until a manual approval lifts it.
func evaluateCheck(in checkInput, check models.AcceptanceCheck) models.CheckResult {
	var result models.CheckResult
	switch check.Type {
	case models.CheckArtifactExists:
		result = checkArtifactExists(in, check)
	case models.CheckMetricThreshold:
		result = checkMetricThreshold(in, check)
	case models.CheckCommandExitCode:
		result = checkCommandExitCode(in, check)
	case models.CheckManualApproval:
		result = checkManualApproval(in, check)
	default:
		result = models.CheckResult{
			Status: models.CheckFail,
			Detail: fmt.Sprintf("unknown check type %q", check.Type),
		}
	}
	result.Check = check

	if result.Status == models.CheckPass && check.NeedsConfirm && !in.approved(check) {
		result.Status = models.CheckNeedsConfirm
		result.Detail = strings.TrimSpace(result.Detail + "; awaiting manual confirmation")
	}
	return result
}

func checkArtifactExists(in checkInput, check models.AcceptanceCheck) models.CheckResult {
	path := in.layout.Path(check.Selector)
	info, err := os.Stat(path)
	if err != nil {
		return models.CheckResult{
			Status: models.CheckFail,
			Detail: fmt.Sprintf("artifact %s not found", check.Selector),
		}
	}
	return models.CheckResult{
		Status:   models.CheckPass,
		Observed: info.Size(),
		Detail:   fmt.Sprintf("artifact %s exists (%d bytes)", check.Selector, info.Size()),
	}
}

func checkMetricThreshold(in checkInput, check models.AcceptanceCheck) models.CheckResult {
	observed, ok := in.metrics[check.Selector]
	if !ok {
		status := models.CheckFail
		if check.NeedsConfirm {
			status = models.CheckNeedsConfirm
		}
		return models.CheckResult{
			Status: status,
			Detail: fmt.Sprintf("metric %q not found", check.Selector),
		}
	}
	if check.Value == nil {
		return models.CheckResult{
			Status:   models.CheckNeedsConfirm,
			Observed: observed,
			Detail:   "no expected value to compare against",
		}
	}

	obsNum, obsIsNum := toNumber(observed)
	expNum, expIsNum := toNumber(check.Value)

	if obsIsNum && expIsNum {
		pass, err := compareNumbers(obsNum, expNum, check.Op)
		if err != nil {
			return models.CheckResult{Status: models.CheckFail, Observed: observed, Detail: err.Error()}
		}
		return numResult(pass, observed, fmt.Sprintf("%v %s %v", obsNum, check.Op, expNum))
	}

	// String comparison supports equality only.
	obsStr := fmt.Sprintf("%v", observed)
	expStr := fmt.Sprintf("%v", check.Value)
	switch check.Op {
	case models.OpEQ:
		return numResult(obsStr == expStr, observed, fmt.Sprintf("%q == %q", obsStr, expStr))
	case models.OpNE:
		return numResult(obsStr != expStr, observed, fmt.Sprintf("%q != %q", obsStr, expStr))
	default:
		return models.CheckResult{
			Status:   models.CheckFail,
			Observed: observed,
			Detail:   fmt.Sprintf("operator %q not supported for string metrics", check.Op),
		}
	}
}

func numResult(pass bool, observed any, detail string) models.CheckResult {
	status := models.CheckFail
	if pass {
		status = models.CheckPass
	}
	return models.CheckResult{Status: status, Observed: observed, Detail: detail}
}

func compareNumbers(observed, expected float64, op models.CheckOp) (bool, error) {
	switch op {
	case models.OpGE:
		return observed >= expected, nil
	case models.OpLE:
		return observed <= expected, nil
	case models.OpGT:
		return observed > expected, nil
	case models.OpLT:
		return observed < expected, nil
	case models.OpEQ:
		return observed == expected, nil
	case models.OpNE:
		return observed != expected, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// checkCommandExitCode resolves the node by id, then by type, and inspects
// the last attempt. ok without an exit code counts as 0; a failure without an
// exit code counts as 1.
func checkCommandExitCode(in checkInput, check models.AcceptanceCheck) models.CheckResult {
	var node *models.NodeResult
	if n := in.execLog.Result(check.Selector); n != nil {
		node = n
	} else {
		for i := range in.execLog.Results {
			if in.execLog.Results[i].Type == check.Selector {
				node = &in.execLog.Results[i]
				break
			}
		}
	}
	if node == nil {
		return models.CheckResult{
			Status: models.CheckFail,
			Detail: fmt.Sprintf("node %q not found in execute log", check.Selector),
		}
	}
	if len(node.Attempts) == 0 {
		return models.CheckResult{
			Status: models.CheckFail,
			Detail: fmt.Sprintf("node %s has no recorded attempts", node.NodeID),
		}
	}

	last := node.Attempts[len(node.Attempts)-1]
	exitCode := 1
	switch {
	case last.ExitCode != nil:
		exitCode = *last.ExitCode
	case last.OK:
		exitCode = 0
	}

	expected := 0
	if v, ok := toNumber(check.Value); ok {
		expected = int(v)
	}
	return numResult(exitCode == expected, exitCode,
		fmt.Sprintf("node %s exit code %d, expected %d", node.NodeID, exitCode, expected))
}

func checkManualApproval(in checkInput, check models.AcceptanceCheck) models.CheckResult {
	if in.approved(check) {
		return models.CheckResult{Status: models.CheckPass, Detail: "manually approved"}
	}
	return models.CheckResult{Status: models.CheckNeedsConfirm, Detail: "awaiting manual approval"}
}

// toNumber coerces JSON numbers and numeric strings.
func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}
