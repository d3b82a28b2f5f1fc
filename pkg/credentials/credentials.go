// Package credentials resolves external-service secrets from an environment
// snapshot and the on-disk state directory. Nothing else in the codebase
// reads credential env variables directly; callers pass the resolved set
// into job specs and discovery clients explicitly.
package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Credentials is the resolved secret set.
type Credentials struct {
	HFToken        string `json:"hf_token,omitempty"`
	KaggleUsername string `json:"kaggle_username,omitempty"`
	KaggleKey      string `json:"kaggle_key,omitempty"`
	GitHubToken    string `json:"github_token,omitempty"`
	GatewayToken   string `json:"gateway_token,omitempty"`
}

// HasKaggle reports whether both Kaggle credentials are present.
func (c Credentials) HasKaggle() bool {
	return c.KaggleUsername != "" && c.KaggleKey != ""
}

// secretsFile is the optional credentials file under the state dir.
const secretsFile = "credentials.json"

// Resolve builds Credentials from an environment snapshot (os.Environ()
// form) and an optional state directory (OPENCLAW_STATE_DIR). Environment
// values win over the secrets file.
func Resolve(environ []string, stateDir string) Credentials {
	var creds Credentials

	if stateDir != "" {
		if data, err := os.ReadFile(filepath.Join(stateDir, secretsFile)); err == nil {
			// Best effort; a malformed secrets file is ignored.
			_ = json.Unmarshal(data, &creds)
		}
	}

	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			env[kv[:idx]] = kv[idx+1:]
		}
	}

	if v := env["HF_TOKEN"]; v != "" {
		creds.HFToken = v
	} else if v := env["HUGGINGFACE_HUB_TOKEN"]; v != "" {
		creds.HFToken = v
	}
	if v := env["KAGGLE_USERNAME"]; v != "" {
		creds.KaggleUsername = v
	}
	if v := env["KAGGLE_KEY"]; v != "" {
		creds.KaggleKey = v
	}
	if v := env["GITHUB_TOKEN"]; v != "" {
		creds.GitHubToken = v
	}
	if v := env["OPENCLAW_GATEWAY_TOKEN"]; v != "" {
		creds.GatewayToken = v
	}

	return creds
}
