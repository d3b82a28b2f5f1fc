package config

import "time"

// GatewayConfig contains HTTP gateway settings.
type GatewayConfig struct {
	// Port the gin server listens on.
	Port int `yaml:"port"`

	// AuthTokenEnv names the environment variable holding the bearer token.
	// Empty disables authentication (local development).
	AuthTokenEnv string `yaml:"auth_token_env,omitempty"`

	// ReadTimeout / WriteTimeout for the HTTP server.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// InvokeTimeout is the default node.invoke round-trip timeout.
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`

	// DatabaseURLEnv names the env variable with the optional Postgres DSN
	// for terminal job persistence. Empty or unset DSN disables the store.
	DatabaseURLEnv string `yaml:"database_url_env,omitempty"`
}

// SchedulerConfig contains GPU scheduler settings.
type SchedulerConfig struct {
	// DispatchTick is the dispatch loop interval. Dispatch also runs
	// immediately on state changes; the tick is the upper bound.
	DispatchTick time.Duration `yaml:"dispatch_tick"`

	// DefaultWaitTimeout is the gpu.job.wait default when the caller omits
	// timeoutMs.
	DefaultWaitTimeout time.Duration `yaml:"default_wait_timeout"`

	// DefaultMaxAttempts when a submit omits maxAttempts.
	DefaultMaxAttempts int `yaml:"default_max_attempts"`

	// AutoResumeHold is the notBefore delay applied when a policy window
	// pauses a job, preventing pause/resume oscillation at window edges.
	AutoResumeHold time.Duration `yaml:"auto_resume_hold"`
}

// SandboxConfig contains container sandbox settings.
type SandboxConfig struct {
	// DefaultImage is used when no Dockerfile.sandbox is present.
	DefaultImage string `yaml:"default_image"`

	// ContainerRoot is the fixed path plan workdirs map under.
	ContainerRoot string `yaml:"container_root"`

	// DockerBinary allows overriding the docker CLI (e.g. podman).
	DockerBinary string `yaml:"docker_binary"`

	// ExecTimeout is the fallback command timeout when a node specifies none.
	ExecTimeout time.Duration `yaml:"exec_timeout"`
}

// CompilerConfig contains proposal compiler settings.
type CompilerConfig struct {
	// GitHubTokenEnv names the env variable with the GitHub token used for
	// repository probes. Defaults to GITHUB_TOKEN.
	GitHubTokenEnv string `yaml:"github_token_env,omitempty"`

	// DiscoveryCacheTTL bounds how long repo/dataset probe results are
	// reused across compiles.
	DiscoveryCacheTTL time.Duration `yaml:"discovery_cache_ttl"`

	// ProbeTimeout bounds a single discovery HTTP request.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// ProbeRetries is the attempt count for discovery HTTP probes.
	ProbeRetries int `yaml:"probe_retries"`

	// DefaultModelKey is used when a compile request has no model key.
	DefaultModelKey string `yaml:"default_model_key,omitempty"`
}

// ExecutorConfig contains execute engine defaults.
type ExecutorConfig struct {
	// CommandTimeout is the per-attempt command timeout default.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// InvokeTimeout bounds one gateway RPC round-trip.
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`

	// GpuWaitTimeout bounds waiting for an eligible GPU node on the
	// gateway-direct path.
	GpuWaitTimeout time.Duration `yaml:"gpu_wait_timeout"`

	// MaxAttempts caps attempts per node regardless of retry policy.
	MaxAttempts int `yaml:"max_attempts"`

	// MaxRepairAttempts caps LLM repairs per node.
	MaxRepairAttempts int `yaml:"max_repair_attempts"`
}

// RetentionConfig controls pruning of archived runs and terminal jobs.
// Disabled by default.
type RetentionConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxRuns keeps at most this many archived runs per plan (0 = unlimited).
	MaxRuns int `yaml:"max_runs"`

	// MaxRunAge prunes archived runs older than this (0 = unlimited).
	MaxRunAge time.Duration `yaml:"max_run_age"`

	// JobTTL prunes terminal GPU jobs from the scheduler's in-memory list
	// after this duration (0 = keep indefinitely).
	JobTTL time.Duration `yaml:"job_ttl"`

	// SweepInterval is how often the cleanup loop runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}
