package config

import "time"

// DefaultGatewayConfig returns the built-in gateway defaults.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   90 * time.Second,
		InvokeTimeout:  30 * time.Second,
		DatabaseURLEnv: "DATABASE_URL",
	}
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		DispatchTick:       1 * time.Second,
		DefaultWaitTimeout: 30 * time.Second,
		DefaultMaxAttempts: 1,
		AutoResumeHold:     1 * time.Minute,
	}
}

// DefaultSandboxConfig returns the built-in sandbox defaults.
func DefaultSandboxConfig() *SandboxConfig {
	return &SandboxConfig{
		DefaultImage:  "python:3.11-slim",
		ContainerRoot: "/workspace/plan",
		DockerBinary:  "docker",
		ExecTimeout:   30 * time.Minute,
	}
}

// DefaultCompilerConfig returns the built-in compiler defaults.
func DefaultCompilerConfig() *CompilerConfig {
	return &CompilerConfig{
		GitHubTokenEnv:    "GITHUB_TOKEN",
		DiscoveryCacheTTL: 10 * time.Minute,
		ProbeTimeout:      15 * time.Second,
		ProbeRetries:      3,
	}
}

// DefaultExecutorConfig returns the built-in executor defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		CommandTimeout:    30 * time.Minute,
		InvokeTimeout:     30 * time.Second,
		GpuWaitTimeout:    10 * time.Minute,
		MaxAttempts:       3,
		MaxRepairAttempts: 1,
	}
}

// DefaultRetentionConfig returns the built-in retention defaults (disabled).
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		Enabled:       false,
		MaxRuns:       20,
		MaxRunAge:     0,
		JobTTL:        0,
		SweepInterval: 1 * time.Hour,
	}
}
