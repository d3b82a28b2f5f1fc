// Package config loads, merges, and validates the openclaw configuration.
package config

// Config is the umbrella configuration object returned by Initialize() and
// used throughout the application.
type Config struct {
	configDir string

	Gateway   *GatewayConfig
	Scheduler *SchedulerConfig
	Sandbox   *SandboxConfig
	Compiler  *CompilerConfig
	Executor  *ExecutorConfig
	Retention *RetentionConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats contains statistics about loaded configuration, for startup logging.
type Stats struct {
	GatewayPort    int
	SchedulerTick  string
	SandboxImage   string
	RetentionRuns  int
	DiscoveryCache string
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	return Stats{
		GatewayPort:    c.Gateway.Port,
		SchedulerTick:  c.Scheduler.DispatchTick.String(),
		SandboxImage:   c.Sandbox.DefaultImage,
		RetentionRuns:  c.Retention.MaxRuns,
		DiscoveryCache: c.Compiler.DiscoveryCacheTTL.String(),
	}
}
