package config

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// validate checks every loaded section, aggregating all problems so a broken
// config surfaces everything at once instead of one error per restart.
func validate(c *Config) error {
	var errs error

	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	if c.Gateway.InvokeTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("gateway.invoke_timeout must be positive"))
	}

	if c.Scheduler.DispatchTick <= 0 {
		errs = multierr.Append(errs, errors.New("scheduler.dispatch_tick must be positive"))
	}
	if c.Scheduler.DefaultMaxAttempts < 1 {
		errs = multierr.Append(errs, errors.New("scheduler.default_max_attempts must be >= 1"))
	}
	if c.Scheduler.DefaultWaitTimeout < 0 {
		errs = multierr.Append(errs, errors.New("scheduler.default_wait_timeout must not be negative"))
	}

	if c.Sandbox.DefaultImage == "" {
		errs = multierr.Append(errs, errors.New("sandbox.default_image must not be empty"))
	}
	if c.Sandbox.ContainerRoot == "" || c.Sandbox.ContainerRoot[0] != '/' {
		errs = multierr.Append(errs, fmt.Errorf("sandbox.container_root %q must be an absolute path", c.Sandbox.ContainerRoot))
	}
	if c.Sandbox.DockerBinary == "" {
		errs = multierr.Append(errs, errors.New("sandbox.docker_binary must not be empty"))
	}

	if c.Compiler.ProbeTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("compiler.probe_timeout must be positive"))
	}
	if c.Compiler.ProbeRetries < 1 {
		errs = multierr.Append(errs, errors.New("compiler.probe_retries must be >= 1"))
	}

	if c.Executor.MaxAttempts < 1 {
		errs = multierr.Append(errs, errors.New("executor.max_attempts must be >= 1"))
	}
	if c.Executor.MaxRepairAttempts < 0 {
		errs = multierr.Append(errs, errors.New("executor.max_repair_attempts must not be negative"))
	}
	if c.Executor.CommandTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("executor.command_timeout must be positive"))
	}

	if c.Retention.Enabled && c.Retention.SweepInterval <= 0 {
		errs = multierr.Append(errs, errors.New("retention.sweep_interval must be positive when retention is enabled"))
	}

	return errs
}
