package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// openclawYAML mirrors the openclaw.yaml file structure. Every section is
// optional; unset sections fall back entirely to built-in defaults.
type openclawYAML struct {
	Gateway   *GatewayConfig   `yaml:"gateway"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Sandbox   *SandboxConfig   `yaml:"sandbox"`
	Compiler  *CompilerConfig  `yaml:"compiler"`
	Executor  *ExecutorConfig  `yaml:"executor"`
	Retention *RetentionConfig `yaml:"retention"`
}

// Initialize loads, merges, and validates configuration from configDir.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read openclaw.yaml (missing file = all defaults)
//  2. Expand environment variables
//  3. Parse YAML into section structs
//  4. Merge user config over built-in defaults
//  5. Validate
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"gateway_port", stats.GatewayPort,
		"scheduler_tick", stats.SchedulerTick,
		"sandbox_image", stats.SandboxImage)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	cfg := &Config{
		configDir: configDir,
		Gateway:   DefaultGatewayConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Sandbox:   DefaultSandboxConfig(),
		Compiler:  DefaultCompilerConfig(),
		Executor:  DefaultExecutorConfig(),
		Retention: DefaultRetentionConfig(),
	}

	path := filepath.Join(configDir, "openclaw.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Info("No openclaw.yaml found, using built-in defaults", "path", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	data = ExpandEnv(data)

	var user openclawYAML
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// User values override defaults; unset user fields keep the default.
	for _, m := range []struct {
		dst, src any
	}{
		{cfg.Gateway, user.Gateway},
		{cfg.Scheduler, user.Scheduler},
		{cfg.Sandbox, user.Sandbox},
		{cfg.Compiler, user.Compiler},
		{cfg.Executor, user.Executor},
		{cfg.Retention, user.Retention},
	} {
		if isNil(m.src) {
			continue
		}
		if err := mergo.Merge(m.dst, m.src, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge config section: %w", err)
		}
	}

	return cfg, nil
}

func isNil(v any) bool {
	switch x := v.(type) {
	case *GatewayConfig:
		return x == nil
	case *SchedulerConfig:
		return x == nil
	case *SandboxConfig:
		return x == nil
	case *CompilerConfig:
		return x == nil
	case *ExecutorConfig:
		return x == nil
	case *RetentionConfig:
		return x == nil
	}
	return v == nil
}
