// Openclaw gateway and CLI — serves the node/scheduler RPC surface and
// drives proposal plans from the command line.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openclaw/openclaw/pkg/cleanup"
	"github.com/openclaw/openclaw/pkg/config"
	"github.com/openclaw/openclaw/pkg/credentials"
	"github.com/openclaw/openclaw/pkg/gateway/api"
	"github.com/openclaw/openclaw/pkg/gateway/client"
	"github.com/openclaw/openclaw/pkg/gateway/registry"
	"github.com/openclaw/openclaw/pkg/gateway/scheduler"
	"github.com/openclaw/openclaw/pkg/gateway/store"
	"github.com/openclaw/openclaw/pkg/gateway/transport"
	"github.com/openclaw/openclaw/pkg/llm"
	"github.com/openclaw/openclaw/pkg/pipeline"
	"github.com/openclaw/openclaw/pkg/version"
)

const usage = `usage: openclaw <command> [args]

commands:
  serve      run the gateway (RPC surface, node transport, GPU scheduler)
  proposal   compile | validate | review | run | refine | execute | finalize | accept
  gpu        jobs list | get | pause | resume | cancel
  dataset    sample | fetch
  version    print the build version
`

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "proposal":
		runProposal(os.Args[2:])
	case "gpu":
		runGpu(os.Args[2:])
	case "dataset":
		runDataset(os.Args[2:])
	case "version":
		fmt.Println(version.Full())
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}
}

// loadConfig loads .env from the config dir, then the merged configuration.
func loadConfig(ctx context.Context, configDir string) *config.Config {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

func runServe(args []string) {
	fs := newFlagSet("serve")
	configDir := fs.String("config-dir", getEnv("OPENCLAW_CONFIG_DIR", "./config"), "configuration directory")
	workspace := fs.String("workspace", getEnv("OPENCLAW_WORKSPACE", "./plans"), "plan workspace directory")
	parseFlags(fs, args)

	ctx := context.Background()
	cfg := loadConfig(ctx, *configDir)
	creds := credentials.Resolve(os.Environ(), os.Getenv("OPENCLAW_STATE_DIR"))

	slog.Info("Starting openclaw gateway",
		"version", version.Full(),
		"port", cfg.Gateway.Port,
		"workspace", *workspace)

	// Optional terminal-job persistence.
	var jobStore *store.Store
	if cfg.Gateway.DatabaseURLEnv != "" {
		if dsn := os.Getenv(cfg.Gateway.DatabaseURLEnv); dsn != "" {
			var err error
			jobStore, err = store.New(ctx, dsn)
			if err != nil {
				slog.Error("Failed to connect to job store", "error", err)
				os.Exit(1)
			}
			defer func() {
				if err := jobStore.Close(); err != nil {
					slog.Error("Error closing job store", "error", err)
				}
			}()
			slog.Info("Job store connected")
		}
	}

	// Node transport, registry, scheduler.
	hub := transport.NewHub()
	reg := registry.New(hub)
	hub.SetRegistry(reg)

	var schedStore scheduler.Store
	if jobStore != nil {
		schedStore = jobStore
	}
	sched := scheduler.New(reg, schedStore, cfg.Scheduler)
	sched.Start(ctx)
	defer sched.Stop()

	// In-process pipeline behind the proposal.* RPC methods.
	llmClient := newLLMClient(cfg, false)
	runner := pipeline.New(cfg, llmClient, client.NewLocal(reg, sched, cfg.Scheduler), creds)

	// Retention sweep.
	retention := cleanup.NewService(cfg.Retention, *workspace, sched)
	retention.Start(ctx)
	defer retention.Stop()

	// HTTP server.
	var token string
	if cfg.Gateway.AuthTokenEnv != "" {
		token = os.Getenv(cfg.Gateway.AuthTokenEnv)
	}
	server := api.NewServer(reg, sched, runner, jobStore, cfg.Gateway, cfg.Scheduler, token)
	server.SetNodeHub(hub)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:     server.Router(),
		ReadTimeout: cfg.Gateway.ReadTimeout,
		// WriteTimeout stays unset: the node transport holds SSE streams open.
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}

// newLLMClient builds the opencode-backed LLM client, or nil when disabled.
func newLLMClient(cfg *config.Config, disabled bool) llm.Client {
	if disabled {
		return nil
	}
	binary := getEnv("OPENCODE_BIN", "opencode")
	return llm.NewOpencodeClient(binary, cfg.Compiler.DefaultModelKey, getEnv("OPENCLAW_AGENT_ID", "default"))
}
