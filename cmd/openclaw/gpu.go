package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openclaw/openclaw/pkg/gateway/client"
	"github.com/openclaw/openclaw/pkg/models"
)

const gpuUsage = `usage: openclaw gpu jobs <op> [args]

ops:
  list   [--state queued|running|succeeded|failed|canceled] [--url] [--token] [--json]
  get    <jobId> [--url] [--token] [--json]
  pause  <jobId> [--url] [--token] [--json]
  resume <jobId> [--url] [--token] [--json]
  cancel <jobId> [--url] [--token] [--json]
`

func runGpu(args []string) {
	if len(args) < 2 || args[0] != "jobs" {
		fmt.Fprint(os.Stderr, gpuUsage)
		os.Exit(1)
	}
	op, rest := args[1], args[2:]
	ctx := context.Background()

	switch op {
	case "list":
		gpuJobsList(ctx, rest)
	case "get", "pause", "resume", "cancel":
		gpuJobOp(ctx, op, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown gpu jobs op %q\n\n%s", op, gpuUsage)
		os.Exit(1)
	}
}

// gatewayFlags are the connection options of every gpu command.
type gatewayFlags struct {
	url     string
	token   string
	jsonOut bool
}

func (f *gatewayFlags) register(fs interface {
	StringVar(*string, string, string, string)
	BoolVar(*bool, string, bool, string)
}) {
	fs.StringVar(&f.url, "url", getEnv("OPENCLAW_GATEWAY_URL", "http://localhost:8090"), "gateway base URL")
	fs.StringVar(&f.token, "token", os.Getenv("OPENCLAW_GATEWAY_TOKEN"), "gateway bearer token")
	fs.BoolVar(&f.jsonOut, "json", false, "machine-readable JSON output")
}

func (f *gatewayFlags) caller() client.Caller {
	return client.NewHTTP(f.url, f.token)
}

func gpuJobsList(ctx context.Context, args []string) {
	fs := newFlagSet("gpu jobs list")
	var flags gatewayFlags
	flags.register(fs)
	state := fs.String("state", "", "filter by job state")
	parseFlags(fs, args)

	var out struct {
		Jobs []*models.GpuJob `json:"jobs"`
	}
	params := map[string]any{}
	if *state != "" {
		params["state"] = *state
	}
	if err := flags.caller().Call(ctx, "gpu.job.list", params, &out); err != nil {
		fatal("gpu.job.list: %v", err)
	}

	if flags.jsonOut {
		printJSON(out)
		return
	}
	for _, job := range out.Jobs {
		fmt.Printf("%-38s %-10s gpus=%d attempts=%d created=%s\n",
			job.JobID, job.State, job.Resources.GPUCount, len(job.Attempts),
			time.UnixMilli(job.CreatedAtMs).UTC().Format(time.RFC3339))
	}
}

func gpuJobOp(ctx context.Context, op string, args []string) {
	jobID, rest := positional(args, "jobId")
	fs := newFlagSet("gpu jobs " + op)
	var flags gatewayFlags
	flags.register(fs)
	parseFlags(fs, rest)

	method := "gpu.job." + op
	params := map[string]any{"jobId": jobID}

	var job models.GpuJob
	if err := flags.caller().Call(ctx, method, params, &job); err != nil {
		fatal("%s: %v", method, err)
	}
	if flags.jsonOut {
		printJSON(&job)
		return
	}
	fmt.Printf("%s %s paused=%v attempts=%d\n", job.JobID, job.State, job.Paused, len(job.Attempts))
}
