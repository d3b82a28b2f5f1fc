package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openclaw/openclaw/pkg/config"
	"github.com/openclaw/openclaw/pkg/gateway/registry"
	"github.com/openclaw/openclaw/pkg/gateway/scheduler"
	"github.com/openclaw/openclaw/pkg/models"
)

// LocalCaller dispatches RPC methods directly against an in-process registry
// and scheduler, bypassing HTTP. Params and results round-trip through JSON
// so behavior matches the wire exactly.
type LocalCaller struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	schedCfg  *config.SchedulerConfig
}

// NewLocal creates an in-process caller.
func NewLocal(reg *registry.Registry, sched *scheduler.Scheduler, schedCfg *config.SchedulerConfig) *LocalCaller {
	return &LocalCaller{registry: reg, scheduler: sched, schedCfg: schedCfg}
}

// Call dispatches method by name.
func (l *LocalCaller) Call(ctx context.Context, method string, params any, result any) error {
	out, err := l.dispatch(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil || out == nil {
		return nil
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode %s result: %w", method, err)
	}
	return json.Unmarshal(raw, result)
}

func (l *LocalCaller) dispatch(ctx context.Context, method string, params any) (any, error) {
	switch method {
	case "node.list":
		return l.registry.List(), nil

	case "node.invoke":
		var p models.InvokeParams
		if err := rebind(params, &p); err != nil {
			return nil, err
		}
		return l.registry.Invoke(ctx, p)

	case "gpu.job.submit":
		var p scheduler.SubmitRequest
		if err := rebind(params, &p); err != nil {
			return nil, err
		}
		return l.scheduler.Submit(p)

	case "gpu.job.get":
		var p struct {
			JobID string `json:"jobId"`
		}
		if err := rebind(params, &p); err != nil {
			return nil, err
		}
		return l.scheduler.Get(p.JobID)

	case "gpu.job.list":
		var p struct {
			State string `json:"state,omitempty"`
		}
		if err := rebind(params, &p); err != nil {
			return nil, err
		}
		return map[string]any{"jobs": l.scheduler.List(models.GpuJobState(p.State))}, nil

	case "gpu.job.cancel":
		return l.control(params, l.scheduler.Cancel)
	case "gpu.job.pause":
		return l.control(params, l.scheduler.Pause)
	case "gpu.job.resume":
		return l.control(params, l.scheduler.Resume)

	case "gpu.job.wait":
		var p struct {
			JobID     string `json:"jobId"`
			TimeoutMs *int64 `json:"timeoutMs,omitempty"`
		}
		if err := rebind(params, &p); err != nil {
			return nil, err
		}
		timeout := l.schedCfg.DefaultWaitTimeout
		if p.TimeoutMs != nil {
			timeout = time.Duration(*p.TimeoutMs) * time.Millisecond
			if timeout < 0 {
				timeout = 0
			}
		}
		job, done, err := l.scheduler.Wait(ctx, p.JobID, timeout)
		if err != nil {
			return nil, err
		}
		return map[string]any{"done": done, "job": job}, nil

	default:
		return nil, fmt.Errorf("unknown rpc method %q", method)
	}
}

func (l *LocalCaller) control(params any, op func(string) error) (any, error) {
	var p struct {
		JobID string `json:"jobId"`
	}
	if err := rebind(params, &p); err != nil {
		return nil, err
	}
	if err := op(p.JobID); err != nil {
		return nil, err
	}
	return l.scheduler.Get(p.JobID)
}

// rebind converts arbitrary params into the typed request via JSON.
func rebind(params any, dst any) error {
	if params == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	return json.Unmarshal(raw, dst)
}
