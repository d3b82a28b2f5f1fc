package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/openclaw/pkg/gateway/scheduler"
	"github.com/openclaw/openclaw/pkg/models"
)

// jobRef addresses one job in control RPCs.
type jobRef struct {
	JobID string `json:"jobId"`
}

// waitParams is the gpu.job.wait request.
type waitParams struct {
	JobID     string `json:"jobId"`
	TimeoutMs *int64 `json:"timeoutMs,omitempty"`
}

// listParams filters gpu.job.list.
type listParams struct {
	State string `json:"state,omitempty"`
}

// GetJobs is the REST view of gpu.job.list.
func (s *Server) GetJobs(c *gin.Context) {
	state := models.GpuJobState(c.Query("state"))
	c.JSON(http.StatusOK, gin.H{"jobs": s.scheduler.List(state)})
}

// GetJob is the REST view of gpu.job.get.
func (s *Server) GetJob(c *gin.Context) {
	job, err := s.scheduler.Get(c.Param("id"))
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) rpcJobSubmit(c *gin.Context) (any, bool) {
	var req scheduler.SubmitRequest
	if !bindParams(c, &req) {
		return nil, false
	}
	job, err := s.scheduler.Submit(req)
	if err != nil {
		mapError(c, err)
		return nil, false
	}
	return job, true
}

func (s *Server) rpcJobGet(c *gin.Context) (any, bool) {
	var ref jobRef
	if !bindParams(c, &ref) {
		return nil, false
	}
	job, err := s.scheduler.Get(ref.JobID)
	if err != nil {
		mapError(c, err)
		return nil, false
	}
	return job, true
}

func (s *Server) rpcJobList(c *gin.Context) (any, bool) {
	var params listParams
	if !bindParams(c, &params) {
		return nil, false
	}
	return gin.H{"jobs": s.scheduler.List(models.GpuJobState(params.State))}, true
}

func (s *Server) rpcJobCancel(c *gin.Context) (any, bool) {
	return s.jobControl(c, s.scheduler.Cancel)
}

func (s *Server) rpcJobPause(c *gin.Context) (any, bool) {
	return s.jobControl(c, s.scheduler.Pause)
}

func (s *Server) rpcJobResume(c *gin.Context) (any, bool) {
	return s.jobControl(c, s.scheduler.Resume)
}

func (s *Server) jobControl(c *gin.Context, op func(string) error) (any, bool) {
	var ref jobRef
	if !bindParams(c, &ref) {
		return nil, false
	}
	if err := op(ref.JobID); err != nil {
		mapError(c, err)
		return nil, false
	}
	job, err := s.scheduler.Get(ref.JobID)
	if err != nil {
		mapError(c, err)
		return nil, false
	}
	return job, true
}

// rpcJobWait blocks until the job is terminal or the timeout elapses.
// Omitted timeoutMs uses the configured default; negative values clamp to 0,
// which returns the current snapshot immediately.
func (s *Server) rpcJobWait(c *gin.Context) (any, bool) {
	var params waitParams
	if !bindParams(c, &params) {
		return nil, false
	}

	timeout := s.schedCfg.DefaultWaitTimeout
	if params.TimeoutMs != nil {
		timeout = time.Duration(*params.TimeoutMs) * time.Millisecond
		if timeout < 0 {
			timeout = 0
		}
	}

	job, done, err := s.scheduler.Wait(c.Request.Context(), params.JobID, timeout)
	if err != nil {
		mapError(c, err)
		return nil, false
	}
	return gin.H{"done": done, "job": job}, true
}
