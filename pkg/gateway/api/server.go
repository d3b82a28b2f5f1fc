// Package api exposes the gateway's RPC surface over HTTP. Every RPC method
// is a POST under /api/v1/rpc/<method> with a JSON params body and a
// {ok,result} or {error:{code,message}} envelope; a few read-only views are
// also available as plain GETs.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/openclaw/pkg/config"
	"github.com/openclaw/openclaw/pkg/gateway/registry"
	"github.com/openclaw/openclaw/pkg/gateway/scheduler"
	"github.com/openclaw/openclaw/pkg/gateway/store"
	"github.com/openclaw/openclaw/pkg/gateway/transport"
	"github.com/openclaw/openclaw/pkg/pipeline"
)

// Server wires the registry, scheduler, pipeline, and optional job store
// behind the HTTP RPC surface.
type Server struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	pipeline  *pipeline.Runner
	store     *store.Store
	cfg       *config.GatewayConfig
	schedCfg  *config.SchedulerConfig
	authToken string
	hub       *transport.Hub
}

// SetNodeHub mounts the worker node transport. Without it the gateway serves
// RPC only (useful in tests and single-process mode).
func (s *Server) SetNodeHub(hub *transport.Hub) {
	s.hub = hub
}

// NewServer creates the API server. store and pipeline may be nil; the
// corresponding endpoints then report UNAVAILABLE.
func NewServer(reg *registry.Registry, sched *scheduler.Scheduler, pipe *pipeline.Runner, st *store.Store, cfg *config.GatewayConfig, schedCfg *config.SchedulerConfig, authToken string) *Server {
	return &Server{
		registry:  reg,
		scheduler: sched,
		pipeline:  pipe,
		store:     st,
		cfg:       cfg,
		schedCfg:  schedCfg,
		authToken: authToken,
	}
}

// rpcHandler handles one named RPC method. The params argument is the raw
// request body; the returned value becomes the result field.
type rpcHandler func(c *gin.Context) (any, bool)

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), securityHeaders())

	r.GET("/api/v1/health", s.Health)

	v1 := r.Group("/api/v1", bearerAuth(s.authToken))
	{
		v1.GET("/nodes", s.GetNodes)
		if s.hub != nil {
			v1.POST("/nodes/connect", s.hub.Connect)
			v1.POST("/nodes/result", s.hub.Result)
		}
		v1.GET("/gpu/jobs", s.GetJobs)
		v1.GET("/gpu/jobs/:id", s.GetJob)

		methods := map[string]rpcHandler{
			"node.list":         s.rpcNodeList,
			"node.invoke":       s.rpcNodeInvoke,
			"gpu.job.submit":    s.rpcJobSubmit,
			"gpu.job.get":       s.rpcJobGet,
			"gpu.job.list":      s.rpcJobList,
			"gpu.job.cancel":    s.rpcJobCancel,
			"gpu.job.pause":     s.rpcJobPause,
			"gpu.job.resume":    s.rpcJobResume,
			"gpu.job.wait":      s.rpcJobWait,
			"proposal.compile":  s.rpcProposalCompile,
			"proposal.validate": s.rpcProposalValidate,
			"proposal.refine":   s.rpcProposalRefine,
			"proposal.execute":  s.rpcProposalExecute,
			"proposal.finalize": s.rpcProposalFinalize,
			"proposal.accept":   s.rpcProposalAccept,
			"proposal.run":      s.rpcProposalRun,
		}
		rpc := v1.Group("/rpc")
		for name, h := range methods {
			handler := h
			rpc.POST("/"+name, func(c *gin.Context) {
				result, ok := handler(c)
				if !ok {
					return // handler already wrote the error envelope
				}
				c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
			})
		}
	}

	return r
}

// Health reports gateway liveness plus store reachability when configured.
func (s *Server) Health(c *gin.Context) {
	resp := gin.H{
		"status":          "healthy",
		"connected_nodes": len(s.registry.List().Nodes),
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.store.Health(ctx); err != nil {
			resp["status"] = "unhealthy"
			resp["store"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["store"] = "ok"
	}
	c.JSON(http.StatusOK, resp)
}

// bindParams decodes the request body into dst, writing the error envelope on
// failure. An empty body binds the zero value.
func bindParams(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, CodeInvalidRequest, "malformed params: "+err.Error())
		return false
	}
	return true
}
