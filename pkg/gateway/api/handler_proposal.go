package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/openclaw/pkg/pipeline"
)

// requirePipeline checks the pipeline is wired; gateways deployed as pure
// schedulers run without one.
func (s *Server) requirePipeline(c *gin.Context) bool {
	if s.pipeline == nil {
		writeError(c, http.StatusServiceUnavailable, CodeUnavailable, "pipeline is not configured on this gateway")
		return false
	}
	return true
}

func (s *Server) rpcProposalCompile(c *gin.Context) (any, bool) {
	if !s.requirePipeline(c) {
		return nil, false
	}
	var req pipeline.CompileRequest
	if !bindParams(c, &req) {
		return nil, false
	}
	res, err := s.pipeline.Compile(c.Request.Context(), req)
	if err != nil {
		mapError(c, err)
		return nil, false
	}
	return res, true
}

func (s *Server) rpcProposalValidate(c *gin.Context) (any, bool) {
	if !s.requirePipeline(c) {
		return nil, false
	}
	var req pipeline.ValidateRequest
	if !bindParams(c, &req) {
		return nil, false
	}
	res, err := s.pipeline.Validate(c.Request.Context(), req)
	if err != nil {
		mapError(c, err)
		return nil, false
	}
	return res, true
}

func (s *Server) rpcProposalRefine(c *gin.Context) (any, bool) {
	if !s.requirePipeline(c) {
		return nil, false
	}
	var req pipeline.RefineRequest
	if !bindParams(c, &req) {
		return nil, false
	}
	res, err := s.pipeline.Refine(c.Request.Context(), req)
	if err != nil {
		mapError(c, err)
		return nil, false
	}
	return res, true
}

func (s *Server) rpcProposalExecute(c *gin.Context) (any, bool) {
	if !s.requirePipeline(c) {
		return nil, false
	}
	var req pipeline.ExecuteRequest
	if !bindParams(c, &req) {
		return nil, false
	}
	res, err := s.pipeline.Execute(c.Request.Context(), req)
	if err != nil {
		mapError(c, err)
		return nil, false
	}
	return res, true
}

func (s *Server) rpcProposalFinalize(c *gin.Context) (any, bool) {
	if !s.requirePipeline(c) {
		return nil, false
	}
	var req pipeline.FinalizeRequest
	if !bindParams(c, &req) {
		return nil, false
	}
	res, err := s.pipeline.Finalize(c.Request.Context(), req)
	if err != nil {
		mapError(c, err)
		return nil, false
	}
	return res, true
}

func (s *Server) rpcProposalAccept(c *gin.Context) (any, bool) {
	if !s.requirePipeline(c) {
		return nil, false
	}
	var req pipeline.AcceptRequest
	if !bindParams(c, &req) {
		return nil, false
	}
	res, err := s.pipeline.Accept(c.Request.Context(), req)
	if err != nil {
		mapError(c, err)
		return nil, false
	}
	return res, true
}

func (s *Server) rpcProposalRun(c *gin.Context) (any, bool) {
	if !s.requirePipeline(c) {
		return nil, false
	}
	var req pipeline.RunRequest
	if !bindParams(c, &req) {
		return nil, false
	}
	res, err := s.pipeline.Run(c.Request.Context(), req)
	if err != nil {
		mapError(c, err)
		return nil, false
	}
	return res, true
}
