package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/openclaw/pkg/models"
)

// GetNodes is the REST view of node.list.
func (s *Server) GetNodes(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.List())
}

func (s *Server) rpcNodeList(c *gin.Context) (any, bool) {
	return s.registry.List(), true
}

func (s *Server) rpcNodeInvoke(c *gin.Context) (any, bool) {
	var params models.InvokeParams
	if !bindParams(c, &params) {
		return nil, false
	}
	if params.NodeID == "" || params.Command == "" {
		writeError(c, http.StatusBadRequest, CodeInvalidRequest, "nodeId and command are required")
		return nil, false
	}
	if params.TimeoutMs <= 0 {
		params.TimeoutMs = s.cfg.InvokeTimeout.Milliseconds()
	}

	res, err := s.registry.Invoke(c.Request.Context(), params)
	if err != nil {
		mapError(c, err)
		return nil, false
	}
	return res, true
}
