package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) RunReconciliation(c *gin.Context) {
	report, err := s.reconcileSvc.Run(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) RepairAccount(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.reconcileSvc.RepairAccount(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RepairEarnings(c *gin.Context) {
	id, err := pathID(c, "agentId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.reconcileSvc.RepairEarnings(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
