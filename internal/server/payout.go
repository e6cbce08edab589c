package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	earningsdomain "github.com/hooklane/hooklane/internal/earnings/domain"
)

func (s *Server) RequestPayout(c *gin.Context) {
	var req earningsdomain.RequestPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.AgentID == 0 {
		AbortWithError(c, newValidationError("agent_id", "invalid_agent_id", "invalid agent_id"))
		return
	}

	resp, err := s.earningsSvc.RequestPayout(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPayoutByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.earningsSvc.GetPayout(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPayouts(c *gin.Context) {
	accountID, err := queryID(c, "account_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if accountID == nil {
		AbortWithError(c, newValidationError("account_id", "invalid_account_id", "invalid account_id"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	resp, err := s.earningsSvc.ListPayouts(c.Request.Context(), *accountID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CompletePayout(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.earningsSvc.CompletePayout(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type failPayoutRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) FailPayout(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req failPayoutRequest
	_ = c.ShouldBindJSON(&req)

	resp, err := s.earningsSvc.FailPayout(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
