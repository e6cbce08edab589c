package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	agentdomain "github.com/hooklane/hooklane/internal/agent/domain"
)

type registerAgentRequest struct {
	OwnerAccountID *snowflake.ID `json:"owner_account_id,omitempty"`
	Name           string        `json:"name"`
	URL            string        `json:"url"`
	PriceCents     int64         `json:"price_cents"`
}

func (s *Server) RegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.agentSvc.Register(c.Request.Context(), agentdomain.RegisterAgentRequest{
		OwnerAccountID: req.OwnerAccountID,
		Name:           strings.TrimSpace(req.Name),
		URL:            strings.TrimSpace(req.URL),
		PriceCents:     req.PriceCents,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAgentByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.agentSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateAgent(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req agentdomain.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id

	resp, err := s.agentSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAgents(c *gin.Context) {
	ownerID, err := queryID(c, "owner_account_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	activeOnly := strings.EqualFold(c.Query("active"), "true")

	resp, err := s.agentSvc.List(c.Request.Context(), agentdomain.ListAgentsFilter{
		OwnerAccountID: ownerID,
		ActiveOnly:     activeOnly,
		Limit:          limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAgentEarnings(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.earningsSvc.GetByAgent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
