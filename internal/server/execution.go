package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	executiondomain "github.com/hooklane/hooklane/internal/execution/domain"
	obslogger "github.com/hooklane/hooklane/internal/observability/logger"
	"go.uber.org/zap"
)

// ExecuteRateLimit throttles executions per caller account. It reads the
// body through ShouldBindBodyWith so the handler can bind it again.
func (s *Server) ExecuteRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		var req executiondomain.ExecuteRequest
		if err := c.ShouldBindBodyWithJSON(&req); err != nil || req.AccountID == 0 {
			AbortWithError(c, invalidRequestError())
			return
		}

		result, err := s.limiter.Allow(c.Request.Context(), req.AccountID.String())
		if err != nil {
			obslogger.WithContext(c.Request.Context(), zap.L()).Warn("rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			s.obsMetrics.RecordRateLimited()
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}

func (s *Server) ExecuteAgent(c *gin.Context) {
	var req executiondomain.ExecuteRequest
	if err := c.ShouldBindBodyWithJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.AgentID == 0 || req.AccountID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.executionSvc.Execute(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetExecutionByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.executionSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListExecutions(c *gin.Context) {
	accountID, err := queryID(c, "account_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	agentID, err := queryID(c, "agent_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	resp, err := s.executionSvc.List(c.Request.Context(), executiondomain.ListFilter{
		AccountID: accountID,
		AgentID:   agentID,
		Limit:     limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
