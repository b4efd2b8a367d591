package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListAgentCommissions(c *gin.Context) {
	commissions, err := s.commissionSvc.ListByAgent(c.Request.Context(), agentIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": commissions})
}

func (s *Server) GetAgentCommissionStats(c *gin.Context) {
	stats, err := s.commissionSvc.Stats(c.Request.Context(), agentIDFromContext(c), s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) GetAgentEnforcement(c *gin.Context) {
	decision, err := s.enforcementSvc.Evaluate(c.Request.Context(), agentIDFromContext(c), s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": decision, "blocked": decision.Blocked()})
}

func (s *Server) GetAgentDashboard(c *gin.Context) {
	dashboard, err := s.dashboardSvc.AgentDashboard(c.Request.Context(), agentIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": dashboard})
}

func (s *Server) ListAgentPayments(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	attempts, err := s.paymentSvc.ListByAgent(c.Request.Context(), agentIDFromContext(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": attempts})
}
