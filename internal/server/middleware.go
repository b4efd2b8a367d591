package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	agentdomain "github.com/smallbiznis/tontine/internal/agent/domain"
	obscontext "github.com/smallbiznis/tontine/internal/observability/context"
	"go.uber.org/zap"
)

const (
	HeaderAgentID     = "X-Agent-ID"
	contextAgentIDKey = "agent_id"
)

// AgentRequired resolves the calling agent from the X-Agent-ID header.
func (s *Server) AgentRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderAgentID))
		agentID, err := snowflake.ParseString(raw)
		if raw == "" || err != nil || agentID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithAgentID(c.Request.Context(), agentID.String())
		ctx = obscontext.WithActor(ctx, "agent", agentID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextAgentIDKey, agentID)
		c.Next()
	}
}

// AgentGate refuses mutations from agents that are blocked or would be
// blocked by the overdue commission policy. It never writes.
func (s *Server) AgentGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		agentID := agentIDFromContext(c)

		agent, err := s.agentSvc.GetByID(ctx, agentID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if agent.Status == agentdomain.StatusBlocked {
			AbortWithError(c, agentdomain.ErrAgentBlocked)
			return
		}

		decision, err := s.enforcementSvc.Evaluate(ctx, agentID, s.clock.Now())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if decision.Blocked() {
			s.log.Info("agent gate refused mutation",
				zap.String("agent_id", agentID.String()),
				zap.Int("overdue_count", decision.OverdueCount),
			)
			AbortWithError(c, agentdomain.ErrAgentBlocked)
			return
		}
		c.Next()
	}
}

// SameAgent restricts /agents/:id routes to the calling agent.
func (s *Server) SameAgent() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if id != agentIDFromContext(c) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func agentIDFromContext(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(contextAgentIDKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}
