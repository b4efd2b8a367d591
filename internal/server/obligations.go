package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	obligationdomain "github.com/smallbiznis/tontine/internal/obligation/domain"
)

type markObligationsRequest struct {
	DayNumbers []int `json:"day_numbers"`
}

func (s *Server) MarkObligations(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req markObligationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.obligationSvc.Mark(c.Request.Context(), obligationdomain.MarkRequest{
		SubscriptionID: id,
		AgentID:        agentIDFromContext(c),
		DayNumbers:     req.DayNumbers,
		MarkedBy:       agentIDFromContext(c).String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) UnmarkObligation(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.obligationSvc.Unmark(c.Request.Context(), obligationdomain.UnmarkRequest{
		ObligationID: id,
		AgentID:      agentIDFromContext(c),
		By:           agentIDFromContext(c).String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) WriteOffObligation(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	obligation, err := s.obligationSvc.WriteOff(c.Request.Context(), obligationdomain.WriteOffRequest{
		ObligationID: id,
		AgentID:      agentIDFromContext(c),
		By:           agentIDFromContext(c).String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": obligation})
}

func (s *Server) ListLateObligations(c *gin.Context) {
	var query struct {
		SubscriptionID string `form:"subscription_id"`
		AsOf           string `form:"as_of"`
		Limit          string `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	subscriptionID, err := parseOptionalSnowflakeID(query.SubscriptionID)
	if err != nil {
		AbortWithError(c, newValidationError("subscription_id", "invalid_subscription_id", "invalid subscription_id"))
		return
	}
	asOf, err := parseOptionalTime(query.AsOf)
	if err != nil {
		AbortWithError(c, newValidationError("as_of", "invalid_as_of", "invalid as_of"))
		return
	}
	limit, err := parseOptionalInt(query.Limit)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	req := obligationdomain.LateQuery{
		AsOf:           s.clock.Now(),
		SubscriptionID: subscriptionID,
		AgentID:        agentIDFromContext(c),
		Limit:          limit,
	}
	if asOf != nil {
		req.AsOf = *asOf
	}

	late, err := s.obligationSvc.LateObligations(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": late})
}
