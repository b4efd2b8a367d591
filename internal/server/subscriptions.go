package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/tontine/internal/subscription/domain"
)

type createSubscriptionRequest struct {
	ClientID    string `json:"client_id"`
	Cycle       string `json:"cycle"`
	DailyAmount int64  `json:"daily_amount"`
	StartDate   string `json:"start_date"`
}

type updateDailyAmountRequest struct {
	DailyAmount int64 `json:"daily_amount"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	clientID, err := parseOptionalSnowflakeID(req.ClientID)
	if err != nil || clientID == 0 {
		AbortWithError(c, newValidationError("client_id", "invalid_client_id", "invalid client_id"))
		return
	}
	start, err := parseOptionalTime(req.StartDate)
	if err != nil {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "invalid start_date"))
		return
	}
	var startDate time.Time
	if start != nil {
		startDate = *start
	}

	sub, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateSubscriptionRequest{
		AgentID:     agentIDFromContext(c),
		ClientID:    clientID,
		Cycle:       req.Cycle,
		DailyAmount: req.DailyAmount,
		StartDate:   startDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": sub})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.ownedSubscription(c, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) GetSubscriptionProgress(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if _, err := s.ownedSubscription(c, id); err != nil {
		AbortWithError(c, err)
		return
	}

	progress, err := s.subscriptionSvc.Progress(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": progress})
}

func (s *Server) UpdateDailyAmount(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req updateDailyAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.subscriptionSvc.UpdateDailyAmount(c.Request.Context(), subscriptiondomain.UpdateDailyAmountRequest{
		SubscriptionID: id,
		AgentID:        agentIDFromContext(c),
		DailyAmount:    req.DailyAmount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ListSubscriptionObligations(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views, err := s.obligationSvc.ListBySubscription(c.Request.Context(), id, agentIDFromContext(c), s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}

// ownedSubscription loads a subscription of the calling agent. Another
// agent's subscription is reported as not found.
func (s *Server) ownedSubscription(c *gin.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	sub, err := s.subscriptionSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub.AgentID != agentIDFromContext(c) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}
