package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type initiatePaymentRequest struct {
	Provider      string   `json:"provider"`
	Phone         string   `json:"phone"`
	Amount        int64    `json:"amount"`
	CommissionIDs []string `json:"commission_ids"`
}

func (s *Server) InitiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ids := make([]snowflake.ID, 0, len(req.CommissionIDs))
	for _, raw := range req.CommissionIDs {
		id, err := parseOptionalSnowflakeID(raw)
		if err != nil || id == 0 {
			AbortWithError(c, newValidationError("commission_ids", "invalid_commission_ids", "invalid commission id"))
			return
		}
		ids = append(ids, id)
	}

	attempt, err := s.paymentSvc.Initiate(c.Request.Context(), paymentdomain.InitiateRequest{
		AgentID:       agentIDFromContext(c),
		Provider:      req.Provider,
		Phone:         req.Phone,
		Amount:        req.Amount,
		CommissionIDs: ids,
	})
	if err != nil {
		// The attempt is persisted even when the provider call fails, so
		// the caller gets its transaction id back.
		if attempt != nil && errors.Is(err, paymentdomain.ErrProviderUnavailable) {
			_ = c.Error(err)
			status, payload := mapError(err)
			c.JSON(status, gin.H{"data": attempt, "error": payload})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": attempt})
}

func (s *Server) GetPaymentStatus(c *gin.Context) {
	transactionID := strings.TrimSpace(c.Param("transaction_id"))
	if transactionID == "" {
		AbortWithError(c, newValidationError("transaction_id", "invalid_transaction_id", "invalid transaction_id"))
		return
	}

	ctx := c.Request.Context()
	owned, err := s.paymentSvc.GetByTransactionID(ctx, transactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if owned.AgentID != agentIDFromContext(c) {
		AbortWithError(c, paymentdomain.ErrAttemptNotFound)
		return
	}

	attempt, err := s.paymentSvc.CheckStatus(ctx, transactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": attempt})
}

// HandlePaymentWebhook acknowledges replays and unknown references with 200
// so providers stop redelivering them.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.paymentSvc.ApplyWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrDuplicateWebhook),
			errors.Is(err, commissiondomain.ErrAlreadyPaid):
			s.log.Debug("payment webhook replay ignored", zap.String("provider", provider), zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		case errors.Is(err, paymentdomain.ErrUnknownAttempt):
			s.log.Info("payment webhook for unknown attempt", zap.String("provider", provider))
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		AbortWithError(c, err)
		return
	}

	status := "ok"
	if !result.Settled {
		status = "ignored"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
