package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

type InitiateRequest struct {
	AgentID       snowflake.ID   `json:"agent_id" validate:"required"`
	Provider      string         `json:"provider" validate:"required"`
	Phone         string         `json:"phone" validate:"required"`
	Amount        int64          `json:"amount" validate:"gt=0"`
	CommissionIDs []snowflake.ID `json:"commission_ids" validate:"required,min=1"`
}

type WebhookResult struct {
	Attempt   *Attempt
	Settled   bool
	Duplicate bool
	Unknown   bool
}

type Service interface {
	Initiate(ctx context.Context, req InitiateRequest) (*Attempt, error)
	ApplyWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (WebhookResult, error)
	CheckStatus(ctx context.Context, transactionID string) (*Attempt, error)
	FlagStaleAttempts(ctx context.Context, olderThan time.Duration, limit int) ([]Attempt, error)
	ListByAgent(ctx context.Context, agentID snowflake.ID, limit int) ([]Attempt, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Attempt, error)
}

var (
	ErrInvalidRequest       = errors.New("invalid_payment_request")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrProviderNotFound     = errors.New("provider_not_found")
	ErrInvalidPhone         = errors.New("invalid_phone")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidCommissionSet = errors.New("invalid_commission_set")
	ErrProviderUnavailable  = errors.New("provider_unavailable")
	ErrAttemptNotFound      = errors.New("payment_attempt_not_found")
	ErrUnknownAttempt       = errors.New("unknown_payment_attempt")
	ErrDuplicateWebhook     = errors.New("duplicate_webhook")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrInvalidConfig        = errors.New("invalid_provider_config")
)
