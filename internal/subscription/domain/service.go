package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateSubscriptionRequest struct {
	AgentID     snowflake.ID `json:"-"`
	ClientID    snowflake.ID `json:"client_id" validate:"required"`
	Cycle       string       `json:"cycle" validate:"required"`
	DailyAmount int64        `json:"daily_amount" validate:"required,gt=0"`
	StartDate   time.Time    `json:"start_date"`
}

type UpdateDailyAmountRequest struct {
	SubscriptionID snowflake.ID `json:"-"`
	AgentID        snowflake.ID `json:"-"`
	DailyAmount    int64        `json:"daily_amount" validate:"required,gt=0"`
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	GetByID(ctx context.Context, id snowflake.ID) (Subscription, error)
	ListByClient(ctx context.Context, clientID snowflake.ID) ([]Subscription, error)
	Progress(ctx context.Context, id snowflake.ID) (Progress, error)
	UpdateDailyAmount(ctx context.Context, req UpdateDailyAmountRequest) (Subscription, error)
}

var (
	ErrInvalidSubscription   = errors.New("invalid_subscription")
	ErrInvalidClient         = errors.New("invalid_client")
	ErrInvalidAgent          = errors.New("invalid_agent")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
	ErrClientAgentMismatch   = errors.New("client_agent_mismatch")
)
