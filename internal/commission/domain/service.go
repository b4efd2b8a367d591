package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type EnsureRequest struct {
	AgentID        snowflake.ID
	ClientID       snowflake.ID
	SubscriptionID *snowflake.ID
	// Amount and GraceDays fall back to the business rules when zero.
	Amount    int64
	GraceDays int
}

type Service interface {
	// EnsureCommission joins tx when given so the commission commits with
	// the caller's enrolment or subscription.
	EnsureCommission(ctx context.Context, tx *gorm.DB, req EnsureRequest) (Commission, bool, error)
	// MarkPaid settles a pending commission using the caller's transaction.
	MarkPaid(ctx context.Context, tx *gorm.DB, commissionID, paymentID snowflake.ID, paidAt time.Time) error
	ListByAgent(ctx context.Context, agentID snowflake.ID) ([]Commission, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) ([]Commission, error)
	Stats(ctx context.Context, agentID snowflake.ID, asOf time.Time) (Stats, error)
}

var (
	ErrInvalidAgent       = errors.New("invalid_agent")
	ErrInvalidClient      = errors.New("invalid_client")
	ErrInvalidAmount      = errors.New("invalid_commission_amount")
	ErrCommissionNotFound = errors.New("commission_not_found")
	ErrAlreadyPaid        = errors.New("commission_already_paid")
)
