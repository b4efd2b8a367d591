package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type LateFilter struct {
	Before         time.Time
	SubscriptionID snowflake.ID
	AgentID        snowflake.ID
	// ActiveOnly drops rows of subscriptions that are not active.
	ActiveOnly     bool
	Limit          int
}

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, obligations []Obligation) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Obligation, error)
	ListBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]Obligation, error)
	// MarkPaid moves the pending obligations among dayNumbers to paid and
	// returns the day numbers it transitioned.
	MarkPaid(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, dayNumbers []int, paidAt time.Time, markedBy string) ([]int, error)
	Unmark(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	WriteOff(ctx context.Context, db *gorm.DB, id snowflake.ID, by string, at time.Time) (bool, error)
	UpdatePendingAmounts(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, amount int64, at time.Time) (int64, error)
	Aggregate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (Aggregate, error)
	ListLate(ctx context.Context, db *gorm.DB, filter LateFilter) ([]LateRow, error)
	CountLate(ctx context.Context, db *gorm.DB, filter LateFilter) (int64, error)
	SumPaidBetween(ctx context.Context, db *gorm.DB, agentID snowflake.ID, from, to time.Time) (int64, error)
}
