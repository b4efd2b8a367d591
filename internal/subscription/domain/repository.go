package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	ListByClient(ctx context.Context, db *gorm.DB, clientID snowflake.ID) ([]Subscription, error)
	UpdateAggregates(ctx context.Context, db *gorm.DB, id snowflake.ID, paidDays int, paidAmount int64, status SubscriptionStatus, at time.Time) error
	UpdateDailyAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, dailyAmount, totalAmount int64, at time.Time) error
	CountByAgentAndStatus(ctx context.Context, db *gorm.DB, agentID snowflake.ID, status SubscriptionStatus) (int64, error)
	SumPaidByClient(ctx context.Context, db *gorm.DB, clientID snowflake.ID) (int64, error)
}
