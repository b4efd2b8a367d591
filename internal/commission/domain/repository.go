package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertIfAbsent reports false when a commission for the same
	// (agent, client) already exists.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, commission *Commission) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Commission, error)
	FindByAgentClient(ctx context.Context, db *gorm.DB, agentID, clientID snowflake.ID) (*Commission, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Commission, error)
	ListByAgent(ctx context.Context, db *gorm.DB, agentID snowflake.ID) ([]Commission, error)
	MarkPaid(ctx context.Context, db *gorm.DB, id, paymentID snowflake.ID, paidAt time.Time) (bool, error)
}
