package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, client *Client) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Client, error)
	FindByPhone(ctx context.Context, db *gorm.DB, phone string) (*Client, error)
	CountByAgent(ctx context.Context, db *gorm.DB, agentID snowflake.ID) (int64, error)
	// NextSequence increments and returns the named counter. It must run
	// inside a transaction.
	NextSequence(ctx context.Context, db *gorm.DB, name string) (int64, error)
}
