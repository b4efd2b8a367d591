package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, attempt *Attempt) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Attempt, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*Attempt, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, provider, externalID string) (*Attempt, error)
	ListByAgent(ctx context.Context, db *gorm.DB, agentID snowflake.ID, limit int) ([]Attempt, error)
	SetExternalID(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string, response datatypes.JSON, at time.Time) error
	SetInitiateError(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, at time.Time) error
	// Settle moves a pending attempt to a terminal status and reports whether
	// this call performed the transition.
	Settle(ctx context.Context, db *gorm.DB, id snowflake.ID, status AttemptStatus, reason *string, response datatypes.JSON, webhook bool, at time.Time) (bool, error)
	FlagStale(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int, at time.Time) ([]Attempt, error)
}
