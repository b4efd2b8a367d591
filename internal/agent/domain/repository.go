package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, agent *Agent) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Agent, error)
	FindByPhone(ctx context.Context, db *gorm.DB, phone string) (*Agent, error)
	// CompareAndSetStatus moves the agent from one status to another and
	// reports whether this call performed the transition.
	CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, at time.Time) (bool, error)
}
