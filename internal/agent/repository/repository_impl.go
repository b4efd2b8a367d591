package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	agentdomain "github.com/smallbiznis/tontine/internal/agent/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() agentdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, agent *agentdomain.Agent) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "phone"}}, DoNothing: true}).
		Create(agent)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*agentdomain.Agent, error) {
	var agent agentdomain.Agent
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, phone, status, blocked_at, created_at, updated_at
		 FROM agents WHERE id = ?`,
		id,
	).Scan(&agent).Error
	if err != nil {
		return nil, err
	}
	if agent.ID == 0 {
		return nil, nil
	}
	return &agent, nil
}

func (r *repo) FindByPhone(ctx context.Context, db *gorm.DB, phone string) (*agentdomain.Agent, error) {
	var agent agentdomain.Agent
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, phone, status, blocked_at, created_at, updated_at
		 FROM agents WHERE phone = ?`,
		phone,
	).Scan(&agent).Error
	if err != nil {
		return nil, err
	}
	if agent.ID == 0 {
		return nil, nil
	}
	return &agent, nil
}

func (r *repo) CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to agentdomain.Status, at time.Time) (bool, error) {
	var blockedAt *time.Time
	if to == agentdomain.StatusBlocked {
		blockedAt = &at
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE agents SET status = ?, blocked_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		blockedAt,
		at,
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
