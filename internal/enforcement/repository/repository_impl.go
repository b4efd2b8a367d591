package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	agentdomain "github.com/smallbiznis/tontine/internal/agent/domain"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	enforcementdomain "github.com/smallbiznis/tontine/internal/enforcement/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() enforcementdomain.Repository {
	return &repo{}
}

func (r *repo) ListAgentsToBlock(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT a.id FROM agents a
		 WHERE a.status = ?
		 AND EXISTS (
			SELECT 1 FROM commissions c
			WHERE c.agent_id = a.id AND c.status = ? AND c.due_date < ?
		 )
		 ORDER BY a.id ASC
		 LIMIT ?`,
		agentdomain.StatusActive,
		commissiondomain.StatusPending,
		asOf,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListAgentsToUnblock(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT a.id FROM agents a
		 WHERE a.status = ?
		 AND NOT EXISTS (
			SELECT 1 FROM commissions c
			WHERE c.agent_id = a.id AND c.status = ? AND c.due_date < ?
		 )
		 ORDER BY a.id ASC
		 LIMIT ?`,
		agentdomain.StatusBlocked,
		commissiondomain.StatusPending,
		asOf,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
