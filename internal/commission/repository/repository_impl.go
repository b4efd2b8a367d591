package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const selectColumns = `SELECT id, agent_id, client_id, subscription_id, amount, due_date, status,
	paid_at, payment_attempt_id, created_at, updated_at
	FROM commissions`

type repo struct{}

func Provide() commissiondomain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, commission *commissiondomain.Commission) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agent_id"}, {Name: "client_id"}},
			DoNothing: true,
		}).
		Create(commission)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*commissiondomain.Commission, error) {
	var commission commissiondomain.Commission
	err := db.WithContext(ctx).Raw(selectColumns+` WHERE id = ?`, id).Scan(&commission).Error
	if err != nil {
		return nil, err
	}
	if commission.ID == 0 {
		return nil, nil
	}
	return &commission, nil
}

func (r *repo) FindByAgentClient(ctx context.Context, db *gorm.DB, agentID, clientID snowflake.ID) (*commissiondomain.Commission, error) {
	var commission commissiondomain.Commission
	err := db.WithContext(ctx).Raw(
		selectColumns+` WHERE agent_id = ? AND client_id = ?`,
		agentID,
		clientID,
	).Scan(&commission).Error
	if err != nil {
		return nil, err
	}
	if commission.ID == 0 {
		return nil, nil
	}
	return &commission, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]commissiondomain.Commission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var commissions []commissiondomain.Commission
	err := db.WithContext(ctx).Raw(
		selectColumns+` WHERE id IN ? ORDER BY id ASC`,
		ids,
	).Scan(&commissions).Error
	if err != nil {
		return nil, err
	}
	return commissions, nil
}

func (r *repo) ListByAgent(ctx context.Context, db *gorm.DB, agentID snowflake.ID) ([]commissiondomain.Commission, error) {
	var commissions []commissiondomain.Commission
	err := db.WithContext(ctx).Raw(
		selectColumns+` WHERE agent_id = ? ORDER BY due_date ASC, id ASC`,
		agentID,
	).Scan(&commissions).Error
	if err != nil {
		return nil, err
	}
	return commissions, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id, paymentID snowflake.ID, paidAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET status = ?, paid_at = ?, payment_attempt_id = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		commissiondomain.StatusPaid,
		paidAt,
		paymentID,
		paidAt,
		id,
		commissiondomain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
