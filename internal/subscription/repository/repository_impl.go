package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/tontine/internal/subscription/domain"
	"github.com/smallbiznis/tontine/pkg/db"
	"gorm.io/gorm"
)

const selectColumns = `SELECT id, client_id, agent_id, cycle, daily_amount, total_days, total_amount,
	start_date, end_date, status, paid_days, paid_amount, created_at, updated_at
	FROM subscriptions`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, client_id, agent_id, cycle, daily_amount, total_days, total_amount,
			start_date, end_date, status, paid_days, paid_amount, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.ClientID,
		subscription.AgentID,
		subscription.Cycle,
		subscription.DailyAmount,
		subscription.TotalDays,
		subscription.TotalAmount,
		subscription.StartDate,
		subscription.EndDate,
		subscription.Status,
		subscription.PaidDays,
		subscription.PaidAmount,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := conn.WithContext(ctx).Raw(selectColumns+` WHERE id = ?`, id).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := conn.WithContext(ctx).Raw(selectColumns+` WHERE id = ?`+db.ForUpdate(conn), id).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) ListByClient(ctx context.Context, conn *gorm.DB, clientID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := conn.WithContext(ctx).Raw(
		selectColumns+` WHERE client_id = ? ORDER BY created_at ASC`,
		clientID,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) UpdateAggregates(ctx context.Context, conn *gorm.DB, id snowflake.ID, paidDays int, paidAmount int64, status subscriptiondomain.SubscriptionStatus, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET paid_days = ?, paid_amount = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		paidDays,
		paidAmount,
		status,
		at,
		id,
	).Error
}

func (r *repo) UpdateDailyAmount(ctx context.Context, conn *gorm.DB, id snowflake.ID, dailyAmount, totalAmount int64, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET daily_amount = ?, total_amount = ?, updated_at = ?
		 WHERE id = ?`,
		dailyAmount,
		totalAmount,
		at,
		id,
	).Error
}

func (r *repo) CountByAgentAndStatus(ctx context.Context, conn *gorm.DB, agentID snowflake.ID, status subscriptiondomain.SubscriptionStatus) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM subscriptions WHERE agent_id = ? AND status = ?`,
		agentID,
		status,
	).Scan(&count).Error
	return count, err
}

func (r *repo) SumPaidByClient(ctx context.Context, conn *gorm.DB, clientID snowflake.ID) (int64, error) {
	var total int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(paid_amount), 0) FROM subscriptions WHERE client_id = ?`,
		clientID,
	).Scan(&total).Error
	return total, err
}
