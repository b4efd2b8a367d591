package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	obligationdomain "github.com/smallbiznis/tontine/internal/obligation/domain"
	"gorm.io/gorm"
)

const insertBatchSize = 200

type repo struct{}

func Provide() obligationdomain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, obligations []obligationdomain.Obligation) error {
	if len(obligations) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(&obligations, insertBatchSize).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*obligationdomain.Obligation, error) {
	var obligation obligationdomain.Obligation
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, day_number, due_date, amount, status, paid_at, marked_by, created_at, updated_at
		 FROM obligations WHERE id = ?`,
		id,
	).Scan(&obligation).Error
	if err != nil {
		return nil, err
	}
	if obligation.ID == 0 {
		return nil, nil
	}
	return &obligation, nil
}

func (r *repo) ListBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]obligationdomain.Obligation, error) {
	var obligations []obligationdomain.Obligation
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, day_number, due_date, amount, status, paid_at, marked_by, created_at, updated_at
		 FROM obligations WHERE subscription_id = ?
		 ORDER BY day_number ASC`,
		subscriptionID,
	).Scan(&obligations).Error
	if err != nil {
		return nil, err
	}
	return obligations, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, dayNumbers []int, paidAt time.Time, markedBy string) ([]int, error) {
	if len(dayNumbers) == 0 {
		return nil, nil
	}

	var pending []int
	if err := db.WithContext(ctx).Raw(
		`SELECT day_number FROM obligations
		 WHERE subscription_id = ? AND day_number IN ? AND status = ?
		 ORDER BY day_number ASC`,
		subscriptionID,
		dayNumbers,
		obligationdomain.StatusPending,
	).Scan(&pending).Error; err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	if err := db.WithContext(ctx).Exec(
		`UPDATE obligations
		 SET status = ?, paid_at = ?, marked_by = ?, updated_at = ?
		 WHERE subscription_id = ? AND day_number IN ? AND status = ?`,
		obligationdomain.StatusPaid,
		paidAt,
		markedBy,
		paidAt,
		subscriptionID,
		pending,
		obligationdomain.StatusPending,
	).Error; err != nil {
		return nil, err
	}
	return pending, nil
}

func (r *repo) Unmark(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE obligations
		 SET status = ?, paid_at = NULL, marked_by = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		obligationdomain.StatusPending,
		at,
		id,
		obligationdomain.StatusPaid,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) WriteOff(ctx context.Context, db *gorm.DB, id snowflake.ID, by string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE obligations
		 SET status = ?, marked_by = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		obligationdomain.StatusMissed,
		by,
		at,
		id,
		obligationdomain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdatePendingAmounts(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, amount int64, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE obligations SET amount = ?, updated_at = ?
		 WHERE subscription_id = ? AND status = ?`,
		amount,
		at,
		subscriptionID,
		obligationdomain.StatusPending,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) Aggregate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (obligationdomain.Aggregate, error) {
	var agg obligationdomain.Aggregate
	err := db.WithContext(ctx).Raw(
		`SELECT
			COUNT(1) AS total_days,
			COALESCE(SUM(amount), 0) AS total_amount,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS paid_days,
			COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS paid_amount
		 FROM obligations WHERE subscription_id = ?`,
		obligationdomain.StatusPaid,
		obligationdomain.StatusPaid,
		subscriptionID,
	).Scan(&agg).Error
	return agg, err
}

func lateWhere(filter obligationdomain.LateFilter) (string, []any) {
	clauses := []string{"o.status = ?", "o.due_date < ?"}
	args := []any{obligationdomain.StatusPending, filter.Before}
	if filter.ActiveOnly {
		clauses = append(clauses, "s.status = ?")
		args = append(args, "active")
	}
	if filter.SubscriptionID != 0 {
		clauses = append(clauses, "o.subscription_id = ?")
		args = append(args, filter.SubscriptionID)
	}
	if filter.AgentID != 0 {
		clauses = append(clauses, "s.agent_id = ?")
		args = append(args, filter.AgentID)
	}
	return strings.Join(clauses, " AND "), args
}

func (r *repo) ListLate(ctx context.Context, db *gorm.DB, filter obligationdomain.LateFilter) ([]obligationdomain.LateRow, error) {
	where, args := lateWhere(filter)
	query := `SELECT o.id, o.subscription_id, o.day_number, o.due_date, o.amount, o.status,
		o.paid_at, o.marked_by, o.created_at, o.updated_at, s.agent_id, s.client_id
		FROM obligations o
		JOIN subscriptions s ON s.id = o.subscription_id
		WHERE ` + where + `
		ORDER BY o.due_date ASC, o.subscription_id ASC, o.day_number ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []obligationdomain.LateRow
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) CountLate(ctx context.Context, db *gorm.DB, filter obligationdomain.LateFilter) (int64, error) {
	where, args := lateWhere(filter)
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM obligations o
		 JOIN subscriptions s ON s.id = o.subscription_id
		 WHERE `+where,
		args...,
	).Scan(&count).Error
	return count, err
}

func (r *repo) SumPaidBetween(ctx context.Context, db *gorm.DB, agentID snowflake.ID, from, to time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(o.amount), 0) FROM obligations o
		 JOIN subscriptions s ON s.id = o.subscription_id
		 WHERE s.agent_id = ? AND o.status = ? AND o.paid_at >= ? AND o.paid_at < ?`,
		agentID,
		obligationdomain.StatusPaid,
		from,
		to,
	).Scan(&total).Error
	return total, err
}
