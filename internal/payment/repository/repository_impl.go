package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tontine/internal/payment/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const attemptColumns = `id, transaction_id, agent_id, provider, amount, currency, phone, commission_ids,
	external_id, status, failure_reason, provider_response, initiate_error, webhook_received,
	flagged_at, processed_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, attempt *domain.Attempt) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_attempts (
			id, transaction_id, agent_id, provider, amount, currency, phone, commission_ids,
			external_id, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID,
		attempt.TransactionID,
		attempt.AgentID,
		attempt.Provider,
		attempt.Amount,
		attempt.Currency,
		attempt.Phone,
		attempt.CommissionIDs,
		attempt.ExternalID,
		attempt.Status,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Attempt, error) {
	return r.findOne(ctx, db, `SELECT `+attemptColumns+` FROM payment_attempts WHERE id = ? LIMIT 1`, id)
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*domain.Attempt, error) {
	return r.findOne(ctx, db, `SELECT `+attemptColumns+` FROM payment_attempts WHERE transaction_id = ? LIMIT 1`, transactionID)
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, provider, externalID string) (*domain.Attempt, error) {
	return r.findOne(ctx, db,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE provider = ? AND external_id = ? LIMIT 1`,
		provider, externalID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Attempt, error) {
	var item domain.Attempt
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByAgent(ctx context.Context, db *gorm.DB, agentID snowflake.ID, limit int) ([]domain.Attempt, error) {
	var items []domain.Attempt
	err := db.WithContext(ctx).Raw(
		`SELECT `+attemptColumns+`
		 FROM payment_attempts
		 WHERE agent_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		agentID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SetExternalID(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string, response datatypes.JSON, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_attempts
		 SET external_id = ?, provider_response = ?, initiate_error = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		externalID,
		response,
		at,
		id,
		domain.AttemptStatusPending,
	).Error
}

func (r *repo) SetInitiateError(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_attempts
		 SET initiate_error = ?, updated_at = ?
		 WHERE id = ?`,
		message,
		at,
		id,
	).Error
}

func (r *repo) Settle(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.AttemptStatus, reason *string, response datatypes.JSON, webhook bool, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_attempts
		 SET status = ?, failure_reason = ?, provider_response = ?,
			webhook_received = (webhook_received OR ?), processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		reason,
		response,
		webhook,
		at,
		at,
		id,
		domain.AttemptStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FlagStale(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int, at time.Time) ([]domain.Attempt, error) {
	var items []domain.Attempt
	err := db.WithContext(ctx).Raw(
		`SELECT `+attemptColumns+`
		 FROM payment_attempts
		 WHERE status = ? AND (external_id IS NULL OR initiate_error IS NOT NULL)
		   AND flagged_at IS NULL AND created_at < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.AttemptStatusPending,
		olderThan,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}

	flagged := items[:0]
	for _, item := range items {
		res := db.WithContext(ctx).Exec(
			`UPDATE payment_attempts
			 SET flagged_at = ?, updated_at = ?
			 WHERE id = ? AND flagged_at IS NULL`,
			at,
			at,
			item.ID,
		)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		item.FlaggedAt = &at
		flagged = append(flagged, item)
	}
	return flagged, nil
}
