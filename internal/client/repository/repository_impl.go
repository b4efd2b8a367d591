package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/smallbiznis/tontine/internal/client/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() clientdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, client *clientdomain.Client) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "phone"}}, DoNothing: true}).
		Create(client)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*clientdomain.Client, error) {
	var client clientdomain.Client
	err := db.WithContext(ctx).Raw(
		`SELECT id, agent_id, code, full_name, phone, status, created_at, updated_at
		 FROM clients WHERE id = ?`,
		id,
	).Scan(&client).Error
	if err != nil {
		return nil, err
	}
	if client.ID == 0 {
		return nil, nil
	}
	return &client, nil
}

func (r *repo) FindByPhone(ctx context.Context, db *gorm.DB, phone string) (*clientdomain.Client, error) {
	var client clientdomain.Client
	err := db.WithContext(ctx).Raw(
		`SELECT id, agent_id, code, full_name, phone, status, created_at, updated_at
		 FROM clients WHERE phone = ?`,
		phone,
	).Scan(&client).Error
	if err != nil {
		return nil, err
	}
	if client.ID == 0 {
		return nil, nil
	}
	return &client, nil
}

func (r *repo) CountByAgent(ctx context.Context, db *gorm.DB, agentID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM clients WHERE agent_id = ?`,
		agentID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) NextSequence(ctx context.Context, db *gorm.DB, name string) (int64, error) {
	seed := clientdomain.Sequence{Name: name, Value: 0}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&seed).Error; err != nil {
		return 0, err
	}
	if err := db.WithContext(ctx).Exec(
		`UPDATE sequences SET value = value + 1 WHERE name = ?`,
		name,
	).Error; err != nil {
		return 0, err
	}

	var value int64
	err := db.WithContext(ctx).Raw(
		`SELECT value FROM sequences WHERE name = ?`,
		name,
	).Scan(&value).Error
	return value, err
}
