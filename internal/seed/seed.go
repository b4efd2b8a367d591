package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	agentdomain "github.com/smallbiznis/tontine/internal/agent/domain"
	"github.com/smallbiznis/tontine/internal/config"
	"gorm.io/gorm"
)

const defaultAgentName = "Agent"

// EnsureBootstrapAgent seeds the first collecting agent so a fresh install
// can enroll clients. It is a no-op when the phone is already registered.
func EnsureBootstrapAgent(db *gorm.DB, cfg config.BootstrapConfig) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	phone := strings.TrimSpace(cfg.AgentPhone)
	if phone == "" {
		return errors.New("bootstrap agent phone is required")
	}
	name := strings.TrimSpace(cfg.AgentName)
	if name == "" {
		name = defaultAgentName
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := ensureAgentTx(ctx, tx, node, name, phone)
		return err
	})
}

func ensureAgentTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, name, phone string) (agentdomain.Agent, error) {
	var agent agentdomain.Agent
	err := tx.WithContext(ctx).Where("phone = ?", phone).First(&agent).Error
	if err == nil {
		return agent, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return agent, err
	}
	now := time.Now().UTC()
	agent = agentdomain.Agent{
		ID:        node.Generate(),
		Name:      name,
		Phone:     phone,
		Status:    agentdomain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&agent).Error; err != nil {
		return agent, err
	}
	return agent, nil
}
