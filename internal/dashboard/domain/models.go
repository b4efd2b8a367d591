package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	enforcementdomain "github.com/smallbiznis/tontine/internal/enforcement/domain"
)

// AgentDashboard is the read-only daily summary shown to a collecting agent.
type AgentDashboard struct {
	AgentID             snowflake.ID               `json:"agent_id"`
	ClientCount         int64                      `json:"client_count"`
	ActiveSubscriptions int64                      `json:"active_subscriptions"`
	CollectedToday      int64                      `json:"collected_today"`
	LateObligations     int64                      `json:"late_obligations"`
	Commissions         commissiondomain.Stats     `json:"commissions"`
	Enforcement         enforcementdomain.Decision `json:"enforcement"`
	GeneratedAt         time.Time                  `json:"generated_at"`
}

type Service interface {
	AgentDashboard(ctx context.Context, agentID snowflake.ID) (AgentDashboard, error)
}

var ErrInvalidAgent = errors.New("invalid_agent")
