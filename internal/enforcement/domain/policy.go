// Package domain holds the agent enforcement policy.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	agentdomain "github.com/smallbiznis/tontine/internal/agent/domain"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	"gorm.io/gorm"
)

// ShouldBlock is true iff any commission is overdue at asOf.
func ShouldBlock(commissions []commissiondomain.Commission, asOf time.Time) bool {
	for _, c := range commissions {
		if commissiondomain.IsOverdue(c, asOf) {
			return true
		}
	}
	return false
}

type Decision struct {
	AgentID       snowflake.ID       `json:"agent_id"`
	AgentStatus   agentdomain.Status `json:"agent_status"`
	ShouldBlock   bool               `json:"should_block"`
	OverdueCount  int                `json:"overdue_count"`
	OverdueAmount int64              `json:"overdue_amount"`
	OldestDueDate *time.Time         `json:"oldest_due_date,omitempty"`
	EvaluatedAt   time.Time          `json:"evaluated_at"`
}

// Blocked reports whether mutations must be refused, either because the
// sweep already blocked the agent or because the policy says it should.
func (d Decision) Blocked() bool {
	return d.AgentStatus == agentdomain.StatusBlocked || d.ShouldBlock
}

type SweepResult struct {
	Blocked   []snowflake.ID
	Unblocked []snowflake.ID
}

type Repository interface {
	ListAgentsToBlock(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]snowflake.ID, error)
	ListAgentsToUnblock(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]snowflake.ID, error)
}

type Service interface {
	Evaluate(ctx context.Context, agentID snowflake.ID, asOf time.Time) (Decision, error)
	Sweep(ctx context.Context, asOf time.Time, limit int) (SweepResult, error)
}

var ErrInvalidAgent = errors.New("invalid_agent")
