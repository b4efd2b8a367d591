// Package domain contains the commissions agents owe the platform.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

// Commission is the fee an agent owes for one enrolled client. There is at
// most one per (agent, client).
type Commission struct {
	ID               snowflake.ID  `json:"id" gorm:"primaryKey"`
	AgentID          snowflake.ID  `json:"agent_id" gorm:"not null;uniqueIndex:ux_commissions_agent_client"`
	ClientID         snowflake.ID  `json:"client_id" gorm:"not null;uniqueIndex:ux_commissions_agent_client"`
	SubscriptionID   *snowflake.ID `json:"subscription_id,omitempty"`
	Amount           int64         `json:"amount" gorm:"not null"`
	DueDate          time.Time     `json:"due_date" gorm:"not null;index:idx_commissions_status_due"`
	Status           Status        `json:"status" gorm:"type:text;not null;index:idx_commissions_status_due"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	PaymentAttemptID *snowflake.ID `json:"payment_attempt_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time     `json:"updated_at" gorm:"not null"`
}

func (Commission) TableName() string { return "commissions" }

// IsOverdue reports whether c is unpaid strictly after its due date.
func IsOverdue(c Commission, asOf time.Time) bool {
	return c.Status == StatusPending && asOf.After(c.DueDate)
}

func (c Commission) IsOverdue(asOf time.Time) bool {
	return IsOverdue(c, asOf)
}

type Stats struct {
	Total     int64 `json:"total"`
	Paid      int64 `json:"paid"`
	Pending   int64 `json:"pending"`
	Overdue   int64 `json:"overdue"`
	AmountDue int64 `json:"amount_due"`
}
