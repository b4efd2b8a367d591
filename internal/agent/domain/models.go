// Package domain contains the collection agent model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the account state enforced on mutation routes.
type Status string

const (
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
)

type Agent struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Phone     string       `json:"phone" gorm:"type:text;not null;uniqueIndex:ux_agents_phone"`
	Status    Status       `json:"status" gorm:"type:text;not null;default:active;index"`
	BlockedAt *time.Time   `json:"blocked_at,omitempty"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Agent) TableName() string { return "agents" }

func (a Agent) IsBlocked() bool {
	return a.Status == StatusBlocked
}
