// Package domain contains the end clients enrolled by agents.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

const ClientCodeSequence = "client_code"

type Client struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	AgentID   snowflake.ID `json:"agent_id" gorm:"not null;index"`
	Code      string       `json:"code" gorm:"type:text;not null;uniqueIndex:ux_clients_code"`
	FullName  string       `json:"full_name" gorm:"type:text;not null"`
	Phone     string       `json:"phone" gorm:"type:text;not null;uniqueIndex:ux_clients_phone"`
	Status    Status       `json:"status" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Client) TableName() string { return "clients" }

// Sequence is a named monotonically increasing counter.
type Sequence struct {
	Name  string `gorm:"primaryKey;type:text"`
	Value int64  `gorm:"not null;default:0"`
}

func (Sequence) TableName() string { return "sequences" }

// Loan is the advance a client may request against their savings.
type Loan struct {
	ClientID     snowflake.ID `json:"client_id"`
	PaidAmount   int64        `json:"paid_amount"`
	RatioPercent int64        `json:"ratio_percent"`
	Available    int64        `json:"available"`
}
