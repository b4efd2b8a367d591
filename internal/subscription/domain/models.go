// Package domain contains persistence models for savings subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tontine/internal/schedule"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCompleted SubscriptionStatus = "completed"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription is a client's commitment to a daily contribution over a
// fixed cycle. PaidDays and PaidAmount are aggregates recomputed by the
// obligation ledger; nothing else writes them.
type Subscription struct {
	ID          snowflake.ID       `json:"id" gorm:"primaryKey"`
	ClientID    snowflake.ID       `json:"client_id" gorm:"not null;index"`
	AgentID     snowflake.ID       `json:"agent_id" gorm:"not null;index:idx_subscriptions_agent_status"`
	Cycle       schedule.Cycle     `json:"cycle" gorm:"type:text;not null"`
	DailyAmount int64              `json:"daily_amount" gorm:"not null"`
	TotalDays   int                `json:"total_days" gorm:"not null"`
	TotalAmount int64              `json:"total_amount" gorm:"not null"`
	StartDate   time.Time          `json:"start_date" gorm:"not null"`
	EndDate     time.Time          `json:"end_date" gorm:"not null"`
	Status      SubscriptionStatus `json:"status" gorm:"type:text;not null;index:idx_subscriptions_agent_status"`
	PaidDays    int                `json:"paid_days" gorm:"not null;default:0"`
	PaidAmount  int64              `json:"paid_amount" gorm:"not null;default:0"`
	CreatedAt   time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time          `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// IsOpen reports whether obligations may still change state.
func (s Subscription) IsOpen() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusCompleted
}

// Progress is the read model served to agents.
type Progress struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	PaidDays       int          `json:"paid_days"`
	TotalDays      int          `json:"total_days"`
	PaidAmount     int64        `json:"paid_amount"`
	TotalAmount    int64        `json:"total_amount"`
	DaysPercent    float64      `json:"days_percent"`
	AmountPercent  float64      `json:"amount_percent"`
	DaysRemaining  int          `json:"days_remaining"`
	LateCount      int64        `json:"late_count"`
}
