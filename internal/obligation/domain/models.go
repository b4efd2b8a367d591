// Package domain contains the daily contribution obligations of a subscription.
package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tontine/internal/schedule"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	// StatusLate is derived for presentation and never stored.
	StatusLate   Status = "late"
	StatusMissed Status = "missed"
)

type Obligation struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	SubscriptionID snowflake.ID `json:"subscription_id" gorm:"not null;uniqueIndex:ux_obligations_subscription_day"`
	DayNumber      int          `json:"day_number" gorm:"not null;uniqueIndex:ux_obligations_subscription_day"`
	DueDate        time.Time    `json:"due_date" gorm:"not null;index:idx_obligations_status_due"`
	Amount         int64        `json:"amount" gorm:"not null"`
	Status         Status       `json:"status" gorm:"type:text;not null;index:idx_obligations_status_due"`
	PaidAt         *time.Time   `json:"paid_at,omitempty" gorm:"index"`
	MarkedBy       *string      `json:"marked_by,omitempty" gorm:"type:text"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"not null"`
}

func (Obligation) TableName() string { return "obligations" }

// IsLate reports whether the obligation is unpaid past the end of its due day.
// Written-off obligations are never late.
func (o Obligation) IsLate(asOf time.Time) bool {
	if o.Status != StatusPending {
		return false
	}
	return asOf.UTC().After(schedule.EndOfDay(o.DueDate))
}

// DaysLate counts started days since the end of the due day.
func (o Obligation) DaysLate(asOf time.Time) int {
	if !o.IsLate(asOf) {
		return 0
	}
	overdue := asOf.UTC().Sub(schedule.EndOfDay(o.DueDate))
	return int(math.Ceil(overdue.Hours() / 24))
}

// View decorates an obligation with lateness evaluated at a point in time.
type View struct {
	Obligation
	DisplayStatus Status `json:"display_status"`
	Late          bool   `json:"is_late"`
	DaysLate      int    `json:"days_late"`
}

func NewView(o Obligation, asOf time.Time) View {
	v := View{Obligation: o, DisplayStatus: o.Status}
	if o.IsLate(asOf) {
		v.Late = true
		v.DaysLate = o.DaysLate(asOf)
		v.DisplayStatus = StatusLate
	}
	return v
}

// Aggregate is the paid/total rollup of one subscription's obligations.
type Aggregate struct {
	TotalDays   int
	TotalAmount int64
	PaidDays    int
	PaidAmount  int64
}

// LateRow is a late obligation joined with its subscription owner.
type LateRow struct {
	Obligation
	AgentID  snowflake.ID `json:"agent_id"`
	ClientID snowflake.ID `json:"client_id"`
}
