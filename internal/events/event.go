// Package events models the domain events emitted by ledger transitions and
// persists them to the domain_events table inside the emitting transaction.
package events

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Type string

const (
	ObligationMarked      Type = "obligation_marked"
	SubscriptionCompleted Type = "subscription_completed"
	CommissionPaid        Type = "commission_paid"
	AgentBlockRecommended Type = "agent_block_recommended"
)

const (
	AggregateSubscription = "subscription"
	AggregateCommission   = "commission"
	AggregateAgent        = "agent"
)

type Event struct {
	ID            snowflake.ID   `json:"id"`
	Type          Type           `json:"type"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   snowflake.ID   `json:"aggregate_id"`
	Payload       map[string]any `json:"payload"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Dispatcher hands committed events to notification sinks. Implementations
// must not block the caller and must not report delivery failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, events ...Event)
}

type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, ...Event) {}
