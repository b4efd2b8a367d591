package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/tontine/internal/subscription/domain"
)

// AgentID, when set, scopes a mutation to subscriptions the agent owns.
type MarkRequest struct {
	SubscriptionID snowflake.ID `json:"-"`
	AgentID        snowflake.ID `json:"-"`
	DayNumbers     []int        `json:"day_numbers" validate:"required,min=1,dive,gt=0"`
	MarkedBy       string       `json:"-"`
}

type MarkResult struct {
	Marked       []int                           `json:"marked"`
	Skipped      []int                           `json:"skipped"`
	Subscription subscriptiondomain.Subscription `json:"subscription"`
}

type UnmarkRequest struct {
	ObligationID snowflake.ID
	AgentID      snowflake.ID
	By           string
}

type WriteOffRequest struct {
	ObligationID snowflake.ID
	AgentID      snowflake.ID
	By           string
}

type LateQuery struct {
	AsOf           time.Time
	SubscriptionID snowflake.ID
	AgentID        snowflake.ID
	Limit          int
}

type LateObligation struct {
	View
	AgentID  snowflake.ID `json:"agent_id"`
	ClientID snowflake.ID `json:"client_id"`
}

type Service interface {
	Mark(ctx context.Context, req MarkRequest) (MarkResult, error)
	Unmark(ctx context.Context, req UnmarkRequest) (subscriptiondomain.Subscription, error)
	WriteOff(ctx context.Context, req WriteOffRequest) (Obligation, error)
	LateObligations(ctx context.Context, query LateQuery) ([]LateObligation, error)
	ListBySubscription(ctx context.Context, subscriptionID, agentID snowflake.ID, asOf time.Time) ([]View, error)
}

var (
	ErrInvalidObligation    = errors.New("invalid_obligation")
	ErrInvalidDayNumbers    = errors.New("invalid_day_numbers")
	ErrInvalidMarker        = errors.New("invalid_marked_by")
	ErrObligationNotFound   = errors.New("obligation_not_found")
	ErrNoPendingObligations = errors.New("no_pending_obligations")
	ErrNotPaid              = errors.New("obligation_not_paid")
	ErrNotPending           = errors.New("obligation_not_pending")
)
