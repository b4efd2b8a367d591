package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/tontine/internal/clock"
	"github.com/smallbiznis/tontine/internal/events"
	obligationdomain "github.com/smallbiznis/tontine/internal/obligation/domain"
	obscontext "github.com/smallbiznis/tontine/internal/observability/context"
	"github.com/smallbiznis/tontine/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tontine/internal/observability/metrics"
	"github.com/smallbiznis/tontine/internal/ratelimit"
	"github.com/smallbiznis/tontine/internal/schedule"
	subscriptiondomain "github.com/smallbiznis/tontine/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultLateLimit = 500

var errAggregateOverflow = errors.New("obligation aggregate exceeds subscription totals")

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock            clock.Clock
	repo             obligationdomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	locker           ratelimit.KeyLocker
	outbox           *events.Outbox
	dispatcher       events.Dispatcher
	metrics          *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Clock            clock.Clock
	Repo             obligationdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	Locker           ratelimit.KeyLocker
	Outbox           *events.Outbox
	Dispatcher       events.Dispatcher
	ObsMetrics       *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) obligationdomain.Service {
	dispatcher := p.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NopDispatcher{}
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("obligation.service"),

		clock:            p.Clock,
		repo:             p.Repo,
		subscriptionRepo: p.SubscriptionRepo,
		locker:           p.Locker,
		outbox:           p.Outbox,
		dispatcher:       dispatcher,
		metrics:          p.ObsMetrics,
	}
}

// Mark transitions the requested pending days to paid. Days that are already
// paid, written off, or unknown are reported as skipped.
func (s *Service) Mark(ctx context.Context, req obligationdomain.MarkRequest) (obligationdomain.MarkResult, error) {
	if req.SubscriptionID == 0 {
		return obligationdomain.MarkResult{}, subscriptiondomain.ErrInvalidSubscription
	}
	markedBy := strings.TrimSpace(req.MarkedBy)
	if markedBy == "" {
		return obligationdomain.MarkResult{}, obligationdomain.ErrInvalidMarker
	}
	days := lo.Uniq(req.DayNumbers)
	if len(days) == 0 || lo.SomeBy(days, func(d int) bool { return d <= 0 }) {
		return obligationdomain.MarkResult{}, obligationdomain.ErrInvalidDayNumbers
	}
	sort.Ints(days)

	var (
		result    obligationdomain.MarkResult
		pending   []events.Event
		completed bool
	)
	ctx = obscontext.WithSubscriptionID(ctx, req.SubscriptionID.String())
	err := s.withSubscriptionLock(ctx, req.SubscriptionID, req.AgentID, func(tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
		if !sub.IsOpen() {
			return subscriptiondomain.ErrSubscriptionNotActive
		}
		if days[len(days)-1] > sub.TotalDays {
			return obligationdomain.ErrInvalidDayNumbers
		}

		now := s.clock.Now()
		marked, err := s.repo.MarkPaid(ctx, tx, sub.ID, days, now, markedBy)
		if err != nil {
			return err
		}
		if len(marked) == 0 {
			return obligationdomain.ErrNoPendingObligations
		}

		wasCompleted := sub.Status == subscriptiondomain.SubscriptionStatusCompleted
		if err := s.recompute(ctx, tx, sub, now); err != nil {
			return err
		}

		pending = append(pending, s.outbox.New(events.ObligationMarked, events.AggregateSubscription, sub.ID, map[string]any{
			"subscription_id": sub.ID.String(),
			"agent_id":        sub.AgentID.String(),
			"client_id":       sub.ClientID.String(),
			"day_numbers":     marked,
			"marked_by":       markedBy,
			"paid_days":       sub.PaidDays,
			"paid_amount":     sub.PaidAmount,
		}, now))
		if !wasCompleted && sub.Status == subscriptiondomain.SubscriptionStatusCompleted {
			completed = true
			pending = append(pending, s.outbox.New(events.SubscriptionCompleted, events.AggregateSubscription, sub.ID, map[string]any{
				"subscription_id": sub.ID.String(),
				"agent_id":        sub.AgentID.String(),
				"client_id":       sub.ClientID.String(),
				"cycle":           sub.Cycle.String(),
				"total_amount":    sub.TotalAmount,
			}, now))
		}
		if err := s.outbox.Append(ctx, tx, pending...); err != nil {
			return err
		}

		result = obligationdomain.MarkResult{
			Marked:       marked,
			Skipped:      lo.Without(days, marked...),
			Subscription: *sub,
		}
		return nil
	})
	if err != nil {
		return obligationdomain.MarkResult{}, err
	}

	s.metrics.RecordObligationsMarked(ctx, len(result.Marked))
	if completed {
		s.metrics.RecordSubscriptionCompleted(ctx, result.Subscription.Cycle.String())
	}
	s.dispatcher.Dispatch(ctx, pending...)

	logger.WithContext(ctx, s.log).Info("obligations marked",
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.Ints("marked", result.Marked),
		zap.Ints("skipped", result.Skipped),
		zap.String("status", string(result.Subscription.Status)),
	)
	return result, nil
}

// Unmark reverts one paid obligation to pending. A completed subscription
// returns to active.
func (s *Service) Unmark(ctx context.Context, req obligationdomain.UnmarkRequest) (subscriptiondomain.Subscription, error) {
	if req.ObligationID == 0 {
		return subscriptiondomain.Subscription{}, obligationdomain.ErrInvalidObligation
	}
	obligation, err := s.repo.FindByID(ctx, s.db, req.ObligationID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if obligation == nil {
		return subscriptiondomain.Subscription{}, obligationdomain.ErrObligationNotFound
	}

	ctx = obscontext.WithSubscriptionID(ctx, obligation.SubscriptionID.String())
	var updated subscriptiondomain.Subscription
	err = s.withSubscriptionLock(ctx, obligation.SubscriptionID, req.AgentID, func(tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
		now := s.clock.Now()
		ok, err := s.repo.Unmark(ctx, tx, obligation.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return obligationdomain.ErrNotPaid
		}
		if err := s.recompute(ctx, tx, sub, now); err != nil {
			return err
		}
		updated = *sub
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	logger.WithContext(ctx, s.log).Info("obligation unmarked",
		zap.String("obligation_id", obligation.ID.String()),
		zap.String("subscription_id", obligation.SubscriptionID.String()),
		zap.Int("day_number", obligation.DayNumber),
		zap.String("by", req.By),
	)
	return updated, nil
}

// WriteOff records the explicit decision that a pending day will not be paid.
func (s *Service) WriteOff(ctx context.Context, req obligationdomain.WriteOffRequest) (obligationdomain.Obligation, error) {
	obligationID := req.ObligationID
	if obligationID == 0 {
		return obligationdomain.Obligation{}, obligationdomain.ErrInvalidObligation
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		return obligationdomain.Obligation{}, obligationdomain.ErrInvalidMarker
	}
	obligation, err := s.repo.FindByID(ctx, s.db, obligationID)
	if err != nil {
		return obligationdomain.Obligation{}, err
	}
	if obligation == nil {
		return obligationdomain.Obligation{}, obligationdomain.ErrObligationNotFound
	}

	ctx = obscontext.WithSubscriptionID(ctx, obligation.SubscriptionID.String())
	err = s.withSubscriptionLock(ctx, obligation.SubscriptionID, req.AgentID, func(tx *gorm.DB, _ *subscriptiondomain.Subscription) error {
		ok, err := s.repo.WriteOff(ctx, tx, obligation.ID, by, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return obligationdomain.ErrNotPending
		}
		return nil
	})
	if err != nil {
		return obligationdomain.Obligation{}, err
	}

	stored, err := s.repo.FindByID(ctx, s.db, obligationID)
	if err != nil {
		return obligationdomain.Obligation{}, err
	}
	if stored == nil {
		return obligationdomain.Obligation{}, obligationdomain.ErrObligationNotFound
	}
	logger.WithContext(ctx, s.log).Info("obligation written off",
		zap.String("obligation_id", obligationID.String()),
		zap.String("by", by),
	)
	return *stored, nil
}

func (s *Service) LateObligations(ctx context.Context, query obligationdomain.LateQuery) ([]obligationdomain.LateObligation, error) {
	asOf := query.AsOf
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLateLimit
	}

	rows, err := s.repo.ListLate(ctx, s.db, obligationdomain.LateFilter{
		Before:         schedule.Day(asOf),
		SubscriptionID: query.SubscriptionID,
		AgentID:        query.AgentID,
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}

	return lo.Map(rows, func(row obligationdomain.LateRow, _ int) obligationdomain.LateObligation {
		return obligationdomain.LateObligation{
			View:     obligationdomain.NewView(row.Obligation, asOf),
			AgentID:  row.AgentID,
			ClientID: row.ClientID,
		}
	}), nil
}

func (s *Service) ListBySubscription(ctx context.Context, subscriptionID, agentID snowflake.ID, asOf time.Time) ([]obligationdomain.View, error) {
	if subscriptionID == 0 {
		return nil, subscriptiondomain.ErrInvalidSubscription
	}
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	sub, err := s.subscriptionRepo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil || !ownedBy(sub, agentID) {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	obligations, err := s.repo.ListBySubscription(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	return lo.Map(obligations, func(o obligationdomain.Obligation, _ int) obligationdomain.View {
		return obligationdomain.NewView(o, asOf)
	}), nil
}

// withSubscriptionLock runs fn in a transaction holding both the keyed lock
// and the subscription row lock. A subscription owned by another agent is
// reported as not found.
func (s *Service) withSubscriptionLock(ctx context.Context, subscriptionID, agentID snowflake.ID, fn func(tx *gorm.DB, sub *subscriptiondomain.Subscription) error) error {
	release, err := s.locker.Acquire(ctx, subscriptionID.String())
	if err != nil {
		return err
	}
	defer release()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptionRepo.FindByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil || !ownedBy(sub, agentID) {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		return fn(tx, sub)
	})
}

func ownedBy(sub *subscriptiondomain.Subscription, agentID snowflake.ID) bool {
	return agentID == 0 || sub.AgentID == agentID
}

// recompute derives the aggregates from the full obligation set and writes
// them back, updating sub in place.
func (s *Service) recompute(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, now time.Time) error {
	agg, err := s.repo.Aggregate(ctx, tx, sub.ID)
	if err != nil {
		return err
	}
	if agg.PaidDays > sub.TotalDays || agg.PaidAmount > agg.TotalAmount {
		return errAggregateOverflow
	}

	status := sub.Status
	switch {
	case agg.PaidDays == sub.TotalDays:
		status = subscriptiondomain.SubscriptionStatusCompleted
	case sub.Status == subscriptiondomain.SubscriptionStatusCompleted:
		status = subscriptiondomain.SubscriptionStatusActive
	}

	if err := s.subscriptionRepo.UpdateAggregates(ctx, tx, sub.ID, agg.PaidDays, agg.PaidAmount, status, now); err != nil {
		return err
	}
	sub.PaidDays = agg.PaidDays
	sub.PaidAmount = agg.PaidAmount
	sub.Status = status
	sub.UpdatedAt = now
	return nil
}
