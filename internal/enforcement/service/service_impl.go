package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	agentdomain "github.com/smallbiznis/tontine/internal/agent/domain"
	"github.com/smallbiznis/tontine/internal/clock"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	enforcementdomain "github.com/smallbiznis/tontine/internal/enforcement/domain"
	"github.com/smallbiznis/tontine/internal/events"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSweepLimit = 200

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock          clock.Clock
	repo           enforcementdomain.Repository
	agentRepo      agentdomain.Repository
	commissionRepo commissiondomain.Repository
	outbox         *events.Outbox
	dispatcher     events.Dispatcher
}

type ServiceParam struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Clock          clock.Clock
	Repo           enforcementdomain.Repository
	AgentRepo      agentdomain.Repository
	CommissionRepo commissiondomain.Repository
	Outbox         *events.Outbox
	Dispatcher     events.Dispatcher
}

func NewService(p ServiceParam) enforcementdomain.Service {
	dispatcher := p.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NopDispatcher{}
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("enforcement.service"),

		clock:          p.Clock,
		repo:           p.Repo,
		agentRepo:      p.AgentRepo,
		commissionRepo: p.CommissionRepo,
		outbox:         p.Outbox,
		dispatcher:     dispatcher,
	}
}

// Evaluate is read-only; request gates call it on every guarded action.
func (s *Service) Evaluate(ctx context.Context, agentID snowflake.ID, asOf time.Time) (enforcementdomain.Decision, error) {
	if agentID == 0 {
		return enforcementdomain.Decision{}, enforcementdomain.ErrInvalidAgent
	}
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}

	agent, err := s.agentRepo.FindByID(ctx, s.db, agentID)
	if err != nil {
		return enforcementdomain.Decision{}, err
	}
	if agent == nil {
		return enforcementdomain.Decision{}, agentdomain.ErrAgentNotFound
	}
	commissions, err := s.commissionRepo.ListByAgent(ctx, s.db, agentID)
	if err != nil {
		return enforcementdomain.Decision{}, err
	}

	decision := enforcementdomain.Decision{
		AgentID:     agentID,
		AgentStatus: agent.Status,
		ShouldBlock: enforcementdomain.ShouldBlock(commissions, asOf),
		EvaluatedAt: asOf,
	}
	for _, c := range commissions {
		if !c.IsOverdue(asOf) {
			continue
		}
		decision.OverdueCount++
		decision.OverdueAmount += c.Amount
		if decision.OldestDueDate == nil || c.DueDate.Before(*decision.OldestDueDate) {
			due := c.DueDate
			decision.OldestDueDate = &due
		}
	}
	return decision, nil
}

// Sweep applies the policy to stored agent status. Each transition is a
// compare-and-swap, so overlapping sweeps write at most once per agent.
func (s *Service) Sweep(ctx context.Context, asOf time.Time, limit int) (enforcementdomain.SweepResult, error) {
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}

	var result enforcementdomain.SweepResult
	toBlock, err := s.repo.ListAgentsToBlock(ctx, s.db, asOf, limit)
	if err != nil {
		return result, err
	}

	var errs []error
	for _, agentID := range toBlock {
		evt, ok, err := s.block(ctx, agentID, asOf)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			result.Blocked = append(result.Blocked, agentID)
			s.dispatcher.Dispatch(ctx, evt)
		}
	}

	toUnblock, err := s.repo.ListAgentsToUnblock(ctx, s.db, asOf, limit)
	if err != nil {
		return result, errors.Join(append(errs, err)...)
	}
	for _, agentID := range toUnblock {
		ok, err := s.agentRepo.CompareAndSetStatus(ctx, s.db, agentID, agentdomain.StatusBlocked, agentdomain.StatusActive, asOf)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			result.Unblocked = append(result.Unblocked, agentID)
			s.log.Info("agent unblocked", zap.String("agent_id", agentID.String()))
		}
	}

	return result, errors.Join(errs...)
}

func (s *Service) block(ctx context.Context, agentID snowflake.ID, asOf time.Time) (events.Event, bool, error) {
	var (
		evt     events.Event
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.agentRepo.CompareAndSetStatus(ctx, tx, agentID, agentdomain.StatusActive, agentdomain.StatusBlocked, asOf)
		if err != nil || !ok {
			return err
		}
		commissions, err := s.commissionRepo.ListByAgent(ctx, tx, agentID)
		if err != nil {
			return err
		}

		overdue := make([]string, 0, len(commissions))
		var amount int64
		for _, c := range commissions {
			if c.IsOverdue(asOf) {
				overdue = append(overdue, c.ID.String())
				amount += c.Amount
			}
		}
		evt = s.outbox.New(events.AgentBlockRecommended, events.AggregateAgent, agentID, map[string]any{
			"agent_id":       agentID.String(),
			"commission_ids": overdue,
			"overdue_amount": amount,
		}, asOf)
		if err := s.outbox.Append(ctx, tx, evt); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return events.Event{}, false, err
	}
	if changed {
		s.log.Warn("agent blocked for overdue commissions", zap.String("agent_id", agentID.String()))
	}
	return evt, changed, nil
}
