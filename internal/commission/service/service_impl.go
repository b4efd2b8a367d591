package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tontine/internal/clock"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	"github.com/smallbiznis/tontine/internal/config"
	"github.com/smallbiznis/tontine/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  commissiondomain.Repository
	rules *config.RulesHolder
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  commissiondomain.Repository
	Rules *config.RulesHolder
}

func NewService(p ServiceParam) commissiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("commission.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		rules: p.Rules,
	}
}

// EnsureCommission creates the (agent, client) commission if it does not
// exist yet. Concurrent callers converge on a single row.
func (s *Service) EnsureCommission(ctx context.Context, tx *gorm.DB, req commissiondomain.EnsureRequest) (commissiondomain.Commission, bool, error) {
	if tx == nil {
		tx = s.db
	}
	if req.AgentID == 0 {
		return commissiondomain.Commission{}, false, commissiondomain.ErrInvalidAgent
	}
	if req.ClientID == 0 {
		return commissiondomain.Commission{}, false, commissiondomain.ErrInvalidClient
	}

	rules := s.rules.Get()
	amount := req.Amount
	if amount == 0 {
		amount = rules.CommissionAmount
	}
	if amount < 0 {
		return commissiondomain.Commission{}, false, commissiondomain.ErrInvalidAmount
	}
	graceDays := req.GraceDays
	if graceDays <= 0 {
		graceDays = rules.CommissionGraceDays
	}

	now := s.clock.Now()
	commission := commissiondomain.Commission{
		ID:             s.genID.Generate(),
		AgentID:        req.AgentID,
		ClientID:       req.ClientID,
		SubscriptionID: req.SubscriptionID,
		Amount:         amount,
		DueDate:        now.AddDate(0, 0, graceDays),
		Status:         commissiondomain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, err := s.repo.InsertIfAbsent(ctx, tx, &commission)
	if err != nil {
		return commissiondomain.Commission{}, false, err
	}
	if created {
		logger.WithContext(ctx, s.log).Info("commission created",
			zap.String("commission_id", commission.ID.String()),
			zap.String("agent_id", req.AgentID.String()),
			zap.String("client_id", req.ClientID.String()),
			zap.Time("due_date", commission.DueDate),
		)
		return commission, true, nil
	}

	existing, err := s.repo.FindByAgentClient(ctx, tx, req.AgentID, req.ClientID)
	if err != nil {
		return commissiondomain.Commission{}, false, err
	}
	if existing == nil {
		return commissiondomain.Commission{}, false, commissiondomain.ErrCommissionNotFound
	}
	return *existing, false, nil
}

func (s *Service) MarkPaid(ctx context.Context, tx *gorm.DB, commissionID, paymentID snowflake.ID, paidAt time.Time) error {
	if tx == nil {
		tx = s.db
	}
	ok, err := s.repo.MarkPaid(ctx, tx, commissionID, paymentID, paidAt.UTC())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	existing, err := s.repo.FindByID(ctx, tx, commissionID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == commissiondomain.StatusPaid {
		return commissiondomain.ErrAlreadyPaid
	}
	return commissiondomain.ErrCommissionNotFound
}

func (s *Service) ListByAgent(ctx context.Context, agentID snowflake.ID) ([]commissiondomain.Commission, error) {
	if agentID == 0 {
		return nil, commissiondomain.ErrInvalidAgent
	}
	return s.repo.ListByAgent(ctx, s.db, agentID)
}

func (s *Service) GetByIDs(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) ([]commissiondomain.Commission, error) {
	if tx == nil {
		tx = s.db
	}
	return s.repo.FindByIDs(ctx, tx, ids)
}

func (s *Service) Stats(ctx context.Context, agentID snowflake.ID, asOf time.Time) (commissiondomain.Stats, error) {
	commissions, err := s.ListByAgent(ctx, agentID)
	if err != nil {
		return commissiondomain.Stats{}, err
	}
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	return Summarize(commissions, asOf), nil
}

// Summarize folds commissions into per-status counts.
func Summarize(commissions []commissiondomain.Commission, asOf time.Time) commissiondomain.Stats {
	var stats commissiondomain.Stats
	for _, c := range commissions {
		stats.Total++
		switch c.Status {
		case commissiondomain.StatusPaid:
			stats.Paid++
		case commissiondomain.StatusPending:
			stats.Pending++
			stats.AmountDue += c.Amount
			if c.IsOverdue(asOf) {
				stats.Overdue++
			}
		}
	}
	return stats
}
