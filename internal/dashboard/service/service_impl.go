package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/smallbiznis/tontine/internal/client/domain"
	"github.com/smallbiznis/tontine/internal/clock"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	dashboarddomain "github.com/smallbiznis/tontine/internal/dashboard/domain"
	enforcementdomain "github.com/smallbiznis/tontine/internal/enforcement/domain"
	obligationdomain "github.com/smallbiznis/tontine/internal/obligation/domain"
	"github.com/smallbiznis/tontine/internal/schedule"
	subscriptiondomain "github.com/smallbiznis/tontine/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock

	ClientRepo       clientdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	ObligationRepo   obligationdomain.Repository
	CommissionSvc    commissiondomain.Service
	EnforcementSvc   enforcementdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	clientRepo       clientdomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	obligationRepo   obligationdomain.Repository
	commissionSvc    commissiondomain.Service
	enforcementSvc   enforcementdomain.Service
}

func NewService(p Params) dashboarddomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("dashboard.service"),
		clock: p.Clock,

		clientRepo:       p.ClientRepo,
		subscriptionRepo: p.SubscriptionRepo,
		obligationRepo:   p.ObligationRepo,
		commissionSvc:    p.CommissionSvc,
		enforcementSvc:   p.EnforcementSvc,
	}
}

func (s *Service) AgentDashboard(ctx context.Context, agentID snowflake.ID) (dashboarddomain.AgentDashboard, error) {
	if agentID == 0 {
		return dashboarddomain.AgentDashboard{}, dashboarddomain.ErrInvalidAgent
	}
	now := s.clock.Now().UTC()

	// Evaluate first so an unknown agent surfaces as not found.
	decision, err := s.enforcementSvc.Evaluate(ctx, agentID, now)
	if err != nil {
		return dashboarddomain.AgentDashboard{}, err
	}

	clients, err := s.clientRepo.CountByAgent(ctx, s.db, agentID)
	if err != nil {
		return dashboarddomain.AgentDashboard{}, err
	}
	active, err := s.subscriptionRepo.CountByAgentAndStatus(ctx, s.db, agentID, subscriptiondomain.SubscriptionStatusActive)
	if err != nil {
		return dashboarddomain.AgentDashboard{}, err
	}

	today := schedule.Day(now)
	collected, err := s.obligationRepo.SumPaidBetween(ctx, s.db, agentID, today, today.Add(24*time.Hour))
	if err != nil {
		return dashboarddomain.AgentDashboard{}, err
	}
	late, err := s.obligationRepo.CountLate(ctx, s.db, obligationdomain.LateFilter{
		Before:     today,
		AgentID:    agentID,
		ActiveOnly: true,
	})
	if err != nil {
		return dashboarddomain.AgentDashboard{}, err
	}

	stats, err := s.commissionSvc.Stats(ctx, agentID, now)
	if err != nil {
		return dashboarddomain.AgentDashboard{}, err
	}

	return dashboarddomain.AgentDashboard{
		AgentID:             agentID,
		ClientCount:         clients,
		ActiveSubscriptions: active,
		CollectedToday:      collected,
		LateObligations:     late,
		Commissions:         stats,
		Enforcement:         decision,
		GeneratedAt:         now,
	}, nil
}
