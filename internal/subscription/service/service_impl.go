package service

import (
	"context"
	"math"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	clientdomain "github.com/smallbiznis/tontine/internal/client/domain"
	"github.com/smallbiznis/tontine/internal/clock"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	"github.com/smallbiznis/tontine/internal/config"
	obligationdomain "github.com/smallbiznis/tontine/internal/obligation/domain"
	"github.com/smallbiznis/tontine/internal/observability/logger"
	"github.com/smallbiznis/tontine/internal/ratelimit"
	"github.com/smallbiznis/tontine/internal/schedule"
	subscriptiondomain "github.com/smallbiznis/tontine/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID          *snowflake.Node
	clock          clock.Clock
	repo           subscriptiondomain.Repository
	obligationRepo obligationdomain.Repository
	clientRepo     clientdomain.Repository
	commissionsvc  commissiondomain.Service
	locker         ratelimit.KeyLocker
	rules          *config.RulesHolder
	validate       *validator.Validate
}

type ServiceParam struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           subscriptiondomain.Repository
	ObligationRepo obligationdomain.Repository
	ClientRepo     clientdomain.Repository
	CommissionSvc  commissiondomain.Service
	Locker         ratelimit.KeyLocker
	Rules          *config.RulesHolder
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		obligationRepo: p.ObligationRepo,
		clientRepo:     p.ClientRepo,
		commissionsvc:  p.CommissionSvc,
		locker:         p.Locker,
		rules:          p.Rules,
		validate:       validator.New(),
	}
}

// Create opens a subscription with its full obligation schedule in one
// transaction, then makes sure the agent's commission for the client exists.
func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	if req.AgentID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidAgent
	}
	if req.ClientID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidClient
	}
	if err := s.validate.Struct(req); err != nil {
		if req.Cycle == "" {
			return subscriptiondomain.Subscription{}, schedule.ErrInvalidCycle
		}
		return subscriptiondomain.Subscription{}, schedule.ErrInvalidAmount
	}

	cycle, err := schedule.ParseCycle(req.Cycle)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	now := s.clock.Now()
	start := req.StartDate
	if start.IsZero() {
		start = now
	}
	entries, err := schedule.Generate(cycle, req.DailyAmount, start, s.rules.Get().MinDailyAmount)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	client, err := s.clientRepo.FindByID(ctx, s.db, req.ClientID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if client == nil {
		return subscriptiondomain.Subscription{}, clientdomain.ErrClientNotFound
	}
	if client.AgentID != req.AgentID {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrClientAgentMismatch
	}

	subscription := subscriptiondomain.Subscription{
		ID:          s.genID.Generate(),
		ClientID:    client.ID,
		AgentID:     client.AgentID,
		Cycle:       cycle,
		DailyAmount: req.DailyAmount,
		TotalDays:   len(entries),
		TotalAmount: schedule.Total(entries),
		StartDate:   schedule.Day(start),
		EndDate:     schedule.EndDate(start, len(entries)),
		Status:      subscriptiondomain.SubscriptionStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	obligations := lo.Map(entries, func(e schedule.Entry, _ int) obligationdomain.Obligation {
		return obligationdomain.Obligation{
			ID:             s.genID.Generate(),
			SubscriptionID: subscription.ID,
			DayNumber:      e.DayNumber,
			DueDate:        e.DueDate,
			Amount:         e.Amount,
			Status:         obligationdomain.StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	})

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &subscription); err != nil {
			return err
		}
		if err := s.obligationRepo.InsertBatch(ctx, tx, obligations); err != nil {
			return err
		}
		_, _, err := s.commissionsvc.EnsureCommission(ctx, tx, commissiondomain.EnsureRequest{
			AgentID:        subscription.AgentID,
			ClientID:       subscription.ClientID,
			SubscriptionID: &subscription.ID,
		})
		return err
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	logger.WithContext(ctx, s.log).Info("subscription created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("client_id", subscription.ClientID.String()),
		zap.String("cycle", cycle.String()),
		zap.Int64("total_amount", subscription.TotalAmount),
	)
	return subscription, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	if id == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidSubscription
	}
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if item == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *item, nil
}

func (s *Service) ListByClient(ctx context.Context, clientID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	if clientID == 0 {
		return nil, subscriptiondomain.ErrInvalidClient
	}
	return s.repo.ListByClient(ctx, s.db, clientID)
}

func (s *Service) Progress(ctx context.Context, id snowflake.ID) (subscriptiondomain.Progress, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return subscriptiondomain.Progress{}, err
	}

	lateCount, err := s.obligationRepo.CountLate(ctx, s.db, obligationdomain.LateFilter{
		Before:         schedule.Day(s.clock.Now()),
		SubscriptionID: sub.ID,
	})
	if err != nil {
		return subscriptiondomain.Progress{}, err
	}

	return subscriptiondomain.Progress{
		SubscriptionID: sub.ID,
		PaidDays:       sub.PaidDays,
		TotalDays:      sub.TotalDays,
		PaidAmount:     sub.PaidAmount,
		TotalAmount:    sub.TotalAmount,
		DaysPercent:    percent(int64(sub.PaidDays), int64(sub.TotalDays)),
		AmountPercent:  percent(sub.PaidAmount, sub.TotalAmount),
		DaysRemaining:  max(0, sub.TotalDays-sub.PaidDays),
		LateCount:      lateCount,
	}, nil
}

// UpdateDailyAmount rewrites the amount of every pending obligation. Paid
// obligations keep the amount they were settled at.
func (s *Service) UpdateDailyAmount(ctx context.Context, req subscriptiondomain.UpdateDailyAmountRequest) (subscriptiondomain.Subscription, error) {
	if req.SubscriptionID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidSubscription
	}
	if req.DailyAmount <= 0 || req.DailyAmount < s.rules.Get().MinDailyAmount {
		return subscriptiondomain.Subscription{}, schedule.ErrInvalidAmount
	}

	release, err := s.locker.Acquire(ctx, req.SubscriptionID.String())
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	defer release()

	var updated subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil || (req.AgentID != 0 && sub.AgentID != req.AgentID) {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if sub.Status != subscriptiondomain.SubscriptionStatusActive {
			return subscriptiondomain.ErrSubscriptionNotActive
		}

		now := s.clock.Now()
		if _, err := s.obligationRepo.UpdatePendingAmounts(ctx, tx, sub.ID, req.DailyAmount, now); err != nil {
			return err
		}
		agg, err := s.obligationRepo.Aggregate(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateDailyAmount(ctx, tx, sub.ID, req.DailyAmount, agg.TotalAmount, now); err != nil {
			return err
		}

		sub.DailyAmount = req.DailyAmount
		sub.TotalAmount = agg.TotalAmount
		sub.UpdatedAt = now
		updated = *sub
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	logger.WithContext(ctx, s.log).Info("subscription daily amount updated",
		zap.String("subscription_id", updated.ID.String()),
		zap.Int64("daily_amount", updated.DailyAmount),
		zap.Int64("total_amount", updated.TotalAmount),
	)
	return updated, nil
}

func percent(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}
