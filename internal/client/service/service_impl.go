package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	clientdomain "github.com/smallbiznis/tontine/internal/client/domain"
	"github.com/smallbiznis/tontine/internal/clock"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	"github.com/smallbiznis/tontine/internal/config"
	"github.com/smallbiznis/tontine/internal/observability/logger"
	subscriptiondomain "github.com/smallbiznis/tontine/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID            *snowflake.Node
	clock            clock.Clock
	repo             clientdomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	commissionsvc    commissiondomain.Service
	rules            *config.RulesHolder
	validate         *validator.Validate
}

type ServiceParam struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Repo             clientdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	CommissionSvc    commissiondomain.Service
	Rules            *config.RulesHolder
}

func NewService(p ServiceParam) clientdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("client.service"),

		genID:            p.GenID,
		clock:            p.Clock,
		repo:             p.Repo,
		subscriptionRepo: p.SubscriptionRepo,
		commissionsvc:    p.CommissionSvc,
		rules:            p.Rules,
		validate:         validator.New(),
	}
}

// Create enrolls a client under the requesting agent and opens the agent's
// commission for it. Enrolling the same phone again returns the existing
// client and false.
func (s *Service) Create(ctx context.Context, req clientdomain.CreateRequest) (clientdomain.Client, bool, error) {
	if req.AgentID == 0 {
		return clientdomain.Client{}, false, clientdomain.ErrInvalidAgent
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.validate.Struct(req); err != nil {
		if req.Phone == "" {
			return clientdomain.Client{}, false, clientdomain.ErrInvalidPhone
		}
		return clientdomain.Client{}, false, clientdomain.ErrInvalidName
	}

	existing, err := s.repo.FindByPhone(ctx, s.db, req.Phone)
	if err != nil {
		return clientdomain.Client{}, false, err
	}
	if existing != nil {
		return s.existing(*existing, req.AgentID)
	}

	var (
		client  clientdomain.Client
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := s.repo.NextSequence(ctx, tx, clientdomain.ClientCodeSequence)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		client = clientdomain.Client{
			ID:        s.genID.Generate(),
			AgentID:   req.AgentID,
			Code:      fmt.Sprintf("CLT-%06d", seq),
			FullName:  req.FullName,
			Phone:     req.Phone,
			Status:    clientdomain.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		created, err = s.repo.Insert(ctx, tx, &client)
		if err != nil || !created {
			return err
		}
		_, _, err = s.commissionsvc.EnsureCommission(ctx, tx, commissiondomain.EnsureRequest{
			AgentID:  client.AgentID,
			ClientID: client.ID,
		})
		return err
	})
	if err != nil {
		return clientdomain.Client{}, false, err
	}
	if !created {
		// Lost a race on the phone number.
		winner, err := s.repo.FindByPhone(ctx, s.db, req.Phone)
		if err != nil {
			return clientdomain.Client{}, false, err
		}
		if winner == nil {
			return clientdomain.Client{}, false, clientdomain.ErrClientNotFound
		}
		return s.existing(*winner, req.AgentID)
	}

	logger.WithContext(ctx, s.log).Info("client enrolled",
		zap.String("client_id", client.ID.String()),
		zap.String("code", client.Code),
		zap.String("agent_id", client.AgentID.String()),
	)
	return client, true, nil
}

func (s *Service) existing(client clientdomain.Client, agentID snowflake.ID) (clientdomain.Client, bool, error) {
	if client.AgentID != agentID {
		return clientdomain.Client{}, false, clientdomain.ErrPhoneTaken
	}
	return client, false, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (clientdomain.Client, error) {
	if id == 0 {
		return clientdomain.Client{}, clientdomain.ErrInvalidClient
	}
	client, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return clientdomain.Client{}, err
	}
	if client == nil {
		return clientdomain.Client{}, clientdomain.ErrClientNotFound
	}
	return *client, nil
}

// AvailableLoan offers a share of everything the client has paid in.
func (s *Service) AvailableLoan(ctx context.Context, id snowflake.ID) (clientdomain.Loan, error) {
	client, err := s.GetByID(ctx, id)
	if err != nil {
		return clientdomain.Loan{}, err
	}
	paid, err := s.subscriptionRepo.SumPaidByClient(ctx, s.db, client.ID)
	if err != nil {
		return clientdomain.Loan{}, err
	}
	ratio := s.rules.Get().LoanRatioPercent
	return clientdomain.Loan{
		ClientID:     client.ID,
		PaidAmount:   paid,
		RatioPercent: ratio,
		Available:    paid * ratio / 100,
	}, nil
}
