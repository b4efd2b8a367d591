package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	agentdomain "github.com/smallbiznis/tontine/internal/agent/domain"
	"github.com/smallbiznis/tontine/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     agentdomain.Repository
	validate *validator.Validate
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  agentdomain.Repository
}

func NewService(p ServiceParam) agentdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("agent.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		validate: validator.New(),
	}
}

// Create registers an agent. A second call with the same phone returns the
// existing agent and false.
func (s *Service) Create(ctx context.Context, req agentdomain.CreateRequest) (agentdomain.Agent, bool, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.validate.Struct(req); err != nil {
		if req.Phone == "" {
			return agentdomain.Agent{}, false, agentdomain.ErrInvalidPhone
		}
		return agentdomain.Agent{}, false, agentdomain.ErrInvalidName
	}

	now := s.clock.Now()
	agent := agentdomain.Agent{
		ID:        s.genID.Generate(),
		Name:      req.Name,
		Phone:     req.Phone,
		Status:    agentdomain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.repo.Insert(ctx, s.db, &agent)
	if err != nil {
		return agentdomain.Agent{}, false, err
	}
	if created {
		s.log.Info("agent registered", zap.String("agent_id", agent.ID.String()))
		return agent, true, nil
	}

	existing, err := s.repo.FindByPhone(ctx, s.db, req.Phone)
	if err != nil {
		return agentdomain.Agent{}, false, err
	}
	if existing == nil {
		return agentdomain.Agent{}, false, agentdomain.ErrAgentNotFound
	}
	return *existing, false, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (agentdomain.Agent, error) {
	if id == 0 {
		return agentdomain.Agent{}, agentdomain.ErrInvalidAgent
	}
	agent, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return agentdomain.Agent{}, err
	}
	if agent == nil {
		return agentdomain.Agent{}, agentdomain.ErrAgentNotFound
	}
	return *agent, nil
}
