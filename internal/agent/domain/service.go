package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"required,max=32"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Agent, bool, error)
	GetByID(ctx context.Context, id snowflake.ID) (Agent, error)
}

var (
	ErrInvalidAgent  = errors.New("invalid_agent")
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidPhone  = errors.New("invalid_phone")
	ErrAgentNotFound = errors.New("agent_not_found")
	ErrAgentBlocked  = errors.New("agent_blocked")
)
