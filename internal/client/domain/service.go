package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateRequest struct {
	AgentID  snowflake.ID `json:"-"`
	FullName string       `json:"full_name" validate:"required,max=160"`
	Phone    string       `json:"phone" validate:"required,max=32"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Client, bool, error)
	GetByID(ctx context.Context, id snowflake.ID) (Client, error)
	AvailableLoan(ctx context.Context, id snowflake.ID) (Loan, error)
}

var (
	ErrInvalidClient  = errors.New("invalid_client")
	ErrInvalidAgent   = errors.New("invalid_agent")
	ErrInvalidName    = errors.New("invalid_full_name")
	ErrInvalidPhone   = errors.New("invalid_phone")
	ErrClientNotFound = errors.New("client_not_found")
	ErrPhoneTaken     = errors.New("phone_taken")
)
