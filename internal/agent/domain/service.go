package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type RegisterAgentRequest struct {
	OwnerAccountID *snowflake.ID `json:"owner_account_id,omitempty"`
	Name           string        `json:"name"`
	URL            string        `json:"url"`
	PriceCents     int64         `json:"price_cents"`
}

type UpdateAgentRequest struct {
	ID         snowflake.ID
	Name       *string `json:"name,omitempty"`
	URL        *string `json:"url,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

type ListAgentsFilter struct {
	OwnerAccountID *snowflake.ID
	ActiveOnly     bool
	Limit          int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, agent *Agent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Agent, error)
	Update(ctx context.Context, db *gorm.DB, agent *Agent) error
	List(ctx context.Context, db *gorm.DB, filter ListAgentsFilter) ([]Agent, error)
}

type Service interface {
	Register(ctx context.Context, req RegisterAgentRequest) (*Agent, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Agent, error)
	Update(ctx context.Context, req UpdateAgentRequest) (*Agent, error)
	List(ctx context.Context, filter ListAgentsFilter) ([]Agent, error)
}

var (
	ErrNotFound      = errors.New("agent_not_found")
	ErrInactive      = errors.New("agent_inactive")
	ErrInvalidName   = errors.New("invalid_agent_name")
	ErrInvalidURL    = errors.New("invalid_agent_url")
	ErrInvalidPrice  = errors.New("invalid_agent_price")
	ErrDuplicateSlug = errors.New("duplicate_agent_slug")
)
