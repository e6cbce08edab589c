package domain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ExecuteRequest struct {
	AgentID   snowflake.ID    `json:"agent_id"`
	AccountID snowflake.ID    `json:"account_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ExecuteResponse struct {
	Execution *Execution      `json:"execution"`
	Response  json.RawMessage `json:"response,omitempty"`
}

type ListFilter struct {
	AccountID *snowflake.ID
	AgentID   *snowflake.ID
	Limit     int
}

type Service interface {
	// Execute runs the full billed workflow: resolve agent, check credits,
	// call the webhook, then debit and record. The webhook call happens
	// outside any database transaction.
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error)

	GetByID(ctx context.Context, id snowflake.ID) (*Execution, error)
	List(ctx context.Context, filter ListFilter) ([]Execution, error)
}

var (
	ErrNotFound            = errors.New("execution_not_found")
	ErrInsufficientCredits = errors.New("insufficient_credits")
)
