package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type RecordEarningRequest struct {
	AgentID        snowflake.ID
	OwnerAccountID *snowflake.ID
	GrossCents     int64
	ExecutionID    snowflake.ID
}

type RequestPayoutRequest struct {
	AgentID     snowflake.ID `json:"agent_id"`
	AmountCents int64        `json:"amount_cents"`
	Description string       `json:"description"`
}

type Service interface {
	// RecordEarning splits the gross of one successful execution between
	// creator and platform. Unowned agents route the full gross to the
	// platform account.
	RecordEarning(ctx context.Context, req RecordEarningRequest) error

	GetByAgent(ctx context.Context, agentID snowflake.ID) (*Earning, error)
	ListByAccount(ctx context.Context, accountID snowflake.ID) ([]Earning, error)

	RequestPayout(ctx context.Context, req RequestPayoutRequest) (*Payout, error)
	GetPayout(ctx context.Context, id snowflake.ID) (*Payout, error)
	ListPayouts(ctx context.Context, accountID snowflake.ID, limit int) ([]Payout, error)
	CompletePayout(ctx context.Context, id snowflake.ID) (*Payout, error)
	FailPayout(ctx context.Context, id snowflake.ID, reason string) (*Payout, error)
}

var (
	ErrNotFound            = errors.New("earnings_not_found")
	ErrPayoutNotFound      = errors.New("payout_not_found")
	ErrInvalidAmount       = errors.New("invalid_payout_amount")
	ErrInsufficientPending = errors.New("insufficient_pending_earnings")
	ErrPayoutNotPending    = errors.New("payout_not_pending")
)
