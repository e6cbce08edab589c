package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PlatformFeePercent is the platform's cut of each successful execution.
const PlatformFeePercent = 10

// SplitGross floors the platform fee and derives the creator share by
// subtraction, so no fractional cent is ever lost to rounding.
func SplitGross(grossCents int64) (platformFee, creatorShare int64) {
	platformFee = grossCents * PlatformFeePercent / 100
	creatorShare = grossCents - platformFee
	return platformFee, creatorShare
}

// Earning accumulates creator revenue per agent.
// Invariant: TotalCents == PendingCents + PaidOutCents at all times.
type Earning struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	AgentID         snowflake.ID `gorm:"not null;uniqueIndex" json:"agent_id"`
	AccountID       snowflake.ID `gorm:"not null;index" json:"account_id"`
	TotalCents      int64        `gorm:"not null;default:0" json:"total_cents"`
	PendingCents    int64        `gorm:"not null;default:0" json:"pending_cents"`
	PaidOutCents    int64        `gorm:"not null;default:0" json:"paid_out_cents"`
	TotalExecutions int64        `gorm:"not null;default:0" json:"total_executions"`
	LastEarningAt   time.Time    `gorm:"not null" json:"last_earning_at"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Earning) TableName() string { return "earnings" }

type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusCompleted PayoutStatus = "completed"
	PayoutStatusFailed    PayoutStatus = "failed"
)

// Payout is a withdrawal request against pending earnings. Settlement is an
// external process; it reports back through Complete/Fail.
type Payout struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID   snowflake.ID `gorm:"not null;index" json:"account_id"`
	AgentID     snowflake.ID `gorm:"not null;index" json:"agent_id"`
	AmountCents int64        `gorm:"not null" json:"amount_cents"`
	Status      PayoutStatus `gorm:"type:text;not null;index" json:"status"`
	Description string       `gorm:"type:text;not null" json:"description"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
}

func (Payout) TableName() string { return "payouts" }
