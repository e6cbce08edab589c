package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Execution is one invocation of an agent's webhook on behalf of a caller.
// CreditsConsumed is zero unless Status is success; only successful calls
// are billed. BalanceBefore and BalanceAfter snapshot the caller's account
// around the usage debit.
type Execution struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	AgentID         snowflake.ID   `gorm:"not null;index" json:"agent_id"`
	AccountID       snowflake.ID   `gorm:"not null;index" json:"account_id"`
	CorrelationID   string         `gorm:"type:text;not null;uniqueIndex" json:"correlation_id"`
	Status          Status         `gorm:"type:text;not null;index" json:"status"`
	DurationMS      int64          `gorm:"not null;default:0" json:"duration_ms"`
	CreditsConsumed int64          `gorm:"not null;default:0" json:"credits_consumed"`
	BalanceBefore   *int64         `json:"balance_before,omitempty"`
	BalanceAfter    *int64         `json:"balance_after,omitempty"`
	RequestPayload  datatypes.JSON `json:"request_payload,omitempty"`
	ResponsePayload datatypes.JSON `json:"response_payload,omitempty"`
	ErrorDetail     string         `gorm:"type:text" json:"error_detail,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

func (Execution) TableName() string { return "executions" }
