package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusExpired   SessionStatus = "expired"
	SessionStatusFailed    SessionStatus = "failed"
)

// CheckoutSession tracks one credit top-up from creation at the provider to
// confirmation through its webhook. Completion is the only path that mints
// credits.
type CheckoutSession struct {
	ID                snowflake.ID   `gorm:"primaryKey" json:"id"`
	AccountID         snowflake.ID   `gorm:"not null;index" json:"account_id"`
	Provider          string         `gorm:"type:text;not null" json:"provider"`
	ProviderSessionID string         `gorm:"type:text;not null;uniqueIndex" json:"provider_session_id"`
	AmountCents       int64          `gorm:"not null" json:"amount_cents"`
	Status            SessionStatus  `gorm:"type:text;not null;index" json:"status"`
	CheckoutURL       string         `gorm:"type:text" json:"checkout_url,omitempty"`
	RawEvent          datatypes.JSON `json:"-"`
	CreatedAt         time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

func (CheckoutSession) TableName() string { return "checkout_sessions" }

const (
	EventTypeCheckoutCompleted = "checkout.completed"
	EventTypeCheckoutExpired   = "checkout.expired"
)

// TopUpEvent is a provider webhook event normalized to the fields the
// service acts on.
type TopUpEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderSessionID string
	Type              string
	AmountCents       int64
	OccurredAt        time.Time
	RawPayload        []byte
}
