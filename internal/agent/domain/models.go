package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Agent is a registered external webhook treated as a billable, executable
// unit. PriceCents of 0 means the platform default applies.
type Agent struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	OwnerAccountID *snowflake.ID `gorm:"index" json:"owner_account_id,omitempty"`
	Name           string        `gorm:"type:text;not null" json:"name"`
	Slug           string        `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	URL            string        `gorm:"type:text;not null" json:"url"`
	PriceCents     int64         `gorm:"not null;default:0" json:"price_cents"`
	Active         bool          `gorm:"not null;default:true" json:"active"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Agent) TableName() string { return "agents" }

// Price resolves the effective per-execution price.
func (a Agent) Price(defaultCents int64) int64 {
	if a.PriceCents > 0 {
		return a.PriceCents
	}
	return defaultCents
}
