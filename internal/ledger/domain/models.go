package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type AccountKind string

const (
	AccountKindUser   AccountKind = "user"
	AccountKindSystem AccountKind = "system"
)

// Well-known system account codes.
const (
	AccountCodePlatform       = "platform"
	AccountCodeCreatorReserve = "creator_reserve"
)

// Account holds a cached credit balance in minor currency units. The cached
// balance is derived state: the ledger service is its single writer and it
// must always equal the sum of the account's ledger entries.
type Account struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Kind      AccountKind  `gorm:"type:text;not null;default:'user'" json:"kind"`
	Code      *string      `gorm:"type:text;uniqueIndex" json:"code,omitempty"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Balance   int64        `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

type EntryKind string

const (
	EntryKindPurchase EntryKind = "purchase"
	EntryKindUsage    EntryKind = "usage"
	EntryKindEarnings EntryKind = "earnings"
	EntryKindPayout   EntryKind = "payout"
	EntryKindBonus    EntryKind = "bonus"
)

func (k EntryKind) Valid() bool {
	switch k {
	case EntryKindPurchase, EntryKindUsage, EntryKindEarnings, EntryKindPayout, EntryKindBonus:
		return true
	default:
		return false
	}
}

// LedgerEntry is one immutable signed balance change.
// Invariant: BalanceAfter = BalanceBefore + Amount, and entries for one
// account chain their balances in creation order.
type LedgerEntry struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	AccountID     snowflake.ID  `gorm:"not null;index" json:"account_id"`
	Amount        int64         `gorm:"not null" json:"amount"`
	Kind          EntryKind     `gorm:"type:text;not null;index" json:"kind"`
	Description   string        `gorm:"type:text;not null" json:"description"`
	BalanceBefore int64         `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64         `gorm:"not null" json:"balance_after"`
	ReferenceID   *snowflake.ID `gorm:"index" json:"reference_id,omitempty"`
	CreatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// ReconcileResult compares the cached balance to the entry sum.
type ReconcileResult struct {
	AccountID  snowflake.ID `json:"account_id"`
	Stored     int64        `json:"stored"`
	Computed   int64        `json:"computed"`
	Delta      int64        `json:"delta"`
	Consistent bool         `json:"consistent"`
}
