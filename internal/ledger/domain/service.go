package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateAccountRequest struct {
	Name string      `json:"name"`
	Kind AccountKind `json:"kind"`
	Code *string     `json:"code,omitempty"`
}

type AppendEntryRequest struct {
	AccountID   snowflake.ID
	Amount      int64
	Kind        EntryKind
	Description string
	ReferenceID *snowflake.ID
}

type Service interface {
	CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error)
	GetAccount(ctx context.Context, id snowflake.ID) (*Account, error)
	GetAccountByCode(ctx context.Context, code string) (*Account, error)
	GetBalance(ctx context.Context, accountID snowflake.ID) (int64, error)

	// AppendEntry applies one balance change atomically: the cached balance
	// update and the entry insert commit together or not at all.
	AppendEntry(ctx context.Context, req AppendEntryRequest) (*LedgerEntry, error)
	// AppendEntryTx is AppendEntry inside a caller-owned transaction.
	AppendEntryTx(ctx context.Context, tx *gorm.DB, req AppendEntryRequest) (*LedgerEntry, error)

	ListEntries(ctx context.Context, accountID snowflake.ID, limit int) ([]LedgerEntry, error)

	// Reconcile is a pure read; it never mutates state.
	Reconcile(ctx context.Context, accountID snowflake.ID) (*ReconcileResult, error)
}

var (
	ErrAccountNotFound   = errors.New("account_not_found")
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidKind       = errors.New("invalid_entry_kind")
	ErrInvalidName       = errors.New("invalid_name")
	ErrDuplicateCode     = errors.New("duplicate_account_code")
)
