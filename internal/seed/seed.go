package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/hooklane/hooklane/internal/ledger/domain"
	"gorm.io/gorm"
)

// EnsureSystemAccounts creates the platform and creator reserve accounts if
// they are missing. Every earnings credit lands in one of them, so they must
// exist before the first execution is billed.
func EnsureSystemAccounts(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureAccount(ctx, tx, node, ledgerdomain.AccountCodePlatform, "Platform"); err != nil {
			return err
		}
		return ensureAccount(ctx, tx, node, ledgerdomain.AccountCodeCreatorReserve, "Creator Reserve")
	})
}

func ensureAccount(ctx context.Context, tx *gorm.DB, node *snowflake.Node, code, name string) error {
	var existing ledgerdomain.Account
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM accounts WHERE code = ?`, code,
	).Scan(&existing).Error
	if err != nil {
		return err
	}
	if existing.ID != 0 {
		return nil
	}

	now := time.Now().UTC()
	account := &ledgerdomain.Account{
		ID:        node.Generate(),
		Kind:      ledgerdomain.AccountKindSystem,
		Code:      &code,
		Name:      name,
		Balance:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return tx.WithContext(ctx).Create(account).Error
}
