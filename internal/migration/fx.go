package migration

import (
	agentdomain "github.com/hooklane/hooklane/internal/agent/domain"
	"github.com/hooklane/hooklane/internal/config"
	earningsdomain "github.com/hooklane/hooklane/internal/earnings/domain"
	executiondomain "github.com/hooklane/hooklane/internal/execution/domain"
	ledgerdomain "github.com/hooklane/hooklane/internal/ledger/domain"
	paymentdomain "github.com/hooklane/hooklane/internal/payment/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Versioned SQL migrations target postgres; other dialects
			// fall back to the model schema.
			return conn.AutoMigrate(
				&ledgerdomain.Account{},
				&ledgerdomain.LedgerEntry{},
				&agentdomain.Agent{},
				&executiondomain.Execution{},
				&earningsdomain.Earning{},
				&earningsdomain.Payout{},
				&paymentdomain.CheckoutSession{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
