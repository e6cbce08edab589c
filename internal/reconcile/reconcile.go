package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hooklane/hooklane/internal/clock"
	"github.com/hooklane/hooklane/internal/config"
	earningsdomain "github.com/hooklane/hooklane/internal/earnings/domain"
	ledgerdomain "github.com/hooklane/hooklane/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound = errors.New("account_not_found")
	ErrEarningNotFound = errors.New("earnings_not_found")
)

// Finding is one detected inconsistency. Expected is the value derived from
// the authoritative records, Actual the cached value that drifted.
type Finding struct {
	EntityType string       `json:"entity_type"`
	EntityID   snowflake.ID `json:"entity_id"`
	Field      string       `json:"field"`
	Expected   int64        `json:"expected"`
	Actual     int64        `json:"actual"`
	Delta      int64        `json:"delta"`
	Detail     string       `json:"detail,omitempty"`
}

type Report struct {
	GeneratedAt       time.Time `json:"generated_at"`
	AccountsChecked   int       `json:"accounts_checked"`
	ExecutionsChecked int       `json:"executions_checked"`
	EarningsChecked   int       `json:"earnings_checked"`
	Findings          []Finding `json:"findings"`
}

func (r *Report) Consistent() bool { return len(r.Findings) == 0 }

type RepairResult struct {
	EntityType string       `json:"entity_type"`
	EntityID   snowflake.ID `json:"entity_id"`
	Before     int64        `json:"before"`
	After      int64        `json:"after"`
	Repaired   bool         `json:"repaired"`
}

// Service audits the derived values against the append-only records. Run is
// a pure read; repairs only happen through the explicit Repair methods.
type Service interface {
	Run(ctx context.Context) (*Report, error)
	RepairAccount(ctx context.Context, accountID snowflake.ID) (*RepairResult, error)
	RepairEarnings(ctx context.Context, agentID snowflake.ID) (*RepairResult, error)
}

type Params struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
}

type service struct {
	db             *gorm.DB
	log            *zap.Logger
	clock          clock.Clock
	webhookTimeout time.Duration
}

func NewService(p Params) Service {
	timeout := p.Config.WebhookTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &service{
		db:             p.DB,
		log:            p.Log.Named("reconcile.service"),
		clock:          p.Clock,
		webhookTimeout: timeout,
	}
}

type accountRow struct {
	ID       snowflake.ID
	Balance  int64
	Computed int64
}

type executionRow struct {
	ID              snowflake.ID
	CreditsConsumed int64
	BalanceBefore   int64
	BalanceAfter    int64
	Debited         int64
}

type earningRow struct {
	AgentID      snowflake.ID
	TotalCents   int64
	PendingCents int64
	PaidOutCents int64
	Computed     int64
}

func (s *service) Run(ctx context.Context) (*Report, error) {
	report := &Report{GeneratedAt: s.clock.Now()}

	if err := s.checkAccounts(ctx, report); err != nil {
		return nil, err
	}
	if err := s.checkExecutions(ctx, report); err != nil {
		return nil, err
	}
	if err := s.checkStalePending(ctx, report); err != nil {
		return nil, err
	}
	if err := s.checkEarnings(ctx, report); err != nil {
		return nil, err
	}

	if !report.Consistent() {
		s.log.Warn("reconciliation found drift", zap.Int("findings", len(report.Findings)))
	}
	return report, nil
}

// checkAccounts compares each cached balance with the sum of the account's
// ledger entries. The entries are authoritative.
func (s *service) checkAccounts(ctx context.Context, report *Report) error {
	var rows []accountRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT a.id, a.balance,
		        COALESCE((SELECT SUM(e.amount) FROM ledger_entries e WHERE e.account_id = a.id), 0) AS computed
		 FROM accounts a`,
	).Scan(&rows).Error
	if err != nil {
		return err
	}

	report.AccountsChecked = len(rows)
	for _, row := range rows {
		if row.Balance == row.Computed {
			continue
		}
		report.Findings = append(report.Findings, Finding{
			EntityType: "account",
			EntityID:   row.ID,
			Field:      "balance",
			Expected:   row.Computed,
			Actual:     row.Balance,
			Delta:      row.Balance - row.Computed,
			Detail:     "cached balance disagrees with entry sum",
		})
	}
	return nil
}

// checkExecutions verifies the snapshot arithmetic of billed executions and
// that each one has exactly its price debited as usage.
func (s *service) checkExecutions(ctx context.Context, report *Report) error {
	var rows []executionRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT x.id, x.credits_consumed, x.balance_before, x.balance_after,
		        COALESCE((SELECT SUM(-e.amount) FROM ledger_entries e
		                  WHERE e.reference_id = x.id AND e.kind = ?), 0) AS debited
		 FROM executions x
		 WHERE x.status = ?`,
		ledgerdomain.EntryKindUsage, "success",
	).Scan(&rows).Error
	if err != nil {
		return err
	}

	report.ExecutionsChecked = len(rows)
	for _, row := range rows {
		if snapshot := row.BalanceBefore - row.BalanceAfter; snapshot != row.CreditsConsumed {
			report.Findings = append(report.Findings, Finding{
				EntityType: "execution",
				EntityID:   row.ID,
				Field:      "balance_snapshot",
				Expected:   row.CreditsConsumed,
				Actual:     snapshot,
				Delta:      snapshot - row.CreditsConsumed,
				Detail:     "balance snapshots disagree with credits consumed",
			})
		}
		if row.Debited != row.CreditsConsumed {
			report.Findings = append(report.Findings, Finding{
				EntityType: "execution",
				EntityID:   row.ID,
				Field:      "usage_debit",
				Expected:   row.CreditsConsumed,
				Actual:     row.Debited,
				Delta:      row.Debited - row.CreditsConsumed,
				Detail:     "usage entries disagree with credits consumed",
			})
		}
	}
	return nil
}

// checkStalePending flags executions stuck in pending past the webhook
// deadline. A webhook call either settles or finishes unbilled, so a stale
// pending row means the process died between invoke and settlement.
func (s *service) checkStalePending(ctx context.Context, report *Report) error {
	cutoff := s.clock.Now().Add(-s.webhookTimeout)

	var rows []struct {
		ID        snowflake.ID
		CreatedAt time.Time
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, created_at FROM executions WHERE status = ? AND created_at < ?`,
		"pending", cutoff,
	).Scan(&rows).Error
	if err != nil {
		return err
	}

	deadline := int64(s.webhookTimeout.Seconds())
	for _, row := range rows {
		age := int64(s.clock.Now().Sub(row.CreatedAt).Seconds())
		report.Findings = append(report.Findings, Finding{
			EntityType: "execution",
			EntityID:   row.ID,
			Field:      "pending_age_seconds",
			Expected:   deadline,
			Actual:     age,
			Delta:      age - deadline,
			Detail:     "still pending past the webhook deadline",
		})
	}
	return nil
}

// checkEarnings verifies both the internal split invariant
// (total = pending + paid out) and the accumulator against the creator
// shares of the agent's billed executions. Zero tolerance on either.
func (s *service) checkEarnings(ctx context.Context, report *Report) error {
	var rows []earningRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT g.agent_id, g.total_cents, g.pending_cents, g.paid_out_cents,
		        COALESCE((SELECT SUM(x.credits_consumed - (x.credits_consumed * ? / 100))
		                  FROM executions x
		                  WHERE x.agent_id = g.agent_id AND x.status = ?), 0) AS computed
		 FROM earnings g`,
		earningsdomain.PlatformFeePercent, "success",
	).Scan(&rows).Error
	if err != nil {
		return err
	}

	report.EarningsChecked = len(rows)
	for _, row := range rows {
		if split := row.PendingCents + row.PaidOutCents; split != row.TotalCents {
			report.Findings = append(report.Findings, Finding{
				EntityType: "earning",
				EntityID:   row.AgentID,
				Field:      "split",
				Expected:   row.TotalCents,
				Actual:     split,
				Delta:      split - row.TotalCents,
				Detail:     "pending plus paid out disagrees with total",
			})
		}
		if row.TotalCents != row.Computed {
			report.Findings = append(report.Findings, Finding{
				EntityType: "earning",
				EntityID:   row.AgentID,
				Field:      "total_cents",
				Expected:   row.Computed,
				Actual:     row.TotalCents,
				Delta:      row.TotalCents - row.Computed,
				Detail:     "accumulated total disagrees with execution history",
			})
		}
	}
	return nil
}

// RepairAccount rewrites the cached balance from the entry sum.
func (s *service) RepairAccount(ctx context.Context, accountID snowflake.ID) (*RepairResult, error) {
	result := &RepairResult{EntityType: "account", EntityID: accountID}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row accountRow
		res := tx.WithContext(ctx).Raw(
			`SELECT a.id, a.balance,
			        COALESCE((SELECT SUM(e.amount) FROM ledger_entries e WHERE e.account_id = a.id), 0) AS computed
			 FROM accounts a WHERE a.id = ?`, accountID,
		).Scan(&row)
		if res.Error != nil {
			return res.Error
		}
		if row.ID == 0 {
			return ErrAccountNotFound
		}

		result.Before = row.Balance
		result.After = row.Computed
		if row.Balance == row.Computed {
			return nil
		}

		result.Repaired = true
		return tx.WithContext(ctx).Exec(
			`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
			row.Computed, s.clock.Now(), accountID,
		).Error
	})
	if err != nil {
		return nil, err
	}

	if result.Repaired {
		s.log.Info("account balance repaired",
			zap.String("account_id", accountID.String()),
			zap.Int64("before", result.Before),
			zap.Int64("after", result.After),
		)
	}
	return result, nil
}

// RepairEarnings recomputes the accumulator from execution history. Paid out
// cents are preserved; pending absorbs the correction.
func (s *service) RepairEarnings(ctx context.Context, agentID snowflake.ID) (*RepairResult, error) {
	result := &RepairResult{EntityType: "earning", EntityID: agentID}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row earningRow
		res := tx.WithContext(ctx).Raw(
			`SELECT g.agent_id, g.total_cents, g.pending_cents, g.paid_out_cents,
			        COALESCE((SELECT SUM(x.credits_consumed - (x.credits_consumed * ? / 100))
			                  FROM executions x
			                  WHERE x.agent_id = g.agent_id AND x.status = ?), 0) AS computed
			 FROM earnings g WHERE g.agent_id = ?`,
			earningsdomain.PlatformFeePercent, "success", agentID,
		).Scan(&row)
		if res.Error != nil {
			return res.Error
		}
		if row.AgentID == 0 {
			return ErrEarningNotFound
		}

		result.Before = row.TotalCents
		result.After = row.Computed
		consistent := row.TotalCents == row.Computed &&
			row.PendingCents+row.PaidOutCents == row.TotalCents
		if consistent {
			return nil
		}

		result.Repaired = true
		return tx.WithContext(ctx).Exec(
			`UPDATE earnings
			 SET total_cents = ?, pending_cents = ?, updated_at = ?
			 WHERE agent_id = ?`,
			row.Computed, row.Computed-row.PaidOutCents, s.clock.Now(), agentID,
		).Error
	})
	if err != nil {
		return nil, err
	}

	if result.Repaired {
		s.log.Info("earnings repaired",
			zap.String("agent_id", agentID.String()),
			zap.Int64("before", result.Before),
			zap.Int64("after", result.After),
		)
	}
	return result, nil
}
