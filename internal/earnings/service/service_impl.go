package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/hooklane/hooklane/internal/clock"
	"github.com/hooklane/hooklane/internal/earnings/domain"
	ledgerdomain "github.com/hooklane/hooklane/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	LedgerSvc ledgerdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	ledgerSvc ledgerdomain.Service

	mu       sync.Mutex
	accounts map[string]snowflake.ID
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("earnings.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		ledgerSvc: p.LedgerSvc,
		accounts:  map[string]snowflake.ID{},
	}
}

func (s *Service) systemAccountID(ctx context.Context, code string) (snowflake.ID, error) {
	s.mu.Lock()
	id, ok := s.accounts[code]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	account, err := s.ledgerSvc.GetAccountByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("resolve system account %s: %w", code, err)
	}

	s.mu.Lock()
	s.accounts[code] = account.ID
	s.mu.Unlock()
	return account.ID, nil
}

// RecordEarning runs after the caller's usage debit has committed. The fee is
// credited to the platform account and the creator share to the creator
// reserve account, so the sum of all account balances is unchanged by an
// execution. The per-agent accumulator is bumped with atomic SQL increments.
func (s *Service) RecordEarning(ctx context.Context, req domain.RecordEarningRequest) error {
	if req.GrossCents <= 0 {
		return domain.ErrInvalidAmount
	}

	platformID, err := s.systemAccountID(ctx, ledgerdomain.AccountCodePlatform)
	if err != nil {
		return err
	}

	executionID := req.ExecutionID
	if req.OwnerAccountID == nil {
		// Platform-only sink for unowned agents.
		_, err := s.ledgerSvc.AppendEntry(ctx, ledgerdomain.AppendEntryRequest{
			AccountID:   platformID,
			Amount:      req.GrossCents,
			Kind:        ledgerdomain.EntryKindEarnings,
			Description: "execution revenue (unowned agent)",
			ReferenceID: &executionID,
		})
		return err
	}

	reserveID, err := s.systemAccountID(ctx, ledgerdomain.AccountCodeCreatorReserve)
	if err != nil {
		return err
	}

	fee, share := domain.SplitGross(req.GrossCents)
	now := s.clock.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if fee > 0 {
			if _, err := s.ledgerSvc.AppendEntryTx(ctx, tx, ledgerdomain.AppendEntryRequest{
				AccountID:   platformID,
				Amount:      fee,
				Kind:        ledgerdomain.EntryKindEarnings,
				Description: "platform fee",
				ReferenceID: &executionID,
			}); err != nil {
				return err
			}
		}
		if _, err := s.ledgerSvc.AppendEntryTx(ctx, tx, ledgerdomain.AppendEntryRequest{
			AccountID:   reserveID,
			Amount:      share,
			Kind:        ledgerdomain.EntryKindEarnings,
			Description: "creator share",
			ReferenceID: &executionID,
		}); err != nil {
			return err
		}

		return tx.WithContext(ctx).Exec(
			`INSERT INTO earnings (
				id, agent_id, account_id, total_cents, pending_cents, paid_out_cents,
				total_executions, last_earning_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, 0, 1, ?, ?, ?)
			ON CONFLICT (agent_id) DO UPDATE SET
				total_cents = earnings.total_cents + excluded.total_cents,
				pending_cents = earnings.pending_cents + excluded.pending_cents,
				total_executions = earnings.total_executions + 1,
				last_earning_at = excluded.last_earning_at,
				updated_at = excluded.updated_at`,
			s.genID.Generate(), req.AgentID, *req.OwnerAccountID,
			share, share, now, now, now,
		).Error
	})
}

func (s *Service) GetByAgent(ctx context.Context, agentID snowflake.ID) (*domain.Earning, error) {
	var earning domain.Earning
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, agent_id, account_id, total_cents, pending_cents, paid_out_cents,
		        total_executions, last_earning_at, created_at, updated_at
		 FROM earnings WHERE agent_id = ?`, agentID,
	).Scan(&earning).Error
	if err != nil {
		return nil, err
	}
	if earning.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &earning, nil
}

func (s *Service) ListByAccount(ctx context.Context, accountID snowflake.ID) ([]domain.Earning, error) {
	var earnings []domain.Earning
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("last_earning_at desc").
		Find(&earnings).Error
	if err != nil {
		return nil, err
	}
	return earnings, nil
}

func (s *Service) RequestPayout(ctx context.Context, req domain.RequestPayoutRequest) (*domain.Payout, error) {
	if req.AmountCents <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	earning, err := s.GetByAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if req.AmountCents > earning.PendingCents {
		return nil, domain.ErrInsufficientPending
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "creator payout"
	}

	payout := &domain.Payout{
		ID:          s.genID.Generate(),
		AccountID:   earning.AccountID,
		AgentID:     req.AgentID,
		AmountCents: req.AmountCents,
		Status:      domain.PayoutStatusPending,
		Description: description,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(payout).Error; err != nil {
		return nil, err
	}
	return payout, nil
}

func (s *Service) GetPayout(ctx context.Context, id snowflake.ID) (*domain.Payout, error) {
	var payout domain.Payout
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, account_id, agent_id, amount_cents, status, description, created_at, processed_at
		 FROM payouts WHERE id = ?`, id,
	).Scan(&payout).Error
	if err != nil {
		return nil, err
	}
	if payout.ID == 0 {
		return nil, domain.ErrPayoutNotFound
	}
	return &payout, nil
}

func (s *Service) ListPayouts(ctx context.Context, accountID snowflake.ID, limit int) ([]domain.Payout, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var payouts []domain.Payout
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&payouts).Error
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

// CompletePayout moves the amount from pending to paid out with a guarded
// decrement and debits the creator reserve. The pending guard means a payout
// can never settle more than the accumulator still holds, and the status
// guard makes completion idempotent.
func (s *Service) CompletePayout(ctx context.Context, id snowflake.ID) (*domain.Payout, error) {
	payout, err := s.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.Status != domain.PayoutStatusPending {
		return nil, domain.ErrPayoutNotPending
	}

	reserveID, err := s.systemAccountID(ctx, ledgerdomain.AccountCodeCreatorReserve)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed := tx.WithContext(ctx).Exec(
			`UPDATE payouts SET status = ?, processed_at = ? WHERE id = ? AND status = ?`,
			domain.PayoutStatusCompleted, now, id, domain.PayoutStatusPending,
		)
		if claimed.Error != nil {
			return claimed.Error
		}
		if claimed.RowsAffected == 0 {
			return domain.ErrPayoutNotPending
		}

		moved := tx.WithContext(ctx).Exec(
			`UPDATE earnings
			 SET pending_cents = pending_cents - ?, paid_out_cents = paid_out_cents + ?, updated_at = ?
			 WHERE agent_id = ? AND pending_cents >= ?`,
			payout.AmountCents, payout.AmountCents, now, payout.AgentID, payout.AmountCents,
		)
		if moved.Error != nil {
			return moved.Error
		}
		if moved.RowsAffected == 0 {
			return domain.ErrInsufficientPending
		}

		payoutID := payout.ID
		_, err := s.ledgerSvc.AppendEntryTx(ctx, tx, ledgerdomain.AppendEntryRequest{
			AccountID:   reserveID,
			Amount:      -payout.AmountCents,
			Kind:        ledgerdomain.EntryKindPayout,
			Description: "creator payout settled",
			ReferenceID: &payoutID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	payout.Status = domain.PayoutStatusCompleted
	payout.ProcessedAt = &now
	s.log.Info("payout completed",
		zap.String("payout_id", payout.ID.String()),
		zap.Int64("amount_cents", payout.AmountCents),
	)
	return payout, nil
}

func (s *Service) FailPayout(ctx context.Context, id snowflake.ID, reason string) (*domain.Payout, error) {
	payout, err := s.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	description := payout.Description
	if reason = strings.TrimSpace(reason); reason != "" {
		description = description + " (failed: " + reason + ")"
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE payouts SET status = ?, description = ?, processed_at = ? WHERE id = ? AND status = ?`,
		domain.PayoutStatusFailed, description, now, id, domain.PayoutStatusPending,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrPayoutNotPending
	}

	payout.Status = domain.PayoutStatusFailed
	payout.Description = description
	payout.ProcessedAt = &now
	return payout, nil
}
