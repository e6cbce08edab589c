package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/hooklane/hooklane/internal/clock"
	ledgerdomain "github.com/hooklane/hooklane/internal/ledger/domain"
	obsmetrics "github.com/hooklane/hooklane/internal/observability/metrics"
	"github.com/hooklane/hooklane/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateAccount(ctx context.Context, req ledgerdomain.CreateAccountRequest) (*ledgerdomain.Account, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ledgerdomain.ErrInvalidName
	}
	kind := req.Kind
	if kind == "" {
		kind = ledgerdomain.AccountKindUser
	}

	now := s.clock.Now()
	account := &ledgerdomain.Account{
		ID:        s.genID.Generate(),
		Kind:      kind,
		Code:      req.Code,
		Name:      name,
		Balance:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, ledgerdomain.ErrDuplicateCode
		}
		return nil, err
	}
	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, id snowflake.ID) (*ledgerdomain.Account, error) {
	var account ledgerdomain.Account
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, kind, code, name, balance, created_at, updated_at
		 FROM accounts WHERE id = ?`, id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return &account, nil
}

func (s *Service) GetAccountByCode(ctx context.Context, code string) (*ledgerdomain.Account, error) {
	var account ledgerdomain.Account
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, kind, code, name, balance, created_at, updated_at
		 FROM accounts WHERE code = ?`, code,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return &account, nil
}

func (s *Service) GetBalance(ctx context.Context, accountID snowflake.ID) (int64, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *Service) AppendEntry(ctx context.Context, req ledgerdomain.AppendEntryRequest) (*ledgerdomain.LedgerEntry, error) {
	var entry *ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.AppendEntryTx(ctx, tx, req)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendEntryTx performs the balance read-modify-write as a single guarded
// UPDATE so concurrent appends against one account serialize on the row lock
// and the balance can never silently go negative.
func (s *Service) AppendEntryTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.AppendEntryRequest) (*ledgerdomain.LedgerEntry, error) {
	if req.Amount == 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if !req.Kind.Valid() {
		return nil, ledgerdomain.ErrInvalidKind
	}

	now := s.clock.Now()
	result := tx.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET balance = balance + ?, updated_at = ?
		 WHERE id = ? AND balance + ? >= 0`,
		req.Amount, now, req.AccountID, req.Amount,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		var exists int64
		if err := tx.WithContext(ctx).Raw(
			`SELECT COUNT(1) FROM accounts WHERE id = ?`, req.AccountID,
		).Scan(&exists).Error; err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, ledgerdomain.ErrAccountNotFound
		}
		return nil, ledgerdomain.ErrInsufficientFunds
	}

	var after int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT balance FROM accounts WHERE id = ?`, req.AccountID,
	).Scan(&after).Error; err != nil {
		return nil, err
	}

	entry := &ledgerdomain.LedgerEntry{
		ID:            s.genID.Generate(),
		AccountID:     req.AccountID,
		Amount:        req.Amount,
		Kind:          req.Kind,
		Description:   req.Description,
		BalanceBefore: after - req.Amount,
		BalanceAfter:  after,
		ReferenceID:   req.ReferenceID,
		CreatedAt:     now,
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}

	s.obsMetrics.RecordLedgerEntry(string(req.Kind))
	return entry, nil
}

func (s *Service) ListEntries(ctx context.Context, accountID snowflake.ID, limit int) ([]ledgerdomain.LedgerEntry, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) Reconcile(ctx context.Context, accountID snowflake.ID) (*ledgerdomain.ReconcileResult, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var computed int64
	err = s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = ?`, accountID,
	).Scan(&computed).Error
	if err != nil {
		return nil, err
	}

	return &ledgerdomain.ReconcileResult{
		AccountID:  accountID,
		Stored:     account.Balance,
		Computed:   computed,
		Delta:      account.Balance - computed,
		Consistent: account.Balance == computed,
	}, nil
}
