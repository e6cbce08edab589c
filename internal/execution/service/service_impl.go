package service

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	agentdomain "github.com/hooklane/hooklane/internal/agent/domain"
	"github.com/hooklane/hooklane/internal/clock"
	"github.com/hooklane/hooklane/internal/config"
	earningsdomain "github.com/hooklane/hooklane/internal/earnings/domain"
	"github.com/hooklane/hooklane/internal/execution/domain"
	ledgerdomain "github.com/hooklane/hooklane/internal/ledger/domain"
	"github.com/hooklane/hooklane/internal/observability/metrics"
	"github.com/hooklane/hooklane/internal/webhook"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config      config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Invoker     webhook.Invoker
	AgentSvc    agentdomain.Service
	LedgerSvc   ledgerdomain.Service
	EarningsSvc earningsdomain.Service
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	invoker     webhook.Invoker
	agentSvc    agentdomain.Service
	ledgerSvc   ledgerdomain.Service
	earningsSvc earningsdomain.Service
	metrics     *metrics.Metrics

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:         p.Config,
		db:          p.DB,
		log:         p.Log.Named("execution.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		invoker:     p.Invoker,
		agentSvc:    p.AgentSvc,
		ledgerSvc:   p.LedgerSvc,
		earningsSvc: p.EarningsSvc,
		metrics:     p.Metrics,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *Service) newCorrelationID() string {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

// Execute implements the billed invocation workflow. Order matters:
//
//  1. preflight: agent must exist and be active, the caller must hold at
//     least the price in credits. Failing preflight records nothing.
//  2. a pending execution row is written, then the webhook is called with
//     no transaction open.
//  3. on a 2xx response the usage debit and the row update commit in one
//     transaction, then the earnings split runs in its own transaction.
//
// Non-2xx, timeout and unreachable outcomes are recorded unbilled.
func (s *Service) Execute(ctx context.Context, req domain.ExecuteRequest) (*domain.ExecuteResponse, error) {
	agent, err := s.agentSvc.GetByID(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, agentdomain.ErrInactive
	}

	price := agent.Price(s.cfg.DefaultExecutionPriceCents)

	balance, err := s.ledgerSvc.GetBalance(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if balance < price {
		s.metrics.RecordExecution("rejected")
		return nil, domain.ErrInsufficientCredits
	}

	exec := &domain.Execution{
		ID:             s.genID.Generate(),
		AgentID:        agent.ID,
		AccountID:      req.AccountID,
		CorrelationID:  s.newCorrelationID(),
		Status:         domain.StatusPending,
		RequestPayload: datatypes.JSON(req.Payload),
		CreatedAt:      s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(exec).Error; err != nil {
		return nil, err
	}

	result, invokeErr := s.invoker.Invoke(ctx, agent.URL, req.Payload)
	if invokeErr != nil {
		status := domain.StatusFailed
		if errors.Is(invokeErr, webhook.ErrTimeout) {
			status = domain.StatusTimeout
		}
		if err := s.finishUnbilled(ctx, exec, status, 0, invokeErr.Error(), nil); err != nil {
			return nil, err
		}
		s.metrics.RecordExecution(string(status))
		return &domain.ExecuteResponse{Execution: exec}, nil
	}

	if !result.Success() {
		detail := "upstream returned " + http.StatusText(result.StatusCode)
		if detail == "upstream returned " {
			detail = "upstream returned non-2xx status"
		}
		if err := s.finishUnbilled(ctx, exec, domain.StatusFailed, result.Duration, detail, result.Body); err != nil {
			return nil, err
		}
		s.metrics.RecordExecution(string(domain.StatusFailed))
		return &domain.ExecuteResponse{Execution: exec, Response: result.Body}, nil
	}

	if err := s.settleSuccess(ctx, exec, price, result); err != nil {
		return nil, err
	}

	if err := s.earningsSvc.RecordEarning(ctx, earningsdomain.RecordEarningRequest{
		AgentID:        agent.ID,
		OwnerAccountID: agent.OwnerAccountID,
		GrossCents:     price,
		ExecutionID:    exec.ID,
	}); err != nil {
		// The caller was billed; the missing split is drift that
		// reconciliation will surface.
		s.log.Error("earnings split failed",
			zap.String("execution_id", exec.ID.String()),
			zap.Error(err),
		)
	}

	s.metrics.RecordExecution(string(domain.StatusSuccess))
	return &domain.ExecuteResponse{Execution: exec, Response: result.Body}, nil
}

// settleSuccess debits the caller and marks the row billed in one
// transaction. If the guarded debit loses a race to a concurrent spender the
// row is recorded failed and unbilled even though the webhook already ran.
func (s *Service) settleSuccess(ctx context.Context, exec *domain.Execution, price int64, result *webhook.Result) error {
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		executionID := exec.ID
		entry, err := s.ledgerSvc.AppendEntryTx(ctx, tx, ledgerdomain.AppendEntryRequest{
			AccountID:   exec.AccountID,
			Amount:      -price,
			Kind:        ledgerdomain.EntryKindUsage,
			Description: "agent execution",
			ReferenceID: &executionID,
		})
		if err != nil {
			return err
		}

		exec.Status = domain.StatusSuccess
		exec.DurationMS = result.Duration.Milliseconds()
		exec.CreditsConsumed = price
		exec.BalanceBefore = &entry.BalanceBefore
		exec.BalanceAfter = &entry.BalanceAfter
		exec.ResponsePayload = datatypes.JSON(result.Body)
		exec.CompletedAt = &now

		return tx.WithContext(ctx).Exec(
			`UPDATE executions
			 SET status = ?, duration_ms = ?, credits_consumed = ?,
			     balance_before = ?, balance_after = ?, response_payload = ?, completed_at = ?
			 WHERE id = ?`,
			exec.Status, exec.DurationMS, exec.CreditsConsumed,
			exec.BalanceBefore, exec.BalanceAfter, exec.ResponsePayload, now,
			exec.ID,
		).Error
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
		if ferr := s.finishUnbilled(ctx, exec, domain.StatusFailed, result.Duration, "insufficient credits at settlement", result.Body); ferr != nil {
			return ferr
		}
		s.metrics.RecordExecution("rejected")
		return domain.ErrInsufficientCredits
	}
	return err
}

func (s *Service) finishUnbilled(ctx context.Context, exec *domain.Execution, status domain.Status, duration time.Duration, detail string, body []byte) error {
	now := s.clock.Now()
	exec.Status = status
	exec.DurationMS = duration.Milliseconds()
	exec.ErrorDetail = detail
	exec.ResponsePayload = datatypes.JSON(body)
	exec.CompletedAt = &now

	return s.db.WithContext(ctx).Exec(
		`UPDATE executions
		 SET status = ?, duration_ms = ?, error_detail = ?, response_payload = ?, completed_at = ?
		 WHERE id = ?`,
		status, exec.DurationMS, detail, exec.ResponsePayload, now, exec.ID,
	).Error
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Execution, error) {
	var exec domain.Execution
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM executions WHERE id = ?`, id,
	).Scan(&exec).Error
	if err != nil {
		return nil, err
	}
	if exec.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &exec, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Execution, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := s.db.WithContext(ctx).Model(&domain.Execution{})
	if filter.AccountID != nil {
		query = query.Where("account_id = ?", *filter.AccountID)
	}
	if filter.AgentID != nil {
		query = query.Where("agent_id = ?", *filter.AgentID)
	}

	var executions []domain.Execution
	err := query.Order("created_at desc, id desc").Limit(limit).Find(&executions).Error
	if err != nil {
		return nil, err
	}
	return executions, nil
}
