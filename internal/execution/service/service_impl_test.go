package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	agentdomain "github.com/hooklane/hooklane/internal/agent/domain"
	agentrepo "github.com/hooklane/hooklane/internal/agent/repository"
	agentservice "github.com/hooklane/hooklane/internal/agent/service"
	"github.com/hooklane/hooklane/internal/clock"
	"github.com/hooklane/hooklane/internal/config"
	earningsdomain "github.com/hooklane/hooklane/internal/earnings/domain"
	earningsservice "github.com/hooklane/hooklane/internal/earnings/service"
	"github.com/hooklane/hooklane/internal/execution/domain"
	ledgerdomain "github.com/hooklane/hooklane/internal/ledger/domain"
	ledgerservice "github.com/hooklane/hooklane/internal/ledger/service"
	"github.com/hooklane/hooklane/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stubInvoker replays a scripted outcome instead of doing network IO.
type stubInvoker struct {
	result *webhook.Result
	err    error
	calls  int
}

func (s *stubInvoker) Invoke(ctx context.Context, url string, payload json.RawMessage) (*webhook.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type testEnv struct {
	db          *gorm.DB
	node        *snowflake.Node
	invoker     *stubInvoker
	ledgerSvc   ledgerdomain.Service
	agentSvc    agentdomain.Service
	earningsSvc earningsdomain.Service
	svc         domain.Service
	platform    *ledgerdomain.Account
	reserve     *ledgerdomain.Account
}

func setupTestEnv(t *testing.T, invoker *stubInvoker) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:execution_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.LedgerEntry{},
		&agentdomain.Agent{},
		&domain.Execution{},
		&earningsdomain.Earning{},
		&earningsdomain.Payout{},
	))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	clk := clock.SystemClock{}
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	agentSvc := agentservice.NewService(agentservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  agentrepo.Provide(),
	})
	earningsSvc := earningsservice.NewService(earningsservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		LedgerSvc: ledgerSvc,
	})

	ctx := context.Background()
	platformCode := ledgerdomain.AccountCodePlatform
	platform, err := ledgerSvc.CreateAccount(ctx, ledgerdomain.CreateAccountRequest{
		Name: "Platform",
		Kind: ledgerdomain.AccountKindSystem,
		Code: &platformCode,
	})
	require.NoError(t, err)

	reserveCode := ledgerdomain.AccountCodeCreatorReserve
	reserve, err := ledgerSvc.CreateAccount(ctx, ledgerdomain.CreateAccountRequest{
		Name: "Creator Reserve",
		Kind: ledgerdomain.AccountKindSystem,
		Code: &reserveCode,
	})
	require.NoError(t, err)

	svc := NewService(Params{
		Config:      config.Config{DefaultExecutionPriceCents: 50},
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Invoker:     invoker,
		AgentSvc:    agentSvc,
		LedgerSvc:   ledgerSvc,
		EarningsSvc: earningsSvc,
	})

	return &testEnv{
		db:          db,
		node:        node,
		invoker:     invoker,
		ledgerSvc:   ledgerSvc,
		agentSvc:    agentSvc,
		earningsSvc: earningsSvc,
		svc:         svc,
		platform:    platform,
		reserve:     reserve,
	}
}

func (env *testEnv) fundAccount(t *testing.T, name string, amount int64) *ledgerdomain.Account {
	t.Helper()
	ctx := context.Background()

	account, err := env.ledgerSvc.CreateAccount(ctx, ledgerdomain.CreateAccountRequest{Name: name})
	require.NoError(t, err)

	if amount > 0 {
		_, err = env.ledgerSvc.AppendEntry(ctx, ledgerdomain.AppendEntryRequest{
			AccountID:   account.ID,
			Amount:      amount,
			Kind:        ledgerdomain.EntryKindPurchase,
			Description: "test top-up",
		})
		require.NoError(t, err)
	}
	return account
}

func (env *testEnv) registerAgent(t *testing.T, owner *snowflake.ID, priceCents int64) *agentdomain.Agent {
	t.Helper()

	agent, err := env.agentSvc.Register(context.Background(), agentdomain.RegisterAgentRequest{
		OwnerAccountID: owner,
		Name:           "summarizer",
		URL:            "https://agents.example.com/summarize",
		PriceCents:     priceCents,
	})
	require.NoError(t, err)
	return agent
}

func (env *testEnv) totalBalance(t *testing.T) int64 {
	t.Helper()
	var total int64
	require.NoError(t, env.db.Raw(`SELECT COALESCE(SUM(balance), 0) FROM accounts`).Scan(&total).Error)
	return total
}

func TestExecuteSuccessBillsCaller(t *testing.T) {
	ctx := context.Background()
	invoker := &stubInvoker{result: &webhook.Result{
		StatusCode: 200,
		Body:       []byte(`{"summary":"ok"}`),
		Duration:   120 * time.Millisecond,
	}}
	env := setupTestEnv(t, invoker)

	creator := env.fundAccount(t, "creator", 0)
	caller := env.fundAccount(t, "caller", 500)
	agent := env.registerAgent(t, &creator.ID, 100)

	before := env.totalBalance(t)

	resp, err := env.svc.Execute(ctx, domain.ExecuteRequest{
		AgentID:   agent.ID,
		AccountID: caller.ID,
		Payload:   json.RawMessage(`{"text":"hello"}`),
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Execution)

	exec := resp.Execution
	assert.Equal(t, domain.StatusSuccess, exec.Status)
	assert.Equal(t, int64(100), exec.CreditsConsumed)
	require.NotNil(t, exec.BalanceBefore)
	require.NotNil(t, exec.BalanceAfter)
	assert.Equal(t, int64(500), *exec.BalanceBefore)
	assert.Equal(t, int64(400), *exec.BalanceAfter)
	assert.NotEmpty(t, exec.CorrelationID)
	assert.JSONEq(t, `{"summary":"ok"}`, string(resp.Response))

	balance, err := env.ledgerSvc.GetBalance(ctx, caller.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), balance)

	platformBalance, err := env.ledgerSvc.GetBalance(ctx, env.platform.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), platformBalance)

	reserveBalance, err := env.ledgerSvc.GetBalance(ctx, env.reserve.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(90), reserveBalance)

	// Credits only move between accounts, never appear or vanish.
	assert.Equal(t, before, env.totalBalance(t))
}

func TestExecuteInsufficientCreditsRecordsNothing(t *testing.T) {
	ctx := context.Background()
	invoker := &stubInvoker{result: &webhook.Result{StatusCode: 200}}
	env := setupTestEnv(t, invoker)

	caller := env.fundAccount(t, "caller", 30)
	agent := env.registerAgent(t, nil, 100)

	_, err := env.svc.Execute(ctx, domain.ExecuteRequest{
		AgentID:   agent.ID,
		AccountID: caller.ID,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)

	// The webhook must never fire for an unfunded request.
	assert.Equal(t, 0, invoker.calls)

	executions, err := env.svc.List(ctx, domain.ListFilter{AccountID: &caller.ID})
	require.NoError(t, err)
	assert.Empty(t, executions)

	balance, err := env.ledgerSvc.GetBalance(ctx, caller.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}

func TestExecuteUpstreamFailureIsUnbilled(t *testing.T) {
	ctx := context.Background()
	invoker := &stubInvoker{result: &webhook.Result{
		StatusCode: 500,
		Body:       []byte(`{"error":"boom"}`),
		Duration:   80 * time.Millisecond,
	}}
	env := setupTestEnv(t, invoker)

	caller := env.fundAccount(t, "caller", 500)
	agent := env.registerAgent(t, nil, 100)

	resp, err := env.svc.Execute(ctx, domain.ExecuteRequest{
		AgentID:   agent.ID,
		AccountID: caller.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, resp.Execution.Status)
	assert.Equal(t, int64(0), resp.Execution.CreditsConsumed)
	assert.NotEmpty(t, resp.Execution.ErrorDetail)

	balance, err := env.ledgerSvc.GetBalance(ctx, caller.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	platformBalance, err := env.ledgerSvc.GetBalance(ctx, env.platform.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), platformBalance)
}

func TestExecuteTimeoutIsUnbilled(t *testing.T) {
	ctx := context.Background()
	invoker := &stubInvoker{err: webhook.ErrTimeout}
	env := setupTestEnv(t, invoker)

	caller := env.fundAccount(t, "caller", 500)
	agent := env.registerAgent(t, nil, 100)

	resp, err := env.svc.Execute(ctx, domain.ExecuteRequest{
		AgentID:   agent.ID,
		AccountID: caller.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTimeout, resp.Execution.Status)
	assert.Equal(t, int64(0), resp.Execution.CreditsConsumed)

	balance, err := env.ledgerSvc.GetBalance(ctx, caller.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestExecuteInactiveAgentRejected(t *testing.T) {
	ctx := context.Background()
	invoker := &stubInvoker{result: &webhook.Result{StatusCode: 200}}
	env := setupTestEnv(t, invoker)

	caller := env.fundAccount(t, "caller", 500)
	agent := env.registerAgent(t, nil, 100)

	inactive := false
	_, err := env.agentSvc.Update(ctx, agentdomain.UpdateAgentRequest{
		ID:     agent.ID,
		Active: &inactive,
	})
	require.NoError(t, err)

	_, err = env.svc.Execute(ctx, domain.ExecuteRequest{
		AgentID:   agent.ID,
		AccountID: caller.ID,
	})
	assert.ErrorIs(t, err, agentdomain.ErrInactive)
	assert.Equal(t, 0, invoker.calls)
}

func TestExecuteUsesDefaultPrice(t *testing.T) {
	ctx := context.Background()
	invoker := &stubInvoker{result: &webhook.Result{StatusCode: 204}}
	env := setupTestEnv(t, invoker)

	caller := env.fundAccount(t, "caller", 500)
	agent := env.registerAgent(t, nil, 0)

	resp, err := env.svc.Execute(ctx, domain.ExecuteRequest{
		AgentID:   agent.ID,
		AccountID: caller.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), resp.Execution.CreditsConsumed)

	balance, err := env.ledgerSvc.GetBalance(ctx, caller.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(450), balance)
}

// drainingInvoker spends the caller's credits while the webhook is in
// flight, a deterministic stand-in for a concurrent spender hitting the
// window between the preflight check and settlement.
type drainingInvoker struct {
	ledgerSvc ledgerdomain.Service
	accountID snowflake.ID
	amount    int64
	calls     int
}

func (d *drainingInvoker) Invoke(ctx context.Context, url string, payload json.RawMessage) (*webhook.Result, error) {
	d.calls++
	_, err := d.ledgerSvc.AppendEntry(ctx, ledgerdomain.AppendEntryRequest{
		AccountID:   d.accountID,
		Amount:      -d.amount,
		Kind:        ledgerdomain.EntryKindUsage,
		Description: "concurrent spend",
	})
	if err != nil {
		return nil, err
	}
	return &webhook.Result{StatusCode: 200, Body: []byte(`{"ok":true}`)}, nil
}

func TestExecuteSettlementRaceLeavesUnbilledRow(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t, &stubInvoker{result: &webhook.Result{StatusCode: 200}})

	caller := env.fundAccount(t, "caller", 100)
	agent := env.registerAgent(t, nil, 100)

	// Preflight sees 100 credits; the draining invoker removes them before
	// the guarded debit runs.
	draining := &drainingInvoker{
		ledgerSvc: env.ledgerSvc,
		accountID: caller.ID,
		amount:    100,
	}
	svc := NewService(Params{
		Config:      config.Config{DefaultExecutionPriceCents: 50},
		DB:          env.db,
		Log:         zap.NewNop(),
		GenID:       env.node,
		Clock:       clock.SystemClock{},
		Invoker:     draining,
		AgentSvc:    env.agentSvc,
		LedgerSvc:   env.ledgerSvc,
		EarningsSvc: env.earningsSvc,
	})

	_, err := svc.Execute(ctx, domain.ExecuteRequest{
		AgentID:   agent.ID,
		AccountID: caller.ID,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)
	assert.Equal(t, 1, draining.calls)

	// The losing debit rolls back: zero, never negative.
	balance, err := env.ledgerSvc.GetBalance(ctx, caller.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	executions, err := svc.List(ctx, domain.ListFilter{AccountID: &caller.ID})
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, domain.StatusFailed, executions[0].Status)
	assert.Equal(t, int64(0), executions[0].CreditsConsumed)
	assert.Contains(t, executions[0].ErrorDetail, "insufficient credits at settlement")

	// Unbilled means unsplit: nothing reached the platform account.
	platformBalance, err := env.ledgerSvc.GetBalance(ctx, env.platform.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), platformBalance)
}

func TestExecuteSequentialSpendNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	invoker := &stubInvoker{result: &webhook.Result{StatusCode: 200}}
	env := setupTestEnv(t, invoker)

	caller := env.fundAccount(t, "caller", 250)
	agent := env.registerAgent(t, nil, 100)

	var succeeded, rejected int
	for i := 0; i < 4; i++ {
		_, err := env.svc.Execute(ctx, domain.ExecuteRequest{
			AgentID:   agent.ID,
			AccountID: caller.ID,
		})
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientCredits)
			rejected++
		}
	}

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 2, rejected)

	balance, err := env.ledgerSvc.GetBalance(ctx, caller.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}
