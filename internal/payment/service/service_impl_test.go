package service

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/hooklane/hooklane/internal/clock"
	ledgerdomain "github.com/hooklane/hooklane/internal/ledger/domain"
	ledgerservice "github.com/hooklane/hooklane/internal/ledger/service"
	"github.com/hooklane/hooklane/internal/payment/adapters"
	"github.com/hooklane/hooklane/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeProvider scripts checkout creation and event parsing so the service can
// be exercised without Stripe.
type fakeProvider struct {
	name        string
	checkout    *domain.CheckoutResult
	checkoutErr error
	verifyErr   error
	event       *domain.TopUpEvent
	parseErr    error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CreateCheckout(ctx context.Context, session *domain.CheckoutSession) (*domain.CheckoutResult, error) {
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	return f.checkout, nil
}

func (f *fakeProvider) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return f.verifyErr
}

func (f *fakeProvider) Parse(ctx context.Context, payload []byte) (*domain.TopUpEvent, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	event := *f.event
	event.RawPayload = payload
	return &event, nil
}

type testEnv struct {
	db        *gorm.DB
	node      *snowflake.Node
	provider  *fakeProvider
	ledgerSvc ledgerdomain.Service
	svc       domain.Service
	account   *ledgerdomain.Account
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.LedgerEntry{},
		&domain.CheckoutSession{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	clk := clock.SystemClock{}
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})

	provider := &fakeProvider{
		name: "stripe",
		checkout: &domain.CheckoutResult{
			ProviderSessionID: "cs_test_abc",
			CheckoutURL:       "https://checkout.example.com/cs_test_abc",
		},
	}

	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Registry:  adapters.NewRegistry(provider),
		LedgerSvc: ledgerSvc,
	})

	account, err := ledgerSvc.CreateAccount(context.Background(), ledgerdomain.CreateAccountRequest{Name: "alice"})
	require.NoError(t, err)

	return &testEnv{
		db:        db,
		node:      node,
		provider:  provider,
		ledgerSvc: ledgerSvc,
		svc:       svc,
		account:   account,
	}
}

func completedEvent(providerSessionID string, amount int64) *domain.TopUpEvent {
	return &domain.TopUpEvent{
		Provider:          "stripe",
		ProviderEventID:   "evt_1",
		ProviderSessionID: providerSessionID,
		Type:              domain.EventTypeCheckoutCompleted,
		AmountCents:       amount,
		OccurredAt:        time.Now().UTC(),
	}
}

func TestCreateTopUpPersistsPendingSession(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	session, err := env.svc.CreateTopUp(ctx, domain.CreateTopUpRequest{
		AccountID:   env.account.ID,
		AmountCents: 2500,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SessionStatusPending, session.Status)
	assert.Equal(t, "cs_test_abc", session.ProviderSessionID)
	assert.Equal(t, "https://checkout.example.com/cs_test_abc", session.CheckoutURL)

	stored, err := env.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, stored.ID)
	assert.Equal(t, int64(2500), stored.AmountCents)

	// No credits until the provider confirms.
	balance, err := env.ledgerSvc.GetBalance(ctx, env.account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestCreateTopUpValidation(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	_, err := env.svc.CreateTopUp(ctx, domain.CreateTopUpRequest{
		AccountID:   env.account.ID,
		AmountCents: 0,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = env.svc.CreateTopUp(ctx, domain.CreateTopUpRequest{
		AccountID:   snowflake.ID(987654),
		AmountCents: 100,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)

	_, err = env.svc.CreateTopUp(ctx, domain.CreateTopUpRequest{
		AccountID:   env.account.ID,
		AmountCents: 100,
		Provider:    "paypal",
	})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestHandleWebhookConfirmsTopUpOnce(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	session, err := env.svc.CreateTopUp(ctx, domain.CreateTopUpRequest{
		AccountID:   env.account.ID,
		AmountCents: 2500,
	})
	require.NoError(t, err)

	env.provider.event = completedEvent(session.ProviderSessionID, 2500)
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	require.NoError(t, env.svc.HandleWebhook(ctx, "stripe", payload, http.Header{}))

	balance, err := env.ledgerSvc.GetBalance(ctx, env.account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), balance)

	stored, err := env.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	// Redelivery of the same event must not mint credits again.
	require.NoError(t, env.svc.HandleWebhook(ctx, "stripe", payload, http.Header{}))

	balance, err = env.ledgerSvc.GetBalance(ctx, env.account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), balance)

	entries, err := env.ledgerSvc.ListEntries(ctx, env.account.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledgerdomain.EntryKindPurchase, entries[0].Kind)
	require.NotNil(t, entries[0].ReferenceID)
	assert.Equal(t, session.ID, *entries[0].ReferenceID)
}

func TestHandleWebhookExpiresSession(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	session, err := env.svc.CreateTopUp(ctx, domain.CreateTopUpRequest{
		AccountID:   env.account.ID,
		AmountCents: 1000,
	})
	require.NoError(t, err)

	event := completedEvent(session.ProviderSessionID, 1000)
	event.Type = domain.EventTypeCheckoutExpired
	env.provider.event = event

	require.NoError(t, env.svc.HandleWebhook(ctx, "stripe", []byte(`{"id":"evt_2"}`), http.Header{}))

	stored, err := env.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusExpired, stored.Status)

	balance, err := env.ledgerSvc.GetBalance(ctx, env.account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	env.provider.verifyErr = domain.ErrInvalidSignature
	err := env.svc.HandleWebhook(ctx, "stripe", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestHandleWebhookIgnoresUnrelatedEvents(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	env.provider.parseErr = domain.ErrEventIgnored
	assert.NoError(t, env.svc.HandleWebhook(ctx, "stripe", []byte(`{}`), http.Header{}))
}

func TestHandleWebhookUnknownProvider(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	err := env.svc.HandleWebhook(ctx, "paypal", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestHandleWebhookUnknownSession(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	env.provider.event = completedEvent("cs_never_created", 100)
	err := env.svc.HandleWebhook(ctx, "stripe", []byte(`{"id":"evt_3"}`), http.Header{})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	for i := 0; i < 3; i++ {
		env.provider.checkout = &domain.CheckoutResult{
			ProviderSessionID: fmt.Sprintf("cs_test_%d", i),
			CheckoutURL:       fmt.Sprintf("https://checkout.example.com/cs_test_%d", i),
		}
		_, err := env.svc.CreateTopUp(ctx, domain.CreateTopUpRequest{
			AccountID:   env.account.ID,
			AmountCents: 100,
		})
		require.NoError(t, err)
	}

	sessions, err := env.svc.ListSessions(ctx, env.account.ID, 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)

	sessions, err = env.svc.ListSessions(ctx, env.account.ID, 2)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}
