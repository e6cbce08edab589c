package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

type CreateTopUpRequest struct {
	AccountID   snowflake.ID `json:"account_id"`
	AmountCents int64        `json:"amount_cents"`
	Provider    string       `json:"provider,omitempty"`
}

// CheckoutResult is what a provider returns for a newly created hosted
// checkout.
type CheckoutResult struct {
	ProviderSessionID string
	CheckoutURL       string
}

// Provider is one hosted-checkout payment integration.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, session *CheckoutSession) (*CheckoutResult, error)
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*TopUpEvent, error)
}

type Service interface {
	CreateTopUp(ctx context.Context, req CreateTopUpRequest) (*CheckoutSession, error)
	// HandleWebhook verifies, parses and applies one provider event.
	// Applying a completed checkout twice credits the account once.
	HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
	GetSession(ctx context.Context, id snowflake.ID) (*CheckoutSession, error)
	ListSessions(ctx context.Context, accountID snowflake.ID, limit int) ([]CheckoutSession, error)
}

var (
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrSessionNotFound  = errors.New("session_not_found")
	ErrInvalidAmount    = errors.New("invalid_topup_amount")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrProviderFailure  = errors.New("provider_failure")
)
