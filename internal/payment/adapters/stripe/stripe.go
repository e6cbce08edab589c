package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hooklane/hooklane/internal/config"
	"github.com/hooklane/hooklane/internal/payment/domain"
	"go.uber.org/zap"
)

const apiBase = "https://api.stripe.com/v1"

// Adapter drives Stripe hosted checkout over its form-encoded HTTP API and
// verifies webhook deliveries with the shared endpoint secret.
type Adapter struct {
	client        *http.Client
	log           *zap.Logger
	baseURL       string
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewAdapter(cfg config.Config, log *zap.Logger) *Adapter {
	return &Adapter{
		client:        &http.Client{Timeout: 15 * time.Second},
		log:           log.Named("payment.stripe"),
		baseURL:       apiBase,
		secretKey:     cfg.StripeSecretKey,
		webhookSecret: cfg.StripeWebhookSecret,
		successURL:    cfg.TopUpSuccessURL,
		cancelURL:     cfg.TopUpCancelURL,
	}
}

func (a *Adapter) Name() string { return "stripe" }

type checkoutSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (a *Adapter) CreateCheckout(ctx context.Context, session *domain.CheckoutSession) (*domain.CheckoutResult, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", a.successURL)
	form.Set("cancel_url", a.cancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][product_data][name]", "hooklane credits")
	form.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", session.AmountCents))
	form.Set("metadata[session_id]", session.ID.String())
	form.Set("metadata[account_id]", session.AccountID.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.ErrProviderFailure
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Warn("stripe checkout create failed", zap.Error(err))
		return nil, domain.ErrProviderFailure
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.ErrProviderFailure
	}
	if resp.StatusCode != http.StatusOK {
		a.log.Warn("stripe checkout create rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return nil, domain.ErrProviderFailure
	}

	var parsed checkoutSessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.ID == "" {
		return nil, domain.ErrProviderFailure
	}

	return &domain.CheckoutResult{
		ProviderSessionID: parsed.ID,
		CheckoutURL:       parsed.URL,
	}, nil
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID          string `json:"id"`
	AmountTotal int64  `json:"amount_total"`
	Created     int64  `json:"created"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.TopUpEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	var eventType string
	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		eventType = domain.EventTypeCheckoutCompleted
	case "checkout.session.expired":
		eventType = domain.EventTypeCheckoutExpired
	default:
		return nil, domain.ErrEventIgnored
	}

	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	return &domain.TopUpEvent{
		Provider:          "stripe",
		ProviderEventID:   event.ID,
		ProviderSessionID: session.ID,
		Type:              eventType,
		AmountCents:       session.AmountTotal,
		OccurredAt:        timestamp(session.Created, event.Created),
		RawPayload:        payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
