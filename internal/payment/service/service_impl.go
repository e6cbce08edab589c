package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/hooklane/hooklane/internal/clock"
	ledgerdomain "github.com/hooklane/hooklane/internal/ledger/domain"
	"github.com/hooklane/hooklane/internal/observability/metrics"
	"github.com/hooklane/hooklane/internal/payment/adapters"
	"github.com/hooklane/hooklane/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Registry  *adapters.Registry
	LedgerSvc ledgerdomain.Service
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	registry  *adapters.Registry
	ledgerSvc ledgerdomain.Service
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		registry:  p.Registry,
		ledgerSvc: p.LedgerSvc,
		metrics:   p.Metrics,
	}
}

func (s *Service) CreateTopUp(ctx context.Context, req domain.CreateTopUpRequest) (*domain.CheckoutSession, error) {
	if req.AmountCents <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if _, err := s.ledgerSvc.GetAccount(ctx, req.AccountID); err != nil {
		return nil, err
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = "stripe"
	}
	provider, err := s.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &domain.CheckoutSession{
		ID:          s.genID.Generate(),
		AccountID:   req.AccountID,
		Provider:    provider.Name(),
		AmountCents: req.AmountCents,
		Status:      domain.SessionStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	result, err := provider.CreateCheckout(ctx, session)
	if err != nil {
		return nil, err
	}
	session.ProviderSessionID = result.ProviderSessionID
	session.CheckoutURL = result.CheckoutURL

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}

	s.log.Info("top-up checkout created",
		zap.String("session_id", session.ID.String()),
		zap.String("account_id", session.AccountID.String()),
		zap.Int64("amount_cents", session.AmountCents),
	)
	return session, nil
}

func (s *Service) HandleWebhook(ctx context.Context, providerName string, payload []byte, headers http.Header) error {
	provider, err := s.registry.Get(providerName)
	if err != nil {
		return err
	}
	if err := provider.Verify(ctx, payload, headers); err != nil {
		return err
	}

	event, err := provider.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			return nil
		}
		return err
	}
	s.metrics.RecordPaymentEvent(event.Provider, event.Type)

	switch event.Type {
	case domain.EventTypeCheckoutCompleted:
		return s.confirmTopUp(ctx, event)
	case domain.EventTypeCheckoutExpired:
		return s.expireSession(ctx, event)
	default:
		return nil
	}
}

// confirmTopUp settles a completed checkout. The pending-to-completed guard
// makes redelivered events harmless: credits are minted exactly once.
func (s *Service) confirmTopUp(ctx context.Context, event *domain.TopUpEvent) error {
	session, err := s.sessionByProviderID(ctx, event.ProviderSessionID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed := tx.WithContext(ctx).Exec(
			`UPDATE checkout_sessions
			 SET status = ?, raw_event = ?, completed_at = ?, updated_at = ?
			 WHERE provider_session_id = ? AND status = ?`,
			domain.SessionStatusCompleted, datatypes.JSON(event.RawPayload), now, now,
			event.ProviderSessionID, domain.SessionStatusPending,
		)
		if claimed.Error != nil {
			return claimed.Error
		}
		if claimed.RowsAffected == 0 {
			s.log.Info("top-up event ignored, session already settled",
				zap.String("provider_session_id", event.ProviderSessionID),
			)
			return nil
		}

		sessionID := session.ID
		_, err := s.ledgerSvc.AppendEntryTx(ctx, tx, ledgerdomain.AppendEntryRequest{
			AccountID:   session.AccountID,
			Amount:      session.AmountCents,
			Kind:        ledgerdomain.EntryKindPurchase,
			Description: "credit top-up",
			ReferenceID: &sessionID,
		})
		return err
	})
}

func (s *Service) expireSession(ctx context.Context, event *domain.TopUpEvent) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Exec(
		`UPDATE checkout_sessions
		 SET status = ?, raw_event = ?, updated_at = ?
		 WHERE provider_session_id = ? AND status = ?`,
		domain.SessionStatusExpired, datatypes.JSON(event.RawPayload), now,
		event.ProviderSessionID, domain.SessionStatusPending,
	).Error
}

func (s *Service) sessionByProviderID(ctx context.Context, providerSessionID string) (*domain.CheckoutSession, error) {
	var session domain.CheckoutSession
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM checkout_sessions WHERE provider_session_id = ?`, providerSessionID,
	).Scan(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return &session, nil
}

func (s *Service) GetSession(ctx context.Context, id snowflake.ID) (*domain.CheckoutSession, error) {
	var session domain.CheckoutSession
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM checkout_sessions WHERE id = ?`, id,
	).Scan(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return &session, nil
}

func (s *Service) ListSessions(ctx context.Context, accountID snowflake.ID, limit int) ([]domain.CheckoutSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var sessions []domain.CheckoutSession
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
