package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/hooklane/hooklane/internal/agent/domain"
	"github.com/hooklane/hooklane/internal/clock"
	"github.com/hooklane/hooklane/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("agent.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterAgentRequest) (*domain.Agent, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	if req.PriceCents < 0 {
		return nil, domain.ErrInvalidPrice
	}

	now := s.clock.Now()
	agent := &domain.Agent{
		ID:             s.genID.Generate(),
		OwnerAccountID: req.OwnerAccountID,
		Name:           name,
		URL:            strings.TrimSpace(req.URL),
		PriceCents:     req.PriceCents,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	agent.Slug = fmt.Sprintf("%s-%s", slug.Make(name), agent.ID.Base36())

	if err := s.repo.Insert(ctx, s.db, agent); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateSlug
		}
		return nil, err
	}

	s.log.Info("agent registered",
		zap.String("agent_id", agent.ID.String()),
		zap.String("slug", agent.Slug),
	)
	return agent, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Agent, error) {
	agent, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, domain.ErrNotFound
	}
	return agent, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateAgentRequest) (*domain.Agent, error) {
	agent, err := s.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		agent.Name = name
	}
	if req.URL != nil {
		if err := validateURL(*req.URL); err != nil {
			return nil, err
		}
		agent.URL = strings.TrimSpace(*req.URL)
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 0 {
			return nil, domain.ErrInvalidPrice
		}
		agent.PriceCents = *req.PriceCents
	}
	if req.Active != nil {
		agent.Active = *req.Active
	}
	agent.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, s.db, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListAgentsFilter) ([]domain.Agent, error) {
	return s.repo.List(ctx, s.db, filter)
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.ErrInvalidURL
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return domain.ErrInvalidURL
	}
	return nil
}
