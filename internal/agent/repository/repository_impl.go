package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/hooklane/hooklane/internal/agent/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, agent *domain.Agent) error {
	return db.WithContext(ctx).Create(agent).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Agent, error) {
	var agent domain.Agent
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_account_id, name, slug, url, price_cents, active, created_at, updated_at
		 FROM agents WHERE id = ?`, id,
	).Scan(&agent).Error
	if err != nil {
		return nil, err
	}
	if agent.ID == 0 {
		return nil, nil
	}
	return &agent, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, agent *domain.Agent) error {
	return db.WithContext(ctx).Exec(
		`UPDATE agents
		 SET name = ?, url = ?, price_cents = ?, active = ?, updated_at = ?
		 WHERE id = ?`,
		agent.Name, agent.URL, agent.PriceCents, agent.Active, agent.UpdatedAt, agent.ID,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListAgentsFilter) ([]domain.Agent, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	stmt := db.WithContext(ctx).Model(&domain.Agent{})
	if filter.OwnerAccountID != nil {
		stmt = stmt.Where("owner_account_id = ?", *filter.OwnerAccountID)
	}
	if filter.ActiveOnly {
		stmt = stmt.Where("active = ?", true)
	}
	var agents []domain.Agent
	err := stmt.Order("created_at desc, id desc").Limit(limit).Find(&agents).Error
	if err != nil {
		return nil, err
	}
	return agents, nil
}
