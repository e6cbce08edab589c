package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/hooklane/hooklane/internal/agent/domain"
	"github.com/hooklane/hooklane/internal/agent/repository"
	"github.com/hooklane/hooklane/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()

	dsn := fmt.Sprintf("file:agent_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Agent{}))

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.SystemClock{},
		Repo:  repository.Provide(),
	})
}

func TestRegisterAssignsSlugAndDefaults(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	agent, err := svc.Register(ctx, domain.RegisterAgentRequest{
		Name:       "Text Summarizer Pro",
		URL:        "https://agents.example.com/summarize",
		PriceCents: 100,
	})
	require.NoError(t, err)

	assert.True(t, agent.Active)
	assert.True(t, strings.HasPrefix(agent.Slug, "text-summarizer-pro-"), "slug %q", agent.Slug)
	assert.Nil(t, agent.OwnerAccountID)

	stored, err := svc.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.Slug, stored.Slug)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Register(ctx, domain.RegisterAgentRequest{
		Name: "  ",
		URL:  "https://agents.example.com/x",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	for _, badURL := range []string{"", "not-a-url", "ftp://agents.example.com/x", "https://"} {
		_, err := svc.Register(ctx, domain.RegisterAgentRequest{Name: "x", URL: badURL})
		assert.ErrorIs(t, err, domain.ErrInvalidURL, "url %q", badURL)
	}

	_, err = svc.Register(ctx, domain.RegisterAgentRequest{
		Name:       "x",
		URL:        "https://agents.example.com/x",
		PriceCents: -1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestUpdateTogglesActive(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	agent, err := svc.Register(ctx, domain.RegisterAgentRequest{
		Name: "worker",
		URL:  "https://agents.example.com/work",
	})
	require.NoError(t, err)

	inactive := false
	updated, err := svc.Update(ctx, domain.UpdateAgentRequest{ID: agent.ID, Active: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.Active)

	price := int64(250)
	updated, err = svc.Update(ctx, domain.UpdateAgentRequest{ID: agent.ID, PriceCents: &price})
	require.NoError(t, err)
	assert.Equal(t, int64(250), updated.PriceCents)
	assert.False(t, updated.Active, "price update must not reactivate")
}

func TestUpdateUnknownAgent(t *testing.T) {
	svc := newTestService(t)
	name := "renamed"
	_, err := svc.Update(context.Background(), domain.UpdateAgentRequest{
		ID:   snowflake.ID(424242),
		Name: &name,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	node, err := snowflake.NewNode(8)
	require.NoError(t, err)
	owner := node.Generate()

	for i := 0; i < 3; i++ {
		req := domain.RegisterAgentRequest{
			Name: fmt.Sprintf("agent-%d", i),
			URL:  "https://agents.example.com/x",
		}
		if i == 0 {
			req.OwnerAccountID = &owner
		}
		agent, err := svc.Register(ctx, req)
		require.NoError(t, err)

		if i == 2 {
			inactive := false
			_, err = svc.Update(ctx, domain.UpdateAgentRequest{ID: agent.ID, Active: &inactive})
			require.NoError(t, err)
		}
	}

	all, err := svc.List(ctx, domain.ListAgentsFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := svc.List(ctx, domain.ListAgentsFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	owned, err := svc.List(ctx, domain.ListAgentsFilter{OwnerAccountID: &owner})
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "agent-0", owned[0].Name)
}
