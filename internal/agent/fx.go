package agent

import (
	"github.com/hooklane/hooklane/internal/agent/repository"
	"github.com/hooklane/hooklane/internal/agent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("agent.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
