package execution

import (
	"github.com/hooklane/hooklane/internal/execution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("execution.service",
	fx.Provide(service.NewService),
)
