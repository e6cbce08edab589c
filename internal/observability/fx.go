package observability

import (
	"github.com/hooklane/hooklane/internal/observability/logger"
	"github.com/hooklane/hooklane/internal/observability/metrics"
	"github.com/hooklane/hooklane/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		logger.New,
		tracing.NewProvider,
		metrics.New,
	),
	fx.Invoke(ensureTracingProvider),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}
