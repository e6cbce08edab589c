package payment

import (
	"github.com/hooklane/hooklane/internal/payment/adapters"
	"github.com/hooklane/hooklane/internal/payment/adapters/stripe"
	"github.com/hooklane/hooklane/internal/payment/domain"
	"github.com/hooklane/hooklane/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(
		stripe.NewAdapter,
		func(adapter *stripe.Adapter) *adapters.Registry {
			return adapters.NewRegistry(adapter)
		},
		service.NewService,
	),
)

var _ domain.Provider = (*stripe.Adapter)(nil)
