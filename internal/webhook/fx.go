package webhook

import "go.uber.org/fx"

var Module = fx.Module("webhook.invoker",
	fx.Provide(func(i *HTTPInvoker) Invoker { return i }),
	fx.Provide(NewHTTPInvoker),
)
