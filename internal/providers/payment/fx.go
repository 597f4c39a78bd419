package payment

import (
	"github.com/smallbiznis/yardcraft/internal/providers/payment/domain"
	"github.com/smallbiznis/yardcraft/internal/providers/payment/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.payment",
	fx.Provide(stripe.New),
	fx.Provide(func(p *stripe.Provider) domain.Provider { return p }),
)
