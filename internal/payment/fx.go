package payment

import (
	"github.com/smallbiznis/yardcraft/internal/config"
	"github.com/smallbiznis/yardcraft/internal/payment/adapters/stripe"
	"github.com/smallbiznis/yardcraft/internal/payment/domain"
	"github.com/smallbiznis/yardcraft/internal/payment/repository"
	"github.com/smallbiznis/yardcraft/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) domain.Adapter {
		return stripe.NewAdapter(cfg)
	}),
	fx.Provide(webhook.NewService),
)
