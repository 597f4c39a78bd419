package autoreload

import (
	generationdomain "github.com/smallbiznis/yardcraft/internal/generation/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.autoreload",
	fx.Provide(New),
	fx.Provide(func(s *Service) generationdomain.Reloader { return s }),
)
