package generation

import (
	"context"

	"github.com/smallbiznis/yardcraft/internal/generation/domain"
	"github.com/smallbiznis/yardcraft/internal/generation/repository"
	"github.com/smallbiznis/yardcraft/internal/generation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("generation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Invoke(func(lc fx.Lifecycle, s *service.Service) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return s.Drain(ctx)
			},
		})
	}),
)
