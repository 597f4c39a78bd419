package imagery

import "go.uber.org/fx"

var Module = fx.Module("imagery",
	fx.Provide(
		NewGoogleGateway,
		func(g *GoogleGateway) Gateway { return g },
	),
)
