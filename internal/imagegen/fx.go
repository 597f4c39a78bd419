package imagegen

import "go.uber.org/fx"

var Module = fx.Module("imagegen",
	fx.Provide(
		NewHTTPModel,
		func(m *HTTPModel) Model { return m },
	),
)
