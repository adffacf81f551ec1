package plan

import "go.uber.org/fx"

var Module = fx.Module("plan.catalog",
	fx.Provide(NewCatalog),
)
