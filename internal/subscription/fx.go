package subscription

import (
	"github.com/stylora/stylora/internal/subscription/repository"
	"github.com/stylora/stylora/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
