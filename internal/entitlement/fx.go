package entitlement

import (
	"github.com/stylora/stylora/internal/entitlement/repository"
	"github.com/stylora/stylora/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
