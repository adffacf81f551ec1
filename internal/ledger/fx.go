package ledger

import (
	"github.com/stylora/stylora/internal/ledger/repository"
	"github.com/stylora/stylora/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
