package obligation

import (
	"github.com/smallbiznis/tontine/internal/obligation/repository"
	"github.com/smallbiznis/tontine/internal/obligation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("obligation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
