package enforcement

import (
	"github.com/smallbiznis/tontine/internal/enforcement/repository"
	"github.com/smallbiznis/tontine/internal/enforcement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("enforcement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
