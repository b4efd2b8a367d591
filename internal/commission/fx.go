package commission

import (
	"github.com/smallbiznis/tontine/internal/commission/repository"
	"github.com/smallbiznis/tontine/internal/commission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("commission.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
