package payment

import (
	"github.com/smallbiznis/tontine/internal/clock"
	"github.com/smallbiznis/tontine/internal/config"
	"github.com/smallbiznis/tontine/internal/payment/adapters"
	"github.com/smallbiznis/tontine/internal/payment/adapters/moov"
	"github.com/smallbiznis/tontine/internal/payment/adapters/mtn"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	"github.com/smallbiznis/tontine/internal/payment/repository"
	paymentservice "github.com/smallbiznis/tontine/internal/payment/service"
	"github.com/smallbiznis/tontine/internal/providertoken"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(
			newMTNRenewer,
			fx.As(new(providertoken.Renewer)),
			fx.ResultTags(`group:"token_renewers"`),
		),
	),
	fx.Provide(newRegistry),
	fx.Provide(paymentservice.NewService),
)

func mtnConfig(cfg config.Config) mtn.Config {
	return mtn.Config{
		BaseURL:           cfg.MTN.BaseURL,
		APIKey:            cfg.MTN.APIKey,
		APISecret:         cfg.MTN.APISecret,
		SubscriptionKey:   cfg.MTN.SubscriptionKey,
		TargetEnvironment: cfg.MTN.TargetEnvironment,
		WebhookSecret:     cfg.MTN.WebhookSecret,
		Timeout:           cfg.ProviderTimeout,
	}
}

func newMTNRenewer(cfg config.Config, clk clock.Clock, log *zap.Logger) *mtn.Renewer {
	return mtn.NewRenewer(mtnConfig(cfg), clk, log)
}

// newRegistry registers every provider with a base URL. A misconfigured
// provider is skipped so the others keep working.
func newRegistry(cfg config.Config, tokens *providertoken.Cache, log *zap.Logger) *adapters.Registry {
	var list []paymentdomain.Adapter

	if adapter, err := mtn.NewAdapter(mtnConfig(cfg), tokens, log); err == nil {
		list = append(list, adapter)
	} else {
		log.Warn("mtn adapter disabled", zap.Error(err))
	}

	if adapter, err := moov.NewAdapter(moov.Config{
		BaseURL:       cfg.Moov.BaseURL,
		APIKey:        cfg.Moov.APIKey,
		WebhookSecret: cfg.Moov.WebhookSecret,
		Timeout:       cfg.ProviderTimeout,
	}, log); err == nil {
		list = append(list, adapter)
	} else {
		log.Warn("moov adapter disabled", zap.Error(err))
	}

	registry := adapters.NewRegistry(list...)
	log.Info("payment providers registered", zap.Strings("providers", registry.Providers()))
	return registry
}
