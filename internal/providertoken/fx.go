package providertoken

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tontine/internal/clock"
	"github.com/smallbiznis/tontine/internal/config"
	"github.com/smallbiznis/tontine/internal/ratelimit"
	obsmetrics "github.com/smallbiznis/tontine/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const renewalLockPrefix = "lock:token:"

var Module = fx.Module("providertoken",
	fx.Provide(newStore),
	fx.Provide(newCache),
)

type storeParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

func newStore(p storeParams) Store {
	if p.Config.TokenStore == config.TokenStoreRedis {
		if p.Redis != nil {
			return NewRedisStore(p.Redis)
		}
		p.Log.Warn("redis token store requested without redis, using memory")
	}
	return NewMemoryStore()
}

type cacheParams struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Store      Store
	Rules      *config.RulesHolder
	Clock      clock.Clock
	Redis      *redis.Client `optional:"true"`
	Renewers   []Renewer     `group:"token_renewers"`
}

func newCache(p cacheParams) *Cache {
	opts := Options{
		WaitTimeout:  p.Config.TokenWait,
		RenewTimeout: p.Config.ProviderTimeout,
	}
	// Replicas only share tokens through redis, so only then do they need
	// to share the renewal.
	if p.Config.TokenStore == config.TokenStoreRedis && p.Redis != nil {
		ttl := p.Config.ProviderTimeout + 5*time.Second
		if p.Config.ProviderTimeout <= 0 {
			ttl = defaultRenewTimeout + 5*time.Second
		}
		opts.Locker = ratelimit.NewRedisKeyLocker(p.Redis, p.Log, renewalLockPrefix, ttl, p.Config.TokenWait)
	}
	return NewCache(p.Log, p.ObsMetrics, p.Store, p.Rules, p.Clock, opts, p.Renewers...)
}
