package providertoken

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/tontine/internal/clock"
	"github.com/smallbiznis/tontine/internal/config"
	"github.com/smallbiznis/tontine/internal/ratelimit"
	obsmetrics "github.com/smallbiznis/tontine/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultWaitTimeout  = 10 * time.Second
	defaultRenewTimeout = 30 * time.Second
)

type Cache struct {
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	store        Store
	renewers     map[string]Renewer
	rules        *config.RulesHolder
	clock        clock.Clock
	waitTimeout  time.Duration
	renewTimeout time.Duration

	group  singleflight.Group
	locker ratelimit.KeyLocker
}

type Options struct {
	WaitTimeout  time.Duration
	RenewTimeout time.Duration
	// Locker serializes renewals across replicas sharing the store. Nil
	// leaves deduplication to the in-process flight.
	Locker ratelimit.KeyLocker
}

func NewCache(log *zap.Logger, metrics *obsmetrics.Metrics, store Store, rules *config.RulesHolder, clk clock.Clock, opts Options, renewers ...Renewer) *Cache {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	if opts.RenewTimeout <= 0 {
		opts.RenewTimeout = defaultRenewTimeout
	}
	byProvider := make(map[string]Renewer, len(renewers))
	for _, r := range renewers {
		if r == nil {
			continue
		}
		byProvider[normalize(r.Provider())] = r
	}
	return &Cache{
		log:          log.Named("providertoken.cache"),
		metrics:      metrics,
		store:        store,
		renewers:     byProvider,
		rules:        rules,
		clock:        clk,
		waitTimeout:  opts.WaitTimeout,
		renewTimeout: opts.RenewTimeout,
		locker:       opts.Locker,
	}
}

// Token returns a bearer token for provider, renewing it when it is missing
// or inside the safety margin. Concurrent callers share one renewal.
func (c *Cache) Token(ctx context.Context, provider string) (string, error) {
	provider = normalize(provider)
	if token, ok := c.cached(ctx, provider); ok {
		return token.AccessToken, nil
	}

	renewer, ok := c.renewers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	ch := c.group.DoChan(provider, func() (interface{}, error) {
		// Another flight may have stored a token since the first check.
		if token, ok := c.cached(context.WithoutCancel(ctx), provider); ok {
			return token, nil
		}
		return c.renewLocked(context.WithoutCancel(ctx), provider, renewer)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Token).AccessToken, nil
	case <-waitCtx.Done():
		return "", waitCtx.Err()
	}
}

// Invalidate drops the cached token, typically after a provider 401.
func (c *Cache) Invalidate(ctx context.Context, provider string) error {
	return c.store.Delete(ctx, normalize(provider))
}

func (c *Cache) cached(ctx context.Context, provider string) (Token, bool) {
	token, ok, err := c.store.Get(ctx, provider)
	if err != nil {
		c.log.Warn("token store read failed", zap.String("provider", provider), zap.Error(err))
		return Token{}, false
	}
	if !ok || !token.Valid(c.clock.Now(), c.rules.Get().TokenSafetyMargin) {
		return Token{}, false
	}
	return token, true
}

// renewLocked holds the shared renewal lock so that only one replica calls
// the provider; the others pick up the token it stores.
func (c *Cache) renewLocked(ctx context.Context, provider string, renewer Renewer) (Token, error) {
	if c.locker == nil {
		return c.renew(ctx, provider, renewer)
	}
	lockCtx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	release, err := c.locker.Acquire(lockCtx, provider)
	cancel()
	if err != nil {
		c.log.Warn("token renewal lock failed", zap.String("provider", provider), zap.Error(err))
		return Token{}, err
	}
	defer release()

	if token, ok := c.cached(ctx, provider); ok {
		return token, nil
	}
	return c.renew(ctx, provider, renewer)
}

func (c *Cache) renew(ctx context.Context, provider string, renewer Renewer) (Token, error) {
	renewCtx, cancel := context.WithTimeout(ctx, c.renewTimeout)
	defer cancel()

	token, err := renewer.Renew(renewCtx)
	if err != nil {
		c.metrics.RecordTokenRenewal(ctx, provider, "failure")
		c.log.Error("token renewal failed", zap.String("provider", provider), zap.Error(err))
		return Token{}, fmt.Errorf("%w: %w", ErrCredentialRenewalFailed, err)
	}

	ttl := token.ExpiresAt.Sub(c.clock.Now())
	if err := c.store.Set(ctx, provider, token, ttl); err != nil {
		c.log.Warn("token store write failed", zap.String("provider", provider), zap.Error(err))
	}
	c.metrics.RecordTokenRenewal(ctx, provider, "success")
	c.log.Info("token renewed",
		zap.String("provider", provider),
		zap.Time("expires_at", token.ExpiresAt),
	)
	return token, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
