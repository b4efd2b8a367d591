package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tontine/internal/config"
	"go.uber.org/zap"
)

const keyPaymentInitiateAgent = "payment:initiate:agent:%s"

var ErrRateLimited = errors.New("rate_limited")

// PaymentLimiter throttles outbound payment initiations per agent so a stuck
// client cannot flood a provider with collection requests.
type PaymentLimiter struct {
	bucket *TokenBucket
	log    *zap.Logger
	rate   float64
	burst  int
}

func NewPaymentLimiter(client *redis.Client, cfg config.Config, log *zap.Logger) *PaymentLimiter {
	if client == nil || cfg.PaymentInitiateRate <= 0 || cfg.PaymentInitiateBurst <= 0 {
		return nil
	}
	return &PaymentLimiter{
		bucket: NewTokenBucket(client),
		log:    log.Named("ratelimit.payment"),
		rate:   cfg.PaymentInitiateRate,
		burst:  cfg.PaymentInitiateBurst,
	}
}

func (l *PaymentLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowAgent returns ErrRateLimited when the agent exhausted its bucket.
// Redis failures fail open.
func (l *PaymentLimiter) AllowAgent(ctx context.Context, agentID string) error {
	if !l.Enabled() {
		return nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyPaymentInitiateAgent, strings.TrimSpace(agentID)), l.rate, l.burst)
	if err != nil {
		l.log.Warn("payment limiter unavailable", zap.String("agent_id", agentID), zap.Error(err))
		return nil
	}
	if !res.Allowed {
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, res.RetryAfter)
	}
	return nil
}
