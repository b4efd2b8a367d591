// Package providertoken caches short-lived provider access tokens and
// renews them at most once per provider at a time.
package providertoken

import (
	"context"
	"errors"
	"time"
)

type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token is usable at now with margin to spare.
func (t Token) Valid(now time.Time, margin time.Duration) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// Store persists tokens until their expiry.
type Store interface {
	Get(ctx context.Context, provider string) (Token, bool, error)
	Set(ctx context.Context, provider string, token Token, ttl time.Duration) error
	Delete(ctx context.Context, provider string) error
}

// Renewer obtains a fresh token from a provider.
type Renewer interface {
	Provider() string
	Renew(ctx context.Context) (Token, error)
}

var (
	ErrCredentialRenewalFailed = errors.New("credential_renewal_failed")
	ErrUnknownProvider         = errors.New("unknown_token_provider")
)
