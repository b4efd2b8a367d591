package adapters

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"

	"github.com/smallbiznis/tontine/internal/payment/domain"
)

const SignatureHeader = "X-Signature"

type Registry struct {
	adapters map[string]domain.Adapter
}

func NewRegistry(adapters ...domain.Adapter) *Registry {
	registry := &Registry{adapters: map[string]domain.Adapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		provider := Normalize(adapter.Provider())
		if provider == "" {
			continue
		}
		registry.adapters[provider] = adapter
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	_, err := r.Adapter(provider)
	return err == nil
}

func (r *Registry) Adapter(provider string) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	adapter, ok := r.adapters[Normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}

func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// VerifySignature checks the hex HMAC-SHA256 of payload in X-Signature. An
// empty secret disables the check.
func VerifySignature(secret string, payload []byte, headers http.Header) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	signature := strings.TrimSpace(headers.Get(SignatureHeader))
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return domain.ErrInvalidSignature
	}
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(Sign(secret, payload))) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
