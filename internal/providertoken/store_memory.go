package providertoken

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const memoryCleanupInterval = 5 * time.Minute

type MemoryStore struct {
	cache *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: gocache.New(gocache.NoExpiration, memoryCleanupInterval)}
}

func (s *MemoryStore) Get(_ context.Context, provider string) (Token, bool, error) {
	value, ok := s.cache.Get(provider)
	if !ok {
		return Token{}, false, nil
	}
	token, ok := value.(Token)
	return token, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, provider string, token Token, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.cache.Set(provider, token, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, provider string) error {
	s.cache.Delete(provider)
	return nil
}
