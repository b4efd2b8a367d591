package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrLockTimeout = errors.New("lock_timeout")

// KeyLocker serializes work on a single key, typically a subscription id.
type KeyLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// RedisKeyLocker polls a redis SETNX lock until it is acquired or the wait
// budget runs out. The TTL bounds how long a crashed holder blocks others.
type RedisKeyLocker struct {
	locker *Locker
	log    *zap.Logger
	prefix string
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

func NewRedisKeyLocker(client *redis.Client, log *zap.Logger, prefix string, ttl, wait time.Duration) *RedisKeyLocker {
	if client == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisKeyLocker{
		locker: NewLocker(client),
		log:    log.Named("ratelimit.lock"),
		prefix: prefix,
		ttl:    ttl,
		wait:   wait,
		poll:   25 * time.Millisecond,
	}
}

func (l *RedisKeyLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := l.prefix + key
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		token, ok, err := l.locker.TryLock(waitCtx, lockKey, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", lockKey, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := l.locker.Release(releaseCtx, lockKey, token); err != nil {
					l.log.Warn("lock release failed", zap.String("key", lockKey), zap.Error(err))
				}
			}, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, lockKey)
		case <-ticker.C:
		}
	}
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// LocalKeyLocker is the single-process fallback used when redis is not configured.
type LocalKeyLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocalKeyLocker() *LocalKeyLocker {
	return &LocalKeyLocker{entries: make(map[string]*localEntry)}
}

func (l *LocalKeyLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, entry)
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.unref(key, entry)
		})
	}, nil
}

func (l *LocalKeyLocker) unref(key string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}
