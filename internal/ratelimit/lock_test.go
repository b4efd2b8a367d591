package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalKeyLockerSerializesSameKey(t *testing.T) {
	locker := NewLocalKeyLocker()

	var inside int32
	var maxSeen int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), "sub-1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
	if len(locker.entries) != 0 {
		t.Fatalf("expected entries to be released, got %d", len(locker.entries))
	}
}

func TestLocalKeyLockerDistinctKeysDoNotBlock(t *testing.T) {
	locker := NewLocalKeyLocker()

	releaseA, err := locker.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	releaseB, err := locker.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	releaseB()
}

func TestLocalKeyLockerHonorsContext(t *testing.T) {
	locker := NewLocalKeyLocker()

	release, err := locker.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "a"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	release()
	release()

	again, err := locker.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	again()
}

func TestNewKeyLockerFallsBackWithoutRedis(t *testing.T) {
	if _, ok := NewKeyLocker(nil, nil).(*LocalKeyLocker); !ok {
		t.Fatalf("expected local key locker without redis")
	}
}

func TestNilLockerIsSafe(t *testing.T) {
	var l *Locker
	if _, _, err := l.TryLock(context.Background(), "k", time.Second); err == nil {
		t.Fatalf("expected error from nil locker")
	}
	if err := l.Release(context.Background(), "k", "token"); err != nil {
		t.Fatalf("expected nil release on nil locker, got %v", err)
	}
}
