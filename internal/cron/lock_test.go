package cron

import (
	"context"
	"testing"
	"time"
)

type fakeTokenLocker struct {
	holders map[string]string
	ttl     time.Duration
}

func (f *fakeTokenLocker) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if _, held := f.holders[key]; held {
		return false, nil
	}
	f.holders[key] = token
	f.ttl = ttl
	return true, nil
}

func (f *fakeTokenLocker) ReleaseLock(ctx context.Context, key, token string) error {
	if f.holders[key] == token {
		delete(f.holders, key)
	}
	return nil
}

func TestRedisLockIsExclusiveAcrossRunners(t *testing.T) {
	store := &fakeTokenLocker{holders: map[string]string{}}
	first, err := NewRedisLock(store, "cms:lock:maintenance:test", 0)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, err := NewRedisLock(store, "cms:lock:maintenance:test", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	ctx := context.Background()

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected first acquire ok=%v err=%v", ok, err)
	}
	if store.ttl != defaultLockTTL {
		t.Fatalf("expected default ttl, got %s", store.ttl)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatalf("second runner must not acquire a held lock")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release without ownership: %v", err)
	}
	if _, held := store.holders["cms:lock:maintenance:test"]; !held {
		t.Fatalf("non-owner release must not free the lock")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatalf("expected lock to be free after owner release")
	}
}

func TestNewRedisLockValidatesInput(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", 0); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := NewRedisLock(&fakeTokenLocker{}, "", 0); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
