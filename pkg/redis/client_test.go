package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/contentcms/pkg/config"
	"github.com/redis/go-redis/v9"
)

func TestLockLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.PipelineLockKey("file-1")

	ok, err := client.AcquireLock(ctx, key, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed ok=%v err=%v", ok, err)
	}
	ok, err = client.AcquireLock(ctx, key, "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("second holder should not acquire a held lock")
	}

	if err := client.ReleaseLock(ctx, key, "worker-b"); err != nil {
		t.Fatalf("release by non-owner failed: %v", err)
	}
	if _, held := mock.data[key]; !held {
		t.Fatalf("non-owner release must not free the lock")
	}

	if err := client.ReleaseLock(ctx, key, "worker-a"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ok, err = client.AcquireLock(ctx, key, "worker-b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release ok=%v err=%v", ok, err)
	}
}

func TestAcquireLockRejectsZeroTTL(t *testing.T) {
	client := &Client{store: newMockCmdable()}
	if _, err := client.AcquireLock(context.Background(), "k", "t", 0); err == nil {
		t.Fatal("expected ttl validation error")
	}
}

func TestGetMissingKeyIsMiss(t *testing.T) {
	client := &Client{store: newMockCmdable()}
	_, err := client.Get(context.Background(), client.SettingsCacheKey("watermark"))
	if !IsMiss(err) {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.PipelineLockKey("abc"); got != "cms:lock:pipeline:abc" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.SettingsCacheKey("watermark"); got != "cms:settings:watermark" {
		t.Fatalf("unexpected settings key %s", got)
	}
	if got := client.IdempotencyKey("POST|/api/v1/files", "k1"); got != "cms:idempotency:POST|/api/v1/files:k1" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.MaintenanceLockKey(""); got != "cms:lock:maintenance:local" {
		t.Fatalf("unexpected maintenance lock key %s", got)
	}
	if got := client.buildKey("lock", "", "x"); got != "cms:lock:x" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close without raw client should be a no-op: %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 2 || opts.PoolSize != 7 {
		t.Fatalf("unexpected options db=%d pool=%d", opts.DB, opts.PoolSize)
	}
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}
}

type mockCmdable struct {
	data map[string]string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: make(map[string]string)}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if len(keys) == 1 && len(args) == 1 && m.data[keys[0]] == fmt.Sprint(args[0]) {
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}
