package cron

import (
	"context"
	"testing"
	"time"
)

type memoryRedis struct {
	values map[string]string
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockIsPerJob(t *testing.T) {
	store := &memoryRedis{values: map[string]string{}}
	first, err := NewRedisLock(store, "of:cron:test", 0)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, _ := NewRedisLock(store, "of:cron:test", 0)
	ctx := context.Background()

	if ok, _ := first.Acquire(ctx, "cleanup"); !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if ok, _ := second.Acquire(ctx, "cleanup"); ok {
		t.Fatal("expected contended acquire to fail")
	}
	if ok, _ := second.Acquire(ctx, "payment-expiry"); !ok {
		t.Fatal("expected a different job to be lockable")
	}

	if err := second.Release(ctx, "cleanup"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if _, ok := store.values["of:cron:test:cleanup"]; !ok {
		t.Fatal("non-owner release must not delete the key")
	}
	if err := first.Release(ctx, "cleanup"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := store.values["of:cron:test:cleanup"]; ok {
		t.Fatal("owner release should delete the key")
	}
}

func TestRedisLockReleaseAfterTakeover(t *testing.T) {
	store := &memoryRedis{values: map[string]string{}}
	lock, _ := NewRedisLock(store, "of:cron:test", time.Minute)
	ctx := context.Background()

	if ok, _ := lock.Acquire(ctx, "cleanup"); !ok {
		t.Fatal("expected acquire")
	}
	// the ttl lapsed and another instance owns the key now
	store.values["of:cron:test:cleanup"] = "other-instance"

	if err := lock.Release(ctx, "cleanup"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["of:cron:test:cleanup"] != "other-instance" {
		t.Fatal("release must leave a foreign owner alone")
	}
}
