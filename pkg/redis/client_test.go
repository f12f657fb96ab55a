package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed on first request")
	}
	if count != 1 {
		t.Fatalf("expected counter 1 got %d", count)
	}
	if got := mock.ttls["of:rate_limit:test-scope"]; got != time.Second {
		t.Fatalf("expected window ttl on first increment, got %v", got)
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}
	if mock.pexpires != 1 {
		t.Fatalf("window should only start once, got %d", mock.pexpires)
	}

	allowed, _, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestSetNXDedupesAndDelReleases(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.IdempotencyKey("gateway_webhook", "evt_1")

	first, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || !first {
		t.Fatalf("expected first SetNX to win, got %v %v", first, err)
	}
	second, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || second {
		t.Fatalf("expected duplicate SetNX to lose, got %v %v", second, err)
	}
	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, key); !IsNil(err) {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestIncrWithTTLRejectsNonPositiveTTL(t *testing.T) {
	client := &Client{store: newMockCmdable()}
	if _, err := client.IncrWithTTL(context.Background(), "k", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestCompareAndDeleteOnlyRemovesOwnedValue(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("cron:local")
	mock.data[key] = "instance-b"

	deleted, err := client.CompareAndDelete(ctx, key, "instance-a")
	if err != nil || deleted {
		t.Fatalf("foreign owner must keep the lock, got %v %v", deleted, err)
	}
	if _, ok := mock.data[key]; !ok {
		t.Fatal("lock should still exist")
	}

	deleted, err = client.CompareAndDelete(ctx, key, "instance-b")
	if err != nil || !deleted {
		t.Fatalf("owner should release the lock, got %v %v", deleted, err)
	}
	if _, ok := mock.data[key]; ok {
		t.Fatal("lock should be gone")
	}
}

func TestScriptFallsBackToEvalOnNoScript(t *testing.T) {
	mock := newMockCmdable()
	mock.flushed = true
	client := &Client{store: mock}

	count, err := client.IncrWithTTL(context.Background(), "k", time.Minute)
	if err != nil || count != 1 {
		t.Fatalf("expected eval fallback to count 1, got %d %v", count, err)
	}
	if mock.evals != 1 {
		t.Fatalf("expected one EVAL after NOSCRIPT, got %d", mock.evals)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected ping on empty client to fail")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on empty client should be a no-op, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "of:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "of:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.LockKey("cron-worker"); got != "of:lock:cron-worker" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.IdempotencyKey("balance", " "); got != "of:idempotency:balance" {
		t.Fatalf("key should skip blank parts, got %s", got)
	}
	if got := client.RevokedTokenKey("jti-1"); got != "of:revoked:jti-1" {
		t.Fatalf("unexpected revoked key %s", got)
	}
}

// mockCmdable runs the client's scripts in Go. Only the script entry points
// the client uses are implemented; the embedded Scripter panics otherwise.
type mockCmdable struct {
	redis.Scripter
	data     map[string]string
	incr     map[string]int64
	ttls     map[string]time.Duration
	pexpires int
	evals    int
	flushed  bool
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockCmdable) EvalSha(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	if m.flushed {
		return redis.NewCmdResult(nil, noScriptError{})
	}
	return m.run(sha, keys, args)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	m.evals++
	m.flushed = false
	return m.run(redis.NewScript(script).Hash(), keys, args)
}

func (m *mockCmdable) run(sha string, keys []string, args []any) *redis.Cmd {
	switch sha {
	case incrWindow.Hash():
		m.incr[keys[0]]++
		if m.incr[keys[0]] == 1 {
			m.pexpires++
			m.ttls[keys[0]] = time.Duration(args[0].(int64)) * time.Millisecond
		}
		return redis.NewCmdResult(m.incr[keys[0]], nil)
	case compareAndDelete.Hash():
		if v, ok := m.data[keys[0]]; ok && v == fmt.Sprint(args[0]) {
			delete(m.data, keys[0])
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unknown script %s", sha))
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

// noScriptError is what a server answers after SCRIPT FLUSH.
type noScriptError struct{}

func (noScriptError) Error() string { return "NOSCRIPT No matching script. Please use EVAL." }
func (noScriptError) RedisError()   {}
