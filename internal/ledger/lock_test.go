package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryRunLockAcquireRelease(t *testing.T) {
	lock := NewMemoryRunLock()
	ctx := context.Background()

	token, ok, err := lock.TryAcquire(ctx, 42, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if token == "" {
		t.Fatal("expected a non-empty lock token")
	}

	_, ok, err = lock.TryAcquire(ctx, 42, time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("expected second acquire to fail while lock held")
	}

	// Another user is unaffected.
	_, ok, err = lock.TryAcquire(ctx, 43, time.Minute)
	if err != nil || !ok {
		t.Fatalf("other user acquire: ok=%v err=%v", ok, err)
	}

	if err := lock.Release(ctx, 42, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	_, ok, err = lock.TryAcquire(ctx, 42, time.Minute)
	if err != nil || !ok {
		t.Fatalf("reacquire after release: ok=%v err=%v", ok, err)
	}
}

func TestMemoryRunLockExpires(t *testing.T) {
	lock := NewMemoryRunLock()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lock.clock = func() time.Time { return now }
	ctx := context.Background()

	if _, ok, _ := lock.TryAcquire(ctx, 42, time.Minute); !ok {
		t.Fatal("expected acquire to succeed")
	}
	if _, ok, _ := lock.TryAcquire(ctx, 42, time.Minute); ok {
		t.Fatal("expected acquire to fail before TTL expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := lock.TryAcquire(ctx, 42, time.Minute); !ok {
		t.Fatal("expected acquire to succeed after TTL expiry")
	}
}

func TestMemoryRunLockStaleReleaseKeepsNewOwner(t *testing.T) {
	lock := NewMemoryRunLock()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lock.clock = func() time.Time { return now }
	ctx := context.Background()

	staleToken, ok, _ := lock.TryAcquire(ctx, 42, time.Minute)
	if !ok {
		t.Fatal("expected acquire to succeed")
	}

	// The first run outlives its TTL and a newer run takes the lock.
	now = now.Add(2 * time.Minute)
	_, ok, _ = lock.TryAcquire(ctx, 42, time.Minute)
	if !ok {
		t.Fatal("expected acquire after expiry")
	}

	if err := lock.Release(ctx, 42, staleToken); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, ok, _ := lock.TryAcquire(ctx, 42, time.Minute); ok {
		t.Fatal("stale release must not free the newer run's lock")
	}
}

func TestRedisRunLock(t *testing.T) {
	srv := miniredis.RunT(t)

	lock, err := NewRedisRunLock("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("new redis run lock: %v", err)
	}
	defer lock.Close()
	ctx := context.Background()

	token, ok, err := lock.TryAcquire(ctx, 42, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if !srv.Exists("twin:runlock:42") {
		t.Fatal("expected lock key in redis")
	}

	_, ok, err = lock.TryAcquire(ctx, 42, time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("expected second acquire to fail while key exists")
	}

	if err := lock.Release(ctx, 42, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if srv.Exists("twin:runlock:42") {
		t.Fatal("expected lock key removed after release")
	}

	_, ok, err = lock.TryAcquire(ctx, 42, time.Minute)
	if err != nil || !ok {
		t.Fatalf("reacquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisRunLockTTLExpiry(t *testing.T) {
	srv := miniredis.RunT(t)

	lock, err := NewRedisRunLock("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("new redis run lock: %v", err)
	}
	defer lock.Close()
	ctx := context.Background()

	if _, ok, _ := lock.TryAcquire(ctx, 42, time.Second); !ok {
		t.Fatal("expected acquire to succeed")
	}

	srv.FastForward(2 * time.Second)

	if _, ok, _ := lock.TryAcquire(ctx, 42, time.Second); !ok {
		t.Fatal("expected acquire to succeed after TTL expiry")
	}
}

func TestRedisRunLockStaleReleaseKeepsNewOwner(t *testing.T) {
	srv := miniredis.RunT(t)

	lock, err := NewRedisRunLock("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("new redis run lock: %v", err)
	}
	defer lock.Close()
	ctx := context.Background()

	staleToken, ok, _ := lock.TryAcquire(ctx, 42, time.Second)
	if !ok {
		t.Fatal("expected acquire to succeed")
	}

	srv.FastForward(2 * time.Second)

	newToken, ok, _ := lock.TryAcquire(ctx, 42, time.Minute)
	if !ok {
		t.Fatal("expected acquire after expiry")
	}

	if err := lock.Release(ctx, 42, staleToken); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if !srv.Exists("twin:runlock:42") {
		t.Fatal("stale release must not free the newer run's lock")
	}

	if err := lock.Release(ctx, 42, newToken); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if srv.Exists("twin:runlock:42") {
		t.Fatal("expected owner release to remove the key")
	}
}
