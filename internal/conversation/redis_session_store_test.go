package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSessionStore(client, time.Hour), mr
}

func TestRedisSessionStoreRoundTrip(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	key := SessionKey{Tenant: "velasco", Phone: "59170000001"}

	if _, ok, err := store.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}

	now := time.Date(2024, 12, 10, 10, 0, 0, 0, time.UTC)
	sess := NewSession(key, now)
	sess.State = StateSlot
	sess.SpecialtyID = "sp-card"
	sess.Date = time.Date(2024, 12, 16, 0, 0, 0, 0, time.UTC)
	sess.Choices = []Choice{{ID: "sc-1", Start: "08:00", End: "09:00", DoctorName: "Ana Rojas"}}
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("put: %v", err)
	}

	redisKey := "whatsapp_session:velasco:59170000001"
	if !mr.Exists(redisKey) {
		t.Fatalf("expected key %s", redisKey)
	}
	if ttl := mr.TTL(redisKey); ttl != time.Hour {
		t.Fatalf("expected retention ttl, got %v", ttl)
	}

	got, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got.State != StateSlot || got.SpecialtyID != "sp-card" || len(got.Choices) != 1 {
		t.Fatalf("unexpected session %#v", got)
	}
	if !got.LastInteraction.Equal(now) || !got.Date.Equal(sess.Date) {
		t.Fatalf("timestamps not preserved: %v %v", got.LastInteraction, got.Date)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(redisKey) {
		t.Fatalf("expected key to be removed")
	}
}

func TestRedisSessionStoreCorruptPayload(t *testing.T) {
	store, mr := newTestRedisStore(t)
	if err := mr.Set("whatsapp_session:velasco:1", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := store.Get(context.Background(), SessionKey{Tenant: "velasco", Phone: "1"}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestRedisSessionStoreLock(t *testing.T) {
	store, mr := newTestRedisStore(t)
	key := SessionKey{Tenant: "velasco", Phone: "59170000001"}
	lockKey := "whatsapp_session_lock:velasco:59170000001"

	unlock, err := store.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists(lockKey) {
		t.Fatalf("expected lock key")
	}
	if ttl := mr.TTL(lockKey); ttl != defaultLockTTL {
		t.Fatalf("expected lock ttl %v, got %v", defaultLockTTL, ttl)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	if _, err := store.Lock(ctx, key); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected contended lock to time out, got %v", err)
	}

	unlock()
	if mr.Exists(lockKey) {
		t.Fatalf("expected unlock to release the key")
	}

	again, err := store.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}

func TestRedisSessionStoreUnlockKeepsForeignLock(t *testing.T) {
	store, mr := newTestRedisStore(t)
	key := SessionKey{Tenant: "velasco", Phone: "59170000001"}
	lockKey := "whatsapp_session_lock:velasco:59170000001"

	unlock, err := store.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// lock expired and another instance took it over
	if err := mr.Set(lockKey, "someone-else"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	unlock()

	if got, _ := mr.Get(lockKey); got != "someone-else" {
		t.Fatalf("unlock removed a lock it did not own, got %q", got)
	}
}
