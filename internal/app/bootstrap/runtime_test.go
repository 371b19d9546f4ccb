package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	appconfig "github.com/endovel/clinic-platform/internal/config"
	"github.com/endovel/clinic-platform/internal/conversation"
	"github.com/endovel/clinic-platform/pkg/logging"
)

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}
	if client := BuildRedisClient(context.Background(), nil, logging.New("error"), false); client != nil {
		t.Fatalf("expected nil client for nil config")
	}
}

func TestBuildRedisClientVerifiesConnection(t *testing.T) {
	mr := miniredis.RunT(t)

	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.New("error"), true)
	if client == nil {
		t.Fatalf("expected client for reachable redis")
	}
	defer client.Close()

	if client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: "127.0.0.1:1"}, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client once redis is down")
	}
}

func TestBuildSessionStoreMemoryByDefault(t *testing.T) {
	store, err := BuildSessionStore(context.Background(), &appconfig.Config{}, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*conversation.MemorySessionStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestBuildSessionStoreRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{SessionStore: SessionStoreRedis, RedisAddr: mr.Addr(), SessionRetention: time.Hour}

	store, err := BuildSessionStore(context.Background(), cfg, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*conversation.RedisSessionStore); !ok {
		t.Fatalf("expected redis store, got %T", store)
	}
}

func TestBuildSessionStoreErrors(t *testing.T) {
	if _, err := BuildSessionStore(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := BuildSessionStore(context.Background(), &appconfig.Config{SessionStore: "dynamo"}, nil); err == nil {
		t.Fatalf("expected error for unknown store")
	}

	cfg := &appconfig.Config{SessionStore: SessionStoreRedis, RedisAddr: "127.0.0.1:1"}
	if _, err := BuildSessionStore(context.Background(), cfg, logging.New("error")); err == nil {
		t.Fatalf("expected error when redis is unreachable")
	}
}
