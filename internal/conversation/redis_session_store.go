package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	sessionKeyPrefix     = "whatsapp_session:"
	sessionLockKeyPrefix = "whatsapp_session_lock:"

	defaultSessionRetention = 24 * time.Hour
	defaultLockTTL          = 30 * time.Second
	lockRetryInterval       = 50 * time.Millisecond
)

// unlockScript deletes the lock only when it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSessionStore keeps sessions in Redis so several API instances share them.
type RedisSessionStore struct {
	redis     *redis.Client
	tracer    trace.Tracer
	retention time.Duration
	lockTTL   time.Duration
}

// NewRedisSessionStore creates a store; retention bounds how long an abandoned
// session survives in Redis.
func NewRedisSessionStore(client *redis.Client, retention time.Duration) *RedisSessionStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if retention <= 0 {
		retention = defaultSessionRetention
	}
	return &RedisSessionStore{
		redis:     client,
		tracer:    otel.Tracer("clinic.internal.conversation.sessions"),
		retention: retention,
		lockTTL:   defaultLockTTL,
	}
}

var _ SessionStore = (*RedisSessionStore)(nil)

func sessionKey(key SessionKey) string {
	return sessionKeyPrefix + key.Tenant + ":" + key.Phone
}

func sessionLockKey(key SessionKey) string {
	return sessionLockKeyPrefix + key.Tenant + ":" + key.Phone
}

func (s *RedisSessionStore) Get(ctx context.Context, key SessionKey) (*Session, bool, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.sessions.get")
	defer span.End()

	raw, err := s.redis.Get(ctx, sessionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("conversation: get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("conversation: decode session: %w", err)
	}
	span.SetAttributes(attribute.String("conversation.state", string(sess.State)))
	return &sess, true, nil
}

func (s *RedisSessionStore) Put(ctx context.Context, sess *Session) error {
	ctx, span := s.tracer.Start(ctx, "conversation.sessions.put")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.state", string(sess.State)))

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("conversation: encode session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(sess.Key()), data, s.retention).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: put session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, key SessionKey) error {
	ctx, span := s.tracer.Start(ctx, "conversation.sessions.delete")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(key)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: delete session: %w", err)
	}
	return nil
}

// Lock acquires a SET NX lock with a TTL so a crashed holder cannot block the
// phone forever. It polls until acquired or ctx is done.
func (s *RedisSessionStore) Lock(ctx context.Context, key SessionKey) (func(), error) {
	lockKey := sessionLockKey(key)
	token := uuid.NewString()

	for {
		ok, err := s.redis.SetNX(ctx, lockKey, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("conversation: acquire session lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(releaseCtx, s.redis, []string{lockKey}, token).Err()
	}, nil
}
