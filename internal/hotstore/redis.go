package hotstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ConnectAttempts and ConnectBackoff bound the startup retry loop.
	ConnectAttempts = 6
	ConnectBackoff  = 10 * time.Second

	expiredEventChannel = "__keyevent@%d__:expired"
)

// promoteScript performs DEL(dirty) + SETEX(clean) server-side so no other
// client can interleave between the two steps.
var promoteScript = redis.NewScript(`
local dirty_key = KEYS[1]
local clean_key = KEYS[2]
local value = ARGV[1]
local ttl_sec = tonumber(ARGV[2])
redis.call('del', dirty_key)
redis.call('setex', clean_key, ttl_sec, value)
return 1
`)

// RedisStore implements Store on a go-redis client. The client's internal
// pooling makes a single RedisStore safe to share across the middleware and
// both workers.
type RedisStore struct {
	client *redis.Client
	db     int
}

// Connect opens a Redis connection, enables expired-key notifications, and
// returns a RedisStore. The initial ping is retried up to attempts times at
// backoff intervals; on ultimate failure the error is returned and the
// caller is expected to abort startup.
func Connect(ctx context.Context, url string, attempts int, backoff time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("hotstore: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	if attempts <= 0 {
		attempts = ConnectAttempts
	}
	if backoff <= 0 {
		backoff = ConnectBackoff
	}
	var pingErr error
	for i := 1; i <= attempts; i++ {
		pingErr = client.Ping(ctx).Err()
		if pingErr == nil {
			break
		}
		log.Printf("[hotstore] connect attempt %d/%d failed: %v", i, attempts, pingErr)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("hotstore: unreachable after %d attempts: %w", attempts, pingErr)
	}

	// The reactor depends on expired-key events; a refusal here is fatal.
	if err := client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("hotstore: enable keyspace notifications: %w", err)
	}

	return NewRedisStore(client, opt.DB), nil
}

// NewRedisStore wraps an already-connected client. db selects the keyspace
// notification channel.
func NewRedisStore(client *redis.Client, db int) *RedisStore {
	return &RedisStore{client: client, db: db}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	return s.client.Del(ctx, keys...).Result()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

// ScanKeys uses SCAN rather than KEYS so enumeration never blocks the
// keyspace for other clients.
func (s *RedisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *RedisStore) PromoteDirty(ctx context.Context, dirtyKey, cleanKey, value string, ttl time.Duration) error {
	ttlSec := int64(ttl / time.Second)
	if ttlSec < 1 {
		ttlSec = 1
	}
	return promoteScript.Run(ctx, s.client, []string{dirtyKey, cleanKey}, value, ttlSec).Err()
}

func (s *RedisStore) SubscribeExpired(ctx context.Context) (ExpirySubscription, error) {
	channel := fmt.Sprintf(expiredEventChannel, s.db)
	pubsub := s.client.Subscribe(ctx, channel)

	// Force the SUBSCRIBE round trip so a broken connection surfaces now,
	// not on the first event.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("hotstore: subscribe %s: %w", channel, err)
	}

	sub := &redisExpirySub{
		pubsub: pubsub,
		ch:     make(chan string, 128),
		done:   make(chan struct{}),
	}
	go sub.forward()
	return sub, nil
}

type redisExpirySub struct {
	pubsub *redis.PubSub
	ch     chan string
	done   chan struct{}
}

func (s *redisExpirySub) forward() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		select {
		case s.ch <- msg.Payload:
		case <-s.done:
			return
		}
	}
}

func (s *redisExpirySub) Events() <-chan string {
	return s.ch
}

func (s *redisExpirySub) Close() error {
	close(s.done)
	return s.pubsub.Close()
}
