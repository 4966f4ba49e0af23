package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// RedisRemote stores encoded cache values in Redis under a key prefix and
// publishes every invalidation so other replicas drop their local copies.
type RedisRemote struct {
	client  *redis.Client
	prefix  string
	channel string
	origin  string
}

var (
	_ Remote   = (*RedisRemote)(nil)
	_ Notifier = (*RedisRemote)(nil)
)

// NewRedisRemote connects to Redis and verifies the connection.
func NewRedisRemote(addr, password string, db int) (*RedisRemote, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisRemote{
		client:  client,
		prefix:  "teambuilder:cache:",
		channel: "teambuilder:cache-invalidate",
		origin:  uuid.NewString(),
	}, nil
}

// Get implements Remote.
func (r *RedisRemote) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return raw, err
}

// Set implements Remote.
func (r *RedisRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

// Delete implements Remote.
func (r *RedisRemote) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = r.prefix + key
	}
	if err := r.client.Del(ctx, prefixed...).Err(); err != nil {
		return err
	}
	return r.publish(ctx, Invalidation{Keys: keys})
}

// Reset removes every key under the prefix.
func (r *RedisRemote) Reset(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return err
		}
	}
	return r.publish(ctx, Invalidation{Reset: true})
}

func (r *RedisRemote) publish(ctx context.Context, inv Invalidation) error {
	inv.Origin = r.origin
	payload, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Listen subscribes to invalidations from other replicas and hands each to
// fn until ctx is done. This replica's own messages are skipped.
func (r *RedisRemote) Listen(ctx context.Context, fn func(Invalidation)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var inv Invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				continue
			}
			if inv.Origin == r.origin {
				continue
			}
			fn(inv)
		}
	}
}

// Close releases the connection pool.
func (r *RedisRemote) Close() error {
	return r.client.Close()
}
