package otp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCodes stores records as JSON with a redis-side TTL, so expiry works
// across process restarts and multiple API instances.
type RedisCodes struct {
	client *redis.Client
}

func NewRedisCodes(addr, password string) *RedisCodes {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisCodes{client: c}
}

func (r *RedisCodes) Put(ctx context.Context, purpose, email string, rec Record, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key(purpose, email), b, ttl).Err()
}

func (r *RedisCodes) Get(ctx context.Context, purpose, email string) (Record, error) {
	b, err := r.client.Get(ctx, key(purpose, email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNoCode
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *RedisCodes) Delete(ctx context.Context, purpose, email string) error {
	return r.client.Del(ctx, key(purpose, email)).Err()
}

func (r *RedisCodes) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisCodes) Close() error { return r.client.Close() }
