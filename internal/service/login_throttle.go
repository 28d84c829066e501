package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const loginThrottlePrefix = "login:failures:"

// LoginThrottle counts failed logins per username in Redis and locks the
// username once MaxAttempts failures fall inside the window. A nil throttle
// or nil client disables throttling.
type LoginThrottle struct {
	client      *redis.Client
	maxAttempts int64
	window      time.Duration
}

// NewLoginThrottle builds a throttle. maxAttempts <= 0 disables it.
func NewLoginThrottle(client *redis.Client, maxAttempts int, window time.Duration) *LoginThrottle {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &LoginThrottle{client: client, maxAttempts: int64(maxAttempts), window: window}
}

func (t *LoginThrottle) enabled() bool {
	return t != nil && t.client != nil && t.maxAttempts > 0
}

// Allow reports whether another login attempt is permitted for username.
func (t *LoginThrottle) Allow(ctx context.Context, username string) (bool, error) {
	if !t.enabled() {
		return true, nil
	}
	count, err := t.client.Get(ctx, throttleKey(username)).Int64()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("read login failures: %w", err)
	}
	return count < t.maxAttempts, nil
}

// RecordFailure increments the failure counter, starting the window on the
// first failure, and returns the current count.
func (t *LoginThrottle) RecordFailure(ctx context.Context, username string) (int64, error) {
	if !t.enabled() {
		return 0, nil
	}
	key := throttleKey(username)
	count, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("record login failure: %w", err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, key, t.window).Err(); err != nil {
			return count, fmt.Errorf("set login failure window: %w", err)
		}
	}
	return count, nil
}

// Reset clears the failure counter after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, username string) error {
	if !t.enabled() {
		return nil
	}
	return t.client.Del(ctx, throttleKey(username)).Err()
}

// RetryAfter returns the remaining lock time for username.
func (t *LoginThrottle) RetryAfter(ctx context.Context, username string) time.Duration {
	if !t.enabled() {
		return 0
	}
	ttl, err := t.client.TTL(ctx, throttleKey(username)).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

func throttleKey(username string) string {
	return loginThrottlePrefix + username
}
