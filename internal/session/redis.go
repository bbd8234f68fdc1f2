package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	LockoutTTL       = 15 * time.Minute
	LockoutThreshold = 5
)

// Registry mirrors live sessions into Redis and tracks failed-login
// counters. It is an accelerator beside the database, never the authority:
// losing Redis loses lockout protection and eviction hints, nothing else.
type Registry struct {
	client *redis.Client
}

func NewRegistry(client *redis.Client) *Registry {
	return &Registry{client: client}
}

// Track registers a session under its user's sorted set, scored by creation
// time so the oldest is always rank 0.
func (r *Registry) Track(ctx context.Context, userID, companyID, sessionID string, ttl time.Duration) error {
	userKey := fmt.Sprintf("user_sessions:%s", userID)
	sessionKey := fmt.Sprintf("session:%s", sessionID)

	now := float64(time.Now().Unix())
	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, userKey, redis.Z{Score: now, Member: sessionID})
	pipe.Expire(ctx, userKey, ttl)
	pipe.HSet(ctx, sessionKey, "company_id", companyID, "user_id", userID, "created_at", now)
	pipe.Expire(ctx, sessionKey, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Registry) Forget(ctx context.Context, userID, sessionID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf("session:%s", sessionID))
	pipe.ZRem(ctx, fmt.Sprintf("user_sessions:%s", userID), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// ForgetUser drops the user's whole registry entry and every mirrored
// session key.
func (r *Registry) ForgetUser(ctx context.Context, userID string) error {
	userKey := fmt.Sprintf("user_sessions:%s", userID)

	sessionIDs, err := r.client.ZRange(ctx, userKey, 0, -1).Result()
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Del(ctx, userKey)
	for _, sid := range sessionIDs {
		pipe.Del(ctx, fmt.Sprintf("session:%s", sid))
	}
	_, err = pipe.Exec(ctx)
	return err
}

// CheckLockout reports whether this company/username pair is locked out.
func (r *Registry) CheckLockout(ctx context.Context, companyID, username string) (bool, error) {
	key := fmt.Sprintf("lockout:%s:%s", companyID, username)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "locked", nil
}

// RecordFailedAttempt bumps the failure counter and hard-locks the account
// for LockoutTTL once the threshold is hit. The counter window starts at
// the first failure.
func (r *Registry) RecordFailedAttempt(ctx context.Context, companyID, username string) error {
	key := fmt.Sprintf("lockout_count:%s:%s", companyID, username)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		r.client.Expire(ctx, key, LockoutTTL)
	}
	if count >= LockoutThreshold {
		lockKey := fmt.Sprintf("lockout:%s:%s", companyID, username)
		r.client.Set(ctx, lockKey, "locked", LockoutTTL)
		r.client.Del(ctx, key)
	}
	return nil
}

// ClearFailures resets the counter after a successful login.
func (r *Registry) ClearFailures(ctx context.Context, companyID, username string) error {
	return r.client.Del(ctx, fmt.Sprintf("lockout_count:%s:%s", companyID, username)).Err()
}
