// Package ratelimit implements a Redis-backed sliding window limiter. A
// sorted set per key holds one member per admitted request, scored by epoch
// millisecond; every check trims entries older than the window before
// counting, so the window slides with the clock instead of resetting at
// fixed boundaries.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

var ErrRedisUnavailable = errors.New("ratelimit: redis unavailable")

// Limit is one window configuration: Rate requests per Window.
type Limit struct {
	Rate   int
	Window time.Duration
}

// UnmarshalYAML accepts {rate: 5, window: 15m}.
func (l *Limit) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Rate   int    `yaml:"rate"`
		Window string `yaml:"window"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	w, err := time.ParseDuration(raw.Window)
	if err != nil {
		return err
	}
	l.Rate = raw.Rate
	l.Window = w
	return nil
}

// Decision is the outcome of one check, with the fields the X-RateLimit
// response headers need.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Scores are client-supplied epoch milliseconds; scripts must not call TIME.
var slidingWindow = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, tonumber(ARGV[1]) - tonumber(ARGV[2]))
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
	return {0, count}
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {1, count + 1}
`)

type Limiter struct {
	client *redis.Client
	salt   string
}

// NewLimiter builds a limiter over an established client. The salt keys the
// IP hashes; instances sharing a Redis must share the salt.
func NewLimiter(client *redis.Client, salt string) *Limiter {
	return &Limiter{client: client, salt: salt}
}

// HashIP derives a stable key for an address without storing the address.
func (l *Limiter) HashIP(ip string) string {
	sum := sha256.Sum256([]byte(l.salt + ip))
	return hex.EncodeToString(sum[:16])
}

// Check admits or rejects one request against the key's window. Any Redis
// failure comes back as ErrRedisUnavailable; the caller decides whether
// that fails open or closed.
func (l *Limiter) Check(ctx context.Context, key string, limit Limit) (*Decision, error) {
	now := time.Now()
	res, err := slidingWindow.Run(ctx, l.client,
		[]string{key},
		now.UnixMilli(), limit.Window.Milliseconds(), limit.Rate, uuid.NewString(),
	).Slice()
	if err != nil || len(res) != 2 {
		return nil, ErrRedisUnavailable
	}
	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)

	d := &Decision{
		Allowed:   allowed == 1,
		Limit:     limit.Rate,
		Remaining: limit.Rate - int(count),
		Reset:     now.Add(limit.Window),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = limit.Window
	}
	return d, nil
}
