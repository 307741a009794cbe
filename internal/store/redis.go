package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard is a short-lived per-key lock built on SET NX PX.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisGuard creates a guard storing locks under prefix.
func NewRedisGuard(client *redis.Client, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = "attendance:inflight:"
	}
	return &RedisGuard{client: client, prefix: prefix}
}

// Acquire takes the lock for key. ok is false when someone else holds it.
func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// the request context may already be done; use a fresh short one
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, g.client, []string{g.prefix + key}, token).Err()
	}
	return release, true, nil
}

// Tally keeps per-day attendance counters in Redis hashes.
type Tally struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTally creates a tally whose daily hashes expire after ttl.
func NewTally(client *redis.Client, ttl time.Duration) *Tally {
	if ttl <= 0 {
		ttl = 8 * 24 * time.Hour
	}
	return &Tally{client: client, ttl: ttl}
}

func tallyKey(date string) string { return "attendance:tally:" + date }

// Incr bumps the counter field "<courseID>:<action>" for date.
func (t *Tally) Incr(ctx context.Context, date, courseID, action string) (int64, error) {
	key := tallyKey(date)
	pipe := t.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, courseID+":"+action, 1)
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
