// Package cache keeps the most recent location fix, optionally mirrored to Redis
// so other processes can read it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joeblew999/plat-map/internal/location"
	"github.com/joeblew999/plat-map/internal/logger"
)

// DefaultKey is the Redis key the last fix is stored under.
const DefaultKey = "platmap:location:last"

// OpenRedis returns a client for addr, or nil when addr is empty.
func OpenRedis(addr, pass string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
}

// OpenRedisFromEnv reads REDIS_ADDR, REDIS_PASS and REDIS_DB. A bad REDIS_DB falls back to 0.
func OpenRedisFromEnv() *redis.Client {
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			db = n
		}
	}
	return OpenRedis(os.Getenv("REDIS_ADDR"), os.Getenv("REDIS_PASS"), db)
}

// LastFix is a location.Listener remembering the newest fix.
type LastFix struct {
	mu  sync.RWMutex
	fix location.Fix
	ok  bool

	rc      *redis.Client
	key     string
	ttl     time.Duration
	timeout time.Duration
	log     *slog.Logger
}

// NewLastFix creates the cache. rc may be nil.
func NewLastFix(rc *redis.Client, ttl time.Duration) *LastFix {
	return &LastFix{
		rc:      rc,
		key:     DefaultKey,
		ttl:     ttl,
		timeout: 500 * time.Millisecond,
		log:     logger.L(),
	}
}

func (c *LastFix) OnLocationChanged(f location.Fix) {
	c.mu.Lock()
	c.fix, c.ok = f, true
	c.mu.Unlock()

	if c.rc == nil {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		c.log.Error("lastfix_encode_error", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.rc.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		c.log.Warn("lastfix_redis_set_error", "err", err)
	}
}

func (c *LastFix) OnStatusChanged(location.Status) {}

// Get returns the newest fix seen by this process, falling back to Redis.
func (c *LastFix) Get(ctx context.Context) (location.Fix, bool, error) {
	c.mu.RLock()
	f, ok := c.fix, c.ok
	c.mu.RUnlock()
	if ok || c.rc == nil {
		return f, ok, nil
	}

	data, err := c.rc.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return f, false, nil
	}
	if err != nil {
		return f, false, fmt.Errorf("reading last fix: %w", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, false, fmt.Errorf("decoding last fix: %w", err)
	}
	return f, true, nil
}

var _ location.Listener = (*LastFix)(nil)
