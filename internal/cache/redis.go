// Package cache provides the Redis-backed referral code cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/SinaHo/referral-backend/internal/config"
	"github.com/SinaHo/referral-backend/internal/model"
)

const (
	keyPrefix     = "referral_code:owner:"
	versionPrefix = "referral_code:version:"

	// versionTTL outlives any entry so a bumped version is still there when a
	// slow lookup tries to store its result.
	versionTTL = 24 * time.Hour
)

// NewRedisClient connects to Redis and pings it once.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// ReferralCodeCache stores referral code lookups keyed by owner email.
// Redis failures are logged and treated as misses.
type ReferralCodeCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewReferralCodeCache(rdb *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *ReferralCodeCache {
	return &ReferralCodeCache{rdb: rdb, ttl: ttl, logger: logger}
}

func Key(email string) string {
	return keyPrefix + email
}

func VersionKey(email string) string {
	return versionPrefix + email
}

// Get returns the cached code, or a miss together with the owner's current
// version for a later Set.
func (c *ReferralCodeCache) Get(ctx context.Context, email string) (*model.ReferralCode, int64, bool) {
	vals, err := c.rdb.MGet(ctx, Key(email), VersionKey(email)).Result()
	if err != nil {
		c.logger.Warnw("referral cache get failed", "email", email, "error", err)
		return nil, 0, false
	}

	version, err := parseVersion(vals[1])
	if err != nil {
		c.logger.Warnw("referral cache version corrupt", "email", email, "error", err)
		return nil, 0, false
	}

	raw, ok := vals[0].(string)
	if !ok {
		return nil, version, false
	}
	var rc model.ReferralCode
	if err := json.Unmarshal([]byte(raw), &rc); err != nil {
		c.logger.Warnw("referral cache entry corrupt", "email", email, "error", err)
		c.Invalidate(ctx, email)
		return nil, version + 1, false
	}
	return &rc, version, true
}

// Set stores rc unless the owner's version moved past version since Get.
func (c *ReferralCodeCache) Set(ctx context.Context, email string, version int64, rc *model.ReferralCode) {
	raw, err := json.Marshal(rc)
	if err != nil {
		c.logger.Warnw("referral cache encode failed", "email", email, "error", err)
		return
	}

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, VersionKey(email)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, Key(email), raw, c.ttl)
			return nil
		})
		return err
	}, VersionKey(email))

	switch {
	case err == nil:
	case errors.Is(err, errStaleVersion), errors.Is(err, redis.TxFailedErr):
		c.logger.Debugw("referral cache set skipped, entry invalidated meanwhile", "email", email)
	default:
		c.logger.Warnw("referral cache set failed", "email", email, "error", err)
	}
}

// Invalidate drops the entry and bumps the owner's version.
func (c *ReferralCodeCache) Invalidate(ctx context.Context, email string) {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, VersionKey(email))
		pipe.Expire(ctx, VersionKey(email), versionTTL)
		pipe.Del(ctx, Key(email))
		return nil
	})
	if err != nil {
		c.logger.Warnw("referral cache invalidate failed", "email", email, "error", err)
	}
}

var errStaleVersion = errors.New("referral cache version changed")

func parseVersion(v interface{}) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected version type %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}
