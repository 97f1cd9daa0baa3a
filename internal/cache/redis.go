package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quotegate/internal/quote"
)

// Redis is the shared-backend Store for multi-instance deployments. Freshness
// is delegated to the server-side key expiry, so Get never returns a record
// older than the TTL. Writes are best-effort: a backend error drops the
// single record and is logged, matching the in-memory Put contract.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewRedis(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, log: log}
}

func redisKey(key quote.InstrumentKey) string {
	return fmt.Sprintf("quotes:%s:%s:%s", key.Exchange, key.Symbol, key.Kind)
}

func (r *Redis) Put(key quote.InstrumentKey, rec *quote.Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		r.log.Error("failed to encode record", zap.Stringer("key", key), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.rdb.Set(ctx, redisKey(key), payload, r.ttl).Err(); err != nil {
		r.log.Error("failed to cache record", zap.Stringer("key", key), zap.Error(err))
	}
}

func (r *Redis) Get(key quote.InstrumentKey) (*quote.Record, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, err := r.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.log.Error("failed to read cache", zap.Stringer("key", key), zap.Error(err))
		return nil, false
	}
	var rec quote.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		r.log.Error("failed to decode cached record", zap.Stringer("key", key), zap.Error(err))
		return nil, false
	}
	return &rec, true
}

func (r *Redis) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	iter := r.rdb.Scan(ctx, 0, "quotes:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			r.log.Error("failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		r.log.Error("cache clear scan failed", zap.Error(err))
	}
}
