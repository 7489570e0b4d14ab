// Package cache keeps recently read coupons in Redis in front of the store
// of record.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
)

// errMiss is returned by Store.Get for absent keys.
var errMiss = errors.New("cache miss")

// Store is the key-value surface the coupon cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errMiss
	}
	return b, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository is a read-through cache for coupon lookups by code.
// Writes go to the wrapped repository first and then evict the code, so a
// stale entry lives at most until the next write or the TTL.
//
// Cache failures never fail a request: reads fall back to the wrapped
// repository and the error is logged.
type CouponRepository struct {
	next  coupon.Repository
	store Store
	ttl   time.Duration
}

// NewCouponRepository wraps next with a cache kept in store.
func NewCouponRepository(next coupon.Repository, store Store, ttl time.Duration) *CouponRepository {
	return &CouponRepository{next: next, store: store, ttl: ttl}
}

func couponKey(storeID int64, code string) string {
	return fmt.Sprintf("ledger:coupon:%d:%s", storeID, strings.ToUpper(strings.TrimSpace(code)))
}

// GetByCode serves the coupon from the cache or loads and caches it.
func (r *CouponRepository) GetByCode(ctx context.Context, storeID int64, code string) (coupon.Coupon, error) {
	key := couponKey(storeID, code)
	lg := zctx.From(ctx)

	b, err := r.store.Get(ctx, key)
	switch {
	case err == nil:
		c, err := decodeCoupon(b)
		if err == nil {
			return c, nil
		}
		lg.Warn("Dropping undecodable coupon cache entry", zap.String("key", key), zap.Error(err))
		r.evict(ctx, key)
	case !errors.Is(err, errMiss):
		lg.Warn("Coupon cache read failed", zap.String("key", key), zap.Error(err))
	}

	c, err := r.next.GetByCode(ctx, storeID, code)
	if err != nil {
		return coupon.Coupon{}, err
	}
	if err := r.store.Set(ctx, key, encodeCoupon(c), r.ttl); err != nil {
		lg.Warn("Coupon cache write failed", zap.String("key", key), zap.Error(err))
	}
	return c, nil
}

func (r *CouponRepository) evict(ctx context.Context, keys ...string) {
	if err := r.store.Del(ctx, keys...); err != nil {
		zctx.From(ctx).Warn("Coupon cache eviction failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// Create stores the coupon and drops any entry left under its code.
func (r *CouponRepository) Create(ctx context.Context, c coupon.Coupon) (coupon.Coupon, error) {
	created, err := r.next.Create(ctx, c)
	if err != nil {
		return coupon.Coupon{}, err
	}
	r.evict(ctx, couponKey(created.StoreID, created.Code))
	return created, nil
}

// Modify updates the coupon and evicts both its old and new code.
func (r *CouponRepository) Modify(ctx context.Context, storeID int64, code string, fn func(*coupon.Coupon) error) (coupon.Coupon, error) {
	updated, err := r.next.Modify(ctx, storeID, code, fn)
	if err != nil {
		return coupon.Coupon{}, err
	}
	r.evict(ctx, couponKey(storeID, code), couponKey(storeID, updated.Code))
	return updated, nil
}

// Delete removes the coupon and its cache entry.
func (r *CouponRepository) Delete(ctx context.Context, storeID int64, code string) error {
	if err := r.next.Delete(ctx, storeID, code); err != nil {
		return err
	}
	r.evict(ctx, couponKey(storeID, code))
	return nil
}

// List is not cached.
func (r *CouponRepository) List(ctx context.Context, storeID int64, f coupon.Filter) ([]coupon.Coupon, error) {
	return r.next.List(ctx, storeID, f)
}
