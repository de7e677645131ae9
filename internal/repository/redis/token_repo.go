package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	UserTokenPrefix = "login:user:token"
	DefaultTokenTTL = 30 * time.Minute
)

// TokenRepository 每个 uid 只保留最近一次登录的 access token
type TokenRepository struct {
	RDB *redis.Client
	TTL time.Duration
}

func NewTokenRepository(rdb *redis.Client, ttl time.Duration) *TokenRepository {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenRepository{RDB: rdb, TTL: ttl}
}

func (r *TokenRepository) key(uid string) string {
	return fmt.Sprintf("%s:%s", UserTokenPrefix, uid)
}

func (r *TokenRepository) Save(ctx context.Context, uid, token string) error {
	if err := r.RDB.Set(ctx, r.key(uid), token, r.TTL).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, uid string) (string, error) {
	token, err := r.RDB.Get(ctx, r.key(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return token, nil
}

// Extend 滑动过期
func (r *TokenRepository) Extend(ctx context.Context, uid string) error {
	if err := r.RDB.Expire(ctx, r.key(uid), r.TTL).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}

func (r *TokenRepository) Delete(ctx context.Context, uid string) error {
	if err := r.RDB.Del(ctx, r.key(uid)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}
