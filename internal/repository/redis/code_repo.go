package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultCodeTTL = 10 * time.Minute
	CodePrefix     = "email:code"

	// 两阶段键：邮件发出前是 pending，发出后转为 confirmed
	PendingSuffix   = "pending"
	ConfirmedSuffix = "confirmed"
)

var (
	ErrCodeNotFound        = errors.New("verification code not found")
	ErrCodeConfirmedFailed = errors.New("code confirm failed")
)

// 原子执行：取值+写入目标+设置 TTL+删除源
var moveScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if not val then
  return 0
end
redis.call("SET", KEYS[2], val, "PX", ARGV[1])
redis.call("DEL", KEYS[1])
return 1
`)

// 原子执行：比较后删除，验证码只能用一次
var consumeScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if not val then
  return -1
end
if val ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

type CodeRepository struct {
	RDB *redis.Client
	TTL time.Duration
}

func NewCodeRepository(rdb *redis.Client) *CodeRepository {
	return &CodeRepository{RDB: rdb, TTL: DefaultCodeTTL}
}

func (r *CodeRepository) key(scope, stage, subject string) string {
	return fmt.Sprintf("%s:%s:%s:%s", CodePrefix, scope, stage, subject)
}

func (r *CodeRepository) SavePending(ctx context.Context, scope, subject, code string) error {
	return r.RDB.Set(ctx, r.key(scope, PendingSuffix, subject), code, r.TTL).Err()
}

// Confirm 把 pending 转为 confirmed（重置 TTL）
func (r *CodeRepository) Confirm(ctx context.Context, scope, subject string) error {
	src := r.key(scope, PendingSuffix, subject)
	dst := r.key(scope, ConfirmedSuffix, subject)
	n, err := moveScript.Run(ctx, r.RDB, []string{src, dst}, r.TTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCodeConfirmedFailed, err)
	}
	if n != 1 {
		return ErrCodeConfirmedFailed
	}
	return nil
}

// DeletePending 删除 pending 键（幂等）
func (r *CodeRepository) DeletePending(ctx context.Context, scope, subject string) error {
	return r.RDB.Del(ctx, r.key(scope, PendingSuffix, subject)).Err()
}

// Consume 校验 confirmed 验证码，匹配则删除并返回 true
func (r *CodeRepository) Consume(ctx context.Context, scope, subject, code string) (bool, error) {
	n, err := consumeScript.Run(ctx, r.RDB, []string{r.key(scope, ConfirmedSuffix, subject)}, code).Int()
	if err != nil {
		return false, err
	}
	switch n {
	case -1:
		return false, ErrCodeNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}
