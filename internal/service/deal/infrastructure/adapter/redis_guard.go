// internal/service/deal/infrastructure/adapter/redis_guard.go
package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"dealhub/internal/pkg/logger"
	"dealhub/internal/service/deal/domain/port"
)

const (
	guardAcquireScript = "guard_acquire"
	guardReleaseScript = "guard_release"
	guardKeyPrefix     = "dealhub:guard:"
)

// 只有 SET NX 成功才算拿到
const acquireLua = `
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return 1
end
return 0
`

// 只删除自己写入的 token
const releaseLua = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// ScriptRunner 是 redis.Client 中本适配器用到的部分
type ScriptRunner interface {
	LoadScriptFromContent(name, content string) error
	RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error)
}

// RedisGuard 基于 Redis 的兑现互斥，跨实例生效
type RedisGuard struct {
	rdb ScriptRunner
}

func NewRedisGuard(rdb ScriptRunner) (*RedisGuard, error) {
	if err := rdb.LoadScriptFromContent(guardAcquireScript, acquireLua); err != nil {
		return nil, err
	}
	if err := rdb.LoadScriptFromContent(guardReleaseScript, releaseLua); err != nil {
		return nil, err
	}
	return &RedisGuard{rdb: rdb}, nil
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	redisKey := guardKeyPrefix + key
	token := uuid.NewString()
	res, err := g.rdb.RunScript(ctx, guardAcquireScript, []string{redisKey}, token, ttl.Milliseconds())
	if err != nil {
		return nil, errors.Wrapf(err, "acquire guard %s", key)
	}
	if n, _ := res.(int64); n != 1 {
		return nil, port.ErrGuardHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.release(ctx, key, redisKey, token) })
	}, nil
}

// release 使用独立的超时，业务 ctx 可能已经取消
func (g *RedisGuard) release(ctx context.Context, key, redisKey, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := g.rdb.RunScript(rctx, guardReleaseScript, []string{redisKey}, token); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to release redemption guard, it will expire by ttl")
	}
}
