package port

import (
	"context"
	"errors"
	"time"
)

var ErrGuardHeld = errors.New("guard is held by another caller")

// RedemptionGuard 在 顾客+Deal 维度上串行化兑现请求
type RedemptionGuard interface {
	// Acquire 成功时返回释放函数；已被占用时返回 ErrGuardHeld
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
