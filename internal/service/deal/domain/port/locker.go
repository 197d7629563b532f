package port

import "context"

// JobLocker 保证周期任务在多实例部署下同一时间只有一个执行者
type JobLocker interface {
	// WithLock 持有名为 name 的锁执行 fn
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}
