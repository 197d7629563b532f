// internal/service/deal/infrastructure/adapter/zk_locker.go
package adapter

import (
	"context"

	"github.com/pkg/errors"

	"dealhub/internal/pkg/logger"
	"dealhub/internal/pkg/zookeeper"
)

type distributedLock interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// ZkJobLocker 用 ZooKeeper 临时顺序节点保证周期任务单实例执行
type ZkJobLocker struct {
	newLock func(resource string) (distributedLock, error)
}

func NewZkJobLocker(conn *zookeeper.Conn) *ZkJobLocker {
	return &ZkJobLocker{
		newLock: func(resource string) (distributedLock, error) {
			return zookeeper.NewDistributedLock(conn, resource)
		},
	}
}

func (l *ZkJobLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	lock, err := l.newLock(name)
	if err != nil {
		return errors.Wrapf(err, "create lock %s", name)
	}
	if err := lock.Lock(ctx); err != nil {
		return errors.Wrapf(err, "acquire lock %s", name)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("lock", name).Msg("failed to release job lock")
		}
	}()
	logger.Ctx(ctx).Debug().Str("lock", name).Msg("job lock acquired")
	return fn(ctx)
}
