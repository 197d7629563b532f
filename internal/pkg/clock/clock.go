// internal/pkg/clock/clock.go
package clock

import (
	"sync"
	"time"
)

// Clock 提供当前时间，业务代码不直接调用 time.Now() 以便测试时注入固定时间
type Clock interface {
	Now() time.Time
}

// System 使用真实系统时间
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual 是一个可手动推进的时钟，用于测试和回放
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set 将时钟拨到指定时间
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance 将时钟向前推进 d
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
