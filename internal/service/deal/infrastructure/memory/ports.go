package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"dealhub/internal/service/deal/domain/port"
)

// Guard 是单进程版本的 RedemptionGuard
type Guard struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

func NewGuard() *Guard {
	return &Guard{held: map[string]time.Time{}, nowFn: time.Now}
}

func (g *Guard) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.nowFn()
	if exp, ok := g.held[key]; ok && now.Before(exp) {
		return nil, port.ErrGuardHeld
	}
	exp := now.Add(ttl)
	g.held[key] = exp
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			// 只释放自己持有的那一次
			if cur, ok := g.held[key]; ok && cur.Equal(exp) {
				delete(g.held, key)
			}
		})
	}, nil
}

// Locker 是单进程版本的 JobLocker
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocker() *Locker {
	return &Locker{locks: map[string]*sync.Mutex{}}
}

func (l *Locker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// Notifier 把通知保存在内存里，单机模式下也可以通过 Sent 查看
type Notifier struct {
	mu   sync.Mutex
	sent []port.Notification
	err  error
}

func NewNotifier() *Notifier { return &Notifier{} }

func (n *Notifier) Notify(_ context.Context, msg port.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

// FailWith 让之后的 Notify 都返回 err，传 nil 恢复
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

func (n *Notifier) Sent() []port.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]port.Notification(nil), n.sent...)
}

// Search 用子串匹配模拟检索服务
type Search struct {
	mu          sync.Mutex
	restaurants map[string]string
}

func NewSearch() *Search {
	return &Search{restaurants: map[string]string{}}
}

func (s *Search) IndexRestaurant(id, text string) {
	s.mu.Lock()
	s.restaurants[id] = text
	s.mu.Unlock()
}

func (s *Search) SearchRestaurants(_ context.Context, query string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	ids := []string{}
	for id, text := range s.restaurants {
		if strings.Contains(strings.ToLower(text), q) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

var (
	_ port.RedemptionGuard = (*Guard)(nil)
	_ port.JobLocker       = (*Locker)(nil)
	_ port.Notifier        = (*Notifier)(nil)
	_ port.SearchIndex     = (*Search)(nil)
)
