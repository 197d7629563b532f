// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"os"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 的通用客户端，并负责 Lua 脚本的加载与执行
type Client struct {
	client  goredis.UniversalClient
	scripts map[string]*goredis.Script
	mu      sync.RWMutex
}

// NewClient 根据地址列表创建客户端。多个地址时自动使用集群模式。
func NewClient(addrs []string, password string) (*Client, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis: no address configured")
	}
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return &Client{client: rdb, scripts: make(map[string]*goredis.Script)}, nil
}

// LoadScriptFromContent 注册一个 Lua 脚本，执行时使用 EVALSHA 并在缓存未命中时回退到 EVAL
func (c *Client) LoadScriptFromContent(name, content string) error {
	if content == "" {
		return fmt.Errorf("redis: script %s is empty", name)
	}
	script := goredis.NewScript(content)
	if err := script.Load(context.Background(), c.client).Err(); err != nil {
		return fmt.Errorf("redis: load script %s: %w", name, err)
	}
	c.mu.Lock()
	c.scripts[name] = script
	c.mu.Unlock()
	return nil
}

// LoadScriptFromFile 从文件加载 Lua 脚本
func (c *Client) LoadScriptFromFile(name, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("redis: read script %s: %w", path, err)
	}
	return c.LoadScriptFromContent(name, string(content))
}

// RunScript 执行已注册的脚本
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("redis: script %s not loaded", name)
	}
	return script.Run(ctx, c.client, keys, args...).Result()
}

// GetClient 暴露底层客户端，供 pipeline 等高级用法使用
func (c *Client) GetClient() goredis.UniversalClient {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}
