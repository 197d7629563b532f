// internal/pkg/zookeeper/conn.go
package zookeeper

import (
	"fmt"
	"time"

	"dealhub/internal/pkg/logger"

	"github.com/go-zookeeper/zk"
)

// Conn 包装了 ZooKeeper 连接
type Conn struct {
	*zk.Conn
}

// Connect 建立 ZooKeeper 会话
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("zookeeper: no servers configured")
	}
	c, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zookeeper: connect %v: %w", servers, err)
	}
	logger.L().Info().Strs("servers", servers).Msg("✅ Connected to ZooKeeper.")
	return &Conn{Conn: c}, nil
}
