// internal/pkg/utils/ip.go
package utils

import (
	"fmt"
	"net"
)

// GetOutboundIP 返回本机对外通信使用的 IP，用于服务注册。
// UDP "连接" 不会真正发包，只是让内核选出路由对应的本地地址。
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("detect outbound ip: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
