// internal/service/notification/hub.go
package notification

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dealhub/internal/pkg/logger"
	"dealhub/internal/service/deal/domain/port"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 由网关负责跨域校验
		return true
	},
}

// RecipientKey 是连接在 Hub 中的索引，例如 customer:cust-1
func RecipientKey(audience, recipientID string) string {
	return audience + ":" + recipientID
}

// Hub 维护所有在线的 WebSocket 连接，同一接收方可以有多个连接
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{})}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.key]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.key] = set
	}
	set[c] = struct{}{}
	logger.L().Debug().Str("recipient", c.key).Msg("websocket client registered")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.key]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.key)
	}
}

// Deliver 把消息推送给该接收方的所有连接，返回成功投递的连接数。
// 发送缓冲已满的连接会被断开。
func (h *Hub) Deliver(key string, payload []byte) int {
	h.mu.RLock()
	var slow []*Client
	delivered := 0
	for c := range h.clients[key] {
		select {
		case c.send <- payload:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.unregister(c)
	}
	return delivered
}

// Online 返回该接收方当前的连接数
func (h *Hub) Online(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[key])
}

// ServeWs 处理 /ws?audience=customer&recipientId=xxx
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	audience := r.URL.Query().Get("audience")
	recipientID := r.URL.Query().Get("recipientId")
	if recipientID == "" || (audience != port.AudienceCustomer && audience != port.AudienceRestaurant) {
		http.Error(w, "audience and recipientId are required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), key: RecipientKey(audience, recipientID)}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

// Client 是一个 WebSocket 连接
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	key  string
}

// readPump 只处理心跳和关闭，客户端不会上行业务消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.L().Debug().Err(err).Str("recipient", c.key).Msg("websocket closed unexpectedly")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
