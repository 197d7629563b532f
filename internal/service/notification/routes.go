package notification

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes 注册推送网关的 HTTP 路由
func RegisterRoutes(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("GET /ws", hub.ServeWs)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())
}
