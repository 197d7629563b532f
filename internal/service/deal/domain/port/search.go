package port

import "context"

// SearchIndex 是全文检索服务的出站端口，只负责把文本查询解析成餐厅 ID
type SearchIndex interface {
	SearchRestaurants(ctx context.Context, query string) ([]string, error)
}
