// internal/service/deal/infrastructure/adapter/search_client.go
package adapter

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"dealhub/internal/pkg/httpclient"
	"dealhub/internal/pkg/logger"
)

// ServiceDiscovery 按服务名挑选一个健康实例，*nacos.Client 实现了它
type ServiceDiscovery interface {
	DiscoverServiceInstance(serviceName string) (string, int, error)
}

// SearchClient 调用外部全文检索服务，把文本查询解析为餐厅 ID
type SearchClient struct {
	client  *httpclient.Client
	baseURL string

	discovery   ServiceDiscovery
	serviceName string
}

func NewSearchClient(client *httpclient.Client, baseURL string) *SearchClient {
	return &SearchClient{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// WithDiscovery 让每次查询前先通过注册中心解析实例地址，解析失败时退回静态 baseURL
func (c *SearchClient) WithDiscovery(d ServiceDiscovery, serviceName string) *SearchClient {
	c.discovery = d
	c.serviceName = serviceName
	return c
}

func (c *SearchClient) endpoint(ctx context.Context) string {
	if c.discovery == nil || c.serviceName == "" {
		return c.baseURL
	}
	ip, port, err := c.discovery.DiscoverServiceInstance(c.serviceName)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("service", c.serviceName).
			Str("fallback", c.baseURL).
			Msg("search service discovery failed")
		return c.baseURL
	}
	return "http://" + net.JoinHostPort(ip, strconv.Itoa(port))
}

type searchResponse struct {
	Hits []struct {
		ID string `json:"id"`
	} `json:"hits"`
}

// SearchRestaurants 空查询返回 nil，表示不做过滤；没有命中时返回空切片
func (c *SearchClient) SearchRestaurants(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	var resp searchResponse
	params := url.Values{"q": {query}}
	if err := c.client.GetJSON(ctx, c.endpoint(ctx)+"/indexes/restaurants/search", params, &resp); err != nil {
		return nil, errors.Wrap(err, "search restaurants")
	}
	ids := make([]string, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		if h.ID != "" {
			ids = append(ids, h.ID)
		}
	}
	return ids, nil
}
