package feast

import (
	"strconv"
	"strings"
)

// NewClient 根据端点地址创建 gRPC 客户端。
//
// 参数：
//   - endpoint: "localhost:6565" 或 "grpc://localhost:6565"，缺省端口为 6565
//   - project: 项目名称
//
// 示例：
//
//	client, err := feast.NewClient("localhost:6565", "phoenix")
func NewClient(endpoint, project string, opts ...ClientOption) (Client, error) {
	host, port := parseEndpoint(endpoint)
	return NewGrpcClient(host, port, project, opts...)
}

// parseEndpoint 解析端点地址，返回 host 和 port
func parseEndpoint(endpoint string) (string, int) {
	endpoint = strings.TrimPrefix(endpoint, "grpc://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	if i := strings.LastIndex(endpoint, ":"); i > 0 {
		if port, err := strconv.Atoi(endpoint[i+1:]); err == nil {
			return endpoint[:i], port
		}
	}
	return endpoint, 0
}
