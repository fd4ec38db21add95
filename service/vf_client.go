package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/logging"
)

// FallbackHeader 为 true 时表示下游返回的是兜底结果，按失败处理
const FallbackHeader = "X-ML-Fallback"

// AuthConfig 认证配置
type AuthConfig struct {
	Type     string `koanf:"type"` // "basic", "bearer", "api_key"
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Token    string `koanf:"token"`
	APIKey   string `koanf:"api_key"`
}

// HTTPChecker 调用远程 /vf/check 服务。
//
// 请求 {"items":[{"postId","userId"}]}，响应 {"results":[{"postId","safe","reason"}]}。
// 调用经过熔断器；熔断打开时立即失败，不访问下游。
type HTTPChecker struct {
	Endpoint string
	Timeout  time.Duration
	Auth     *AuthConfig

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]core.SafetyResult]
}

// HTTPCheckerOption 配置 HTTPChecker
type HTTPCheckerOption func(*HTTPChecker)

// WithHTTPTimeout 设置单次调用超时（默认 2s）
func WithHTTPTimeout(timeout time.Duration) HTTPCheckerOption {
	return func(c *HTTPChecker) {
		c.Timeout = timeout
	}
}

// WithHTTPAuth 设置认证信息
func WithHTTPAuth(auth *AuthConfig) HTTPCheckerOption {
	return func(c *HTTPChecker) {
		c.Auth = auth
	}
}

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(hc *http.Client) HTTPCheckerOption {
	return func(c *HTTPChecker) {
		c.httpClient = hc
	}
}

// BreakerConfig 是熔断参数
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold"` // 连续失败多少次后熔断
	OpenTimeout      time.Duration `koanf:"open_timeout"`      // 熔断打开持续时间
	HalfOpenRequests uint32        `koanf:"half_open_requests"`
}

// WithBreaker 设置熔断参数
func WithBreaker(cfg BreakerConfig) HTTPCheckerOption {
	return func(c *HTTPChecker) {
		c.breaker = newBreaker(cfg)
	}
}

func newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[[]core.SafetyResult] {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	return gobreaker.NewCircuitBreaker[[]core.SafetyResult](gobreaker.Settings{
		Name:        "vf-check",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// NewHTTPChecker 创建远程安全检查客户端
func NewHTTPChecker(endpoint string, opts ...HTTPCheckerOption) *HTTPChecker {
	c := &HTTPChecker{
		Endpoint: endpoint,
		Timeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.breaker == nil {
		c.breaker = newBreaker(BreakerConfig{})
	}
	return c
}

func (c *HTTPChecker) Name() string { return "http" }

type vfRequest struct {
	Items []core.SafetyCheckItem `json:"items"`
}

type vfResponse struct {
	Results []core.SafetyResult `json:"results"`
}

// Check 调用远程服务；超时返回 UPSTREAM_TIMEOUT，其他失败返回 UNAVAILABLE。
func (c *HTTPChecker) Check(ctx context.Context, items []core.SafetyCheckItem) ([]core.SafetyResult, error) {
	if len(items) == 0 {
		return []core.SafetyResult{}, nil
	}
	results, err := c.breaker.Execute(func() ([]core.SafetyResult, error) {
		return c.call(ctx, items)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeUnavailable, "vf check: circuit open", err)
		}
		return nil, err
	}
	return results, nil
}

func (c *HTTPChecker) call(ctx context.Context, items []core.SafetyCheckItem) ([]core.SafetyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	body, err := json.Marshal(vfRequest{Items: items})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.addAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeUpstreamTimeout, "vf check: timeout", err)
		}
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeUnavailable, "vf check: request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeUnavailable,
			fmt.Sprintf("vf check: status=%d, body=%s", resp.StatusCode, strings.TrimSpace(string(b))))
	}
	if strings.EqualFold(resp.Header.Get(FallbackHeader), "true") {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeUnavailable, "vf check: upstream returned fallback response")
	}
	var out vfResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if isTimeout(ctx, err) {
			return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeUpstreamTimeout, "vf check: timeout", err)
		}
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeUnavailable, "vf check: decode response", err)
	}
	return out.Results, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// addAuth 添加认证信息到 HTTP 请求
func (c *HTTPChecker) addAuth(req *http.Request) {
	if c.Auth == nil {
		return
	}

	switch c.Auth.Type {
	case "basic":
		req.SetBasicAuth(c.Auth.Username, c.Auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+c.Auth.Token)
	case "api_key":
		req.Header.Set("X-API-Key", c.Auth.APIKey)
	}
}

var _ core.SafetyChecker = (*HTTPChecker)(nil)
