package service

import (
	"fmt"
	"time"

	"github.com/rushteam/phoenix/core"
)

// CheckerType 安全检查器类型
type CheckerType string

const (
	CheckerKeyword CheckerType = "keyword" // 本地关键词规则
	CheckerHTTP    CheckerType = "http"    // 远程 /vf/check
	CheckerNone    CheckerType = "none"    // 不检查，全部 safe
)

// SafetyConfig 安全检查配置
type SafetyConfig struct {
	Type         CheckerType   `koanf:"type"`
	Endpoint     string        `koanf:"endpoint"`
	Timeout      time.Duration `koanf:"timeout"`
	Keywords     []string      `koanf:"keywords"`
	BlockedUsers []string      `koanf:"blocked_users"`
	Auth         AuthConfig    `koanf:"auth"`
	Breaker      BreakerConfig `koanf:"breaker"`
}

// NewSafetyChecker 根据配置创建检查器（工厂方法），返回值已包装为失败关闭。
func NewSafetyChecker(cfg *SafetyConfig) (*FailClosed, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	var checker core.SafetyChecker
	switch cfg.Type {
	case CheckerKeyword, "":
		checker = NewKeywordChecker(cfg.Keywords, cfg.BlockedUsers)
	case CheckerNone:
		checker = AllowAll{}
	case CheckerHTTP:
		opts := []HTTPCheckerOption{WithBreaker(cfg.Breaker)}
		if cfg.Timeout > 0 {
			opts = append(opts, WithHTTPTimeout(cfg.Timeout))
		}
		if cfg.Auth.Type != "" {
			auth := cfg.Auth
			opts = append(opts, WithHTTPAuth(&auth))
		}
		checker = NewHTTPChecker(cfg.Endpoint, opts...)
	default:
		return nil, fmt.Errorf("unsupported safety checker type: %s", cfg.Type)
	}
	return &FailClosed{Checker: checker}, nil
}

// ValidateConfig 验证安全检查配置
func ValidateConfig(cfg *SafetyConfig) error {
	if cfg == nil {
		return fmt.Errorf("safety config is required")
	}
	if cfg.Type == CheckerHTTP && !hasHTTPPrefix(cfg.Endpoint) {
		return fmt.Errorf("safety endpoint must be an http(s) url, got %q", cfg.Endpoint)
	}
	return nil
}

// hasHTTPPrefix 检查是否包含 HTTP 前缀
func hasHTTPPrefix(s string) bool {
	return (len(s) > 7 && s[:7] == "http://") || (len(s) > 8 && s[:8] == "https://")
}
