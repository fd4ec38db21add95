// Package feature 提供在线请求读取用户预计算 embedding 的服务：
// 本地缓存 → 特征存储 → 其他来源（如 Feast），只接受当前模型版本且未过期的记录。
package feature

import (
	"context"
	"time"

	"github.com/rushteam/phoenix/core"
)

// Service 查找用户当前有效的 FeatureVector。
// 查找失败不是错误：调用方据此回退到实时编码。
type Service struct {
	chain        *FallbackChain
	cache        *MemoryFeatureCache
	modelVersion string
	now          func() time.Time
}

// ServiceOption 配置 Service
type ServiceOption func(*Service)

// WithCache 启用本地缓存
func WithCache(cache *MemoryFeatureCache) ServiceOption {
	return func(s *Service) { s.cache = cache }
}

// WithModelVersion 只接受该模型版本的记录；为空时不校验
func WithModelVersion(v string) ServiceOption {
	return func(s *Service) { s.modelVersion = v }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService 以 sources 的顺序构造查找链
func NewService(sources []Source, opts ...ServiceOption) *Service {
	s := &Service{chain: NewFallbackChain(sources...), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ModelVersion 返回校验使用的模型版本
func (s *Service) ModelVersion() string { return s.modelVersion }

// Lookup 返回用户有效的记录；未命中返回 core.ErrStoreNotFound
func (s *Service) Lookup(ctx context.Context, userID string) (*core.FeatureVector, error) {
	if userID == "" {
		return nil, core.ErrStoreNotFound
	}
	now := s.now()
	active := func(fv *core.FeatureVector) bool { return fv.IsActive(s.modelVersion, now) }

	if s.cache != nil {
		if fv, ok := s.cache.Get(userID); ok && active(fv) {
			return fv, nil
		}
	}
	fv, _, err := s.chain.Get(ctx, userID, active)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(fv, now)
	}
	return fv, nil
}

// Invalidate 使缓存中的用户记录失效（刷新任务写入后调用）
func (s *Service) Invalidate(userID string) {
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
}

// Close 关闭缓存
func (s *Service) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}
