package feature

import (
	"context"
	"errors"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/logging"
)

// Source 是用户 embedding 的只读来源；core.FeatureStore 与 feast.FeatureReader 都满足此接口。
type Source interface {
	Name() string
	Get(ctx context.Context, userID string) (*core.FeatureVector, error)
}

// FallbackChain 按顺序查询多个来源，返回第一条满足 accept 的记录。
// 来源出错只记录日志并继续尝试下一个，不向上返回。
type FallbackChain struct {
	sources []Source
}

func NewFallbackChain(sources ...Source) *FallbackChain {
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			out = append(out, s)
		}
	}
	return &FallbackChain{sources: out}
}

// Len 返回来源个数
func (c *FallbackChain) Len() int { return len(c.sources) }

// Get 返回记录及其来源名；全部未命中时返回 core.ErrStoreNotFound
func (c *FallbackChain) Get(ctx context.Context, userID string, accept func(*core.FeatureVector) bool) (*core.FeatureVector, string, error) {
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		fv, err := src.Get(ctx, userID)
		switch {
		case err == nil:
			if accept == nil || accept(fv) {
				return fv, src.Name(), nil
			}
		case errors.Is(err, core.ErrStoreNotFound) || core.IsNotFound(err):
		default:
			logging.Ctx(ctx).Warn().Err(err).Str("source", src.Name()).Str("user_id", userID).Msg("feature source failed, trying next")
		}
	}
	return nil, "", core.ErrStoreNotFound
}
