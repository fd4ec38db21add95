package feature

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/metrics"
)

// MemoryFeatureCache 是进程内的用户 embedding 缓存（ristretto，按 embedding 字节计费，TinyLFU 淘汰）。
// 用于减少对远程特征存储的访问；条目 TTL 不超过记录自身的 ExpiresAt。
type MemoryFeatureCache struct {
	cache      *ristretto.Cache[string, *core.FeatureVector]
	defaultTTL time.Duration
}

// NewMemoryFeatureCache 创建缓存，maxBytes 为 embedding 总字节上限
func NewMemoryFeatureCache(maxBytes int64, defaultTTL time.Duration) (*MemoryFeatureCache, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *core.FeatureVector]{
		NumCounters: max(maxBytes/256*10, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryFeatureCache{cache: cache, defaultTTL: defaultTTL}, nil
}

// Get 返回缓存的记录（只读）
func (c *MemoryFeatureCache) Get(userID string) (*core.FeatureVector, bool) {
	fv, ok := c.cache.Get(userID)
	metrics.CacheLookups.WithLabelValues("feature", hitLabel(ok)).Inc()
	return fv, ok
}

// Set 写入记录；记录已过期时忽略
func (c *MemoryFeatureCache) Set(fv *core.FeatureVector, now time.Time) {
	ttl := c.defaultTTL
	if !fv.ExpiresAt.IsZero() {
		remain := fv.ExpiresAt.Sub(now)
		if remain <= 0 {
			return
		}
		if ttl <= 0 || remain < ttl {
			ttl = remain
		}
	}
	c.cache.SetWithTTL(fv.UserID, fv, int64(4*len(fv.Embedding)+64), ttl)
}

// Wait 等待缓冲中的写入生效
func (c *MemoryFeatureCache) Wait() { c.cache.Wait() }

// Invalidate 删除用户记录
func (c *MemoryFeatureCache) Invalidate(userID string) { c.cache.Del(userID) }

// Clear 清空缓存
func (c *MemoryFeatureCache) Clear() { c.cache.Clear() }

// Close 关闭缓存
func (c *MemoryFeatureCache) Close() { c.cache.Close() }

func hitLabel(ok bool) string {
	if ok {
		return "hit"
	}
	return "miss"
}
