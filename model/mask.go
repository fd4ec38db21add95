package model

import (
	"github.com/dgraph-io/ristretto/v2"
)

// IsolationMask 返回长度为 (H+C)^2 的行优先布尔矩阵，allowed[q*(H+C)+k] 表示 q 能否注意到 k。
//
//   - history → history：允许
//   - candidate → history：允许
//   - history → candidate：屏蔽
//   - candidate → candidate：仅允许自身
//
// 历史位置的 padding 由调用方按请求叠加，这里只描述结构。
func IsolationMask(h, c int) []bool {
	n := h + c
	allowed := make([]bool, n*n)
	for q := 0; q < n; q++ {
		row := allowed[q*n : (q+1)*n]
		for k := 0; k < h; k++ {
			row[k] = true
		}
		if q >= h {
			row[q] = true
		}
	}
	return allowed
}

// maskCache 按 (H, C) 形状缓存结构 mask，形状不变时跨请求复用。
type maskCache struct {
	cache *ristretto.Cache[uint64, []bool]
}

func newMaskCache() (*maskCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, []bool]{
		NumCounters: 1 << 12,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &maskCache{cache: cache}, nil
}

func maskKey(h, c int) uint64 {
	return uint64(h)<<32 | uint64(uint32(c))
}

// get 返回 (H, C) 对应的 mask；返回值只读，禁止修改。
func (m *maskCache) get(h, c int) []bool {
	if m == nil || m.cache == nil {
		return IsolationMask(h, c)
	}
	key := maskKey(h, c)
	if mask, ok := m.cache.Get(key); ok {
		return mask
	}
	mask := IsolationMask(h, c)
	m.cache.Set(key, mask, int64(len(mask)))
	return mask
}

func (m *maskCache) close() {
	if m != nil && m.cache != nil {
		m.cache.Close()
	}
}
