package server

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/rushteam/phoenix/metrics"
)

// retrievalCache 保存每个用户最近一次成功的 feed 结果，召回失败时作为 last-good 返回。
type retrievalCache struct {
	cache *ristretto.Cache[string, []FeedCandidate]
	ttl   time.Duration
}

func newRetrievalCache(maxBytes int64, ttl time.Duration) (*retrievalCache, error) {
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []FeedCandidate]{
		NumCounters: max(maxBytes/1024*10, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &retrievalCache{cache: cache, ttl: ttl}, nil
}

func (c *retrievalCache) Get(userID string) ([]FeedCandidate, bool) {
	if userID == "" {
		return nil, false
	}
	v, ok := c.cache.Get(userID)
	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.CacheLookups.WithLabelValues("last_good", result).Inc()
	return v, ok
}

func (c *retrievalCache) Set(userID string, candidates []FeedCandidate) {
	if userID == "" || len(candidates) == 0 {
		return
	}
	cost := int64(0)
	for _, fc := range candidates {
		cost += int64(len(fc.PostID)) + 48
	}
	c.cache.SetWithTTL(userID, candidates, cost, c.ttl)
}

// Wait 等待缓冲中的写入生效
func (c *retrievalCache) Wait() { c.cache.Wait() }

func (c *retrievalCache) Close() { c.cache.Close() }
