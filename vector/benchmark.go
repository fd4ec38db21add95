package vector

import (
	"time"

	"github.com/rushteam/phoenix/pkg/vecmath"
)

// BenchmarkResult 是自召回基准的结果
type BenchmarkResult struct {
	Family      string        `json:"family"`
	Queries     int           `json:"queries"`
	QPS         float64       `json:"qps"`
	MeanLatency time.Duration `json:"meanLatency"`
	RecallAt1   float64       `json:"recallAt1"`
}

// Benchmark 用索引中的向量自身作为查询，统计 QPS、平均延迟与 recall@1（自身排第一的比例）。
// vectors 必须与构建索引时的顺序一致；k 为每次查询取回的条数。
func Benchmark(idx Index, vectors [][]float32, k int) BenchmarkResult {
	res := BenchmarkResult{Family: idx.Family().String(), Queries: len(vectors)}
	if len(vectors) == 0 {
		return res
	}
	hits := 0
	start := time.Now()
	for i, v := range vectors {
		nbs := idx.Search(vecmath.Normalized(v), max(k, 1))
		if len(nbs) > 0 && nbs[0].Offset == i {
			hits++
		}
	}
	elapsed := time.Since(start)
	res.MeanLatency = elapsed / time.Duration(len(vectors))
	if elapsed > 0 {
		res.QPS = float64(len(vectors)) / elapsed.Seconds()
	}
	res.RecallAt1 = float64(hits) / float64(len(vectors))
	return res
}
