package vector

import (
	"context"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/phoenix/pkg/vecmath"
)

// kmeansConfig 是 k-means 训练参数
type kmeansConfig struct {
	k         int
	iters     int
	seed      uint64
	spherical bool // true：内积分配 + 质心归一化（IVF 粗量化器）；false：L2（PQ 码本）
	maxTrain  int  // 训练样本上限，0 表示全部
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
}

// sample 以固定种子无放回抽取至多 n 个样本
func sample(data [][]float32, n int, rng *rand.Rand) [][]float32 {
	if n <= 0 || n >= len(data) {
		return data
	}
	perm := rng.Perm(len(data))[:n]
	out := make([][]float32, n)
	for i, p := range perm {
		out[i] = data[p]
	}
	return out
}

// kmeans 训练 k 个质心；结果只依赖输入与种子。
// 分配步按行分片并发执行，每个分片只写自己的区间。
func kmeans(ctx context.Context, data [][]float32, cfg kmeansConfig) ([][]float32, error) {
	rng := newRand(cfg.seed)
	train := sample(data, cfg.maxTrain, rng)
	k := cfg.k
	if k > len(train) {
		k = len(train)
	}
	dim := len(train[0])

	centroids := make([][]float32, k)
	for i, p := range rng.Perm(len(train))[:k] {
		centroids[i] = append([]float32(nil), train[p]...)
	}

	assign := make([]int, len(train))
	workers := runtime.GOMAXPROCS(0)
	chunk := (len(train) + workers - 1) / workers
	for iter := 0; iter < cfg.iters; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, _ := errgroup.WithContext(ctx)
		for lo := 0; lo < len(train); lo += chunk {
			lo, hi := lo, min(lo+chunk, len(train))
			g.Go(func() error {
				for i := lo; i < hi; i++ {
					assign[i] = nearestCentroid(train[i], centroids, cfg.spherical)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		sums := make([][]float32, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float32, dim)
		}
		for i, c := range assign {
			vecmath.AddInto(sums[c], train[i])
			counts[c]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				// 空簇重新取一个随机样本
				copy(centroids[c], train[rng.IntN(len(train))])
				continue
			}
			vecmath.Scale(sums[c], 1/float32(counts[c]))
			if cfg.spherical {
				vecmath.Normalize(sums[c])
			}
			centroids[c] = sums[c]
		}
	}
	return centroids, nil
}

// nearestCentroid 返回最近质心下标；相同距离取下标小者
func nearestCentroid(v []float32, centroids [][]float32, spherical bool) int {
	best := 0
	if spherical {
		bestScore := vecmath.Dot(v, centroids[0])
		for c := 1; c < len(centroids); c++ {
			if s := vecmath.Dot(v, centroids[c]); s > bestScore {
				best, bestScore = c, s
			}
		}
		return best
	}
	bestDist := vecmath.SquaredL2(v, centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := vecmath.SquaredL2(v, centroids[c]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// probeLists 返回与 q 内积最大的 nprobe 个质心，顺序为 (分数降序, 下标升序)
func probeLists(q []float32, centroids [][]float32, nprobe int) []Neighbor {
	top := newTopK(nprobe)
	for c, cent := range centroids {
		top.offer(Neighbor{Offset: c, Score: vecmath.Dot(q, cent)})
	}
	return top.sorted()
}
