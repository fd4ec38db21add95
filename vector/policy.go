package vector

import "math"

// 选型阈值
const (
	FlatMaxVectors = 100_000
	IVFMaxVectors  = 1_000_000
)

// Prefs 是选型偏好
type Prefs struct {
	PreferRecall   bool   // 召回优先于内存：规模达到 IVF 阈值时选 HNSW
	CompressMemory bool   // 需要内存压缩：规模达到 10^6 时选 IVF+PQ
	Family         Family // 非 Auto 时强制指定索引族（参数仍按规模计算）
	Seed           uint64 // 训练随机种子
}

// SelectSpec 根据语料规模 n、维度 dim 与偏好选择索引族及参数：
//
//   - n < 10^5：Flat（精确）
//   - 10^5 <= n：PreferRecall 时 HNSW(M=32, efConstruction=200, efSearch=64)
//   - n >= 10^6 且 CompressMemory：IVF+PQ，nlist = clamp(round(sqrt(n)*4), 64, 2048)，nprobe=16，nbits=8
//   - 其余：IVF，nlist = clamp(round(sqrt(n)*2), 16, 1024)，nprobe=10
func SelectSpec(n, dim int, prefs Prefs) IndexSpec {
	family := prefs.Family
	if family == FamilyAuto {
		switch {
		case n < FlatMaxVectors:
			family = FamilyFlat
		case prefs.PreferRecall:
			family = FamilyHNSW
		case n >= IVFMaxVectors && prefs.CompressMemory:
			family = FamilyIVFPQ
		default:
			family = FamilyIVF
		}
	}
	return IndexSpec{Family: family, Params: ParamsFor(family, n, dim, prefs.Seed)}
}

// ParamsFor 返回某个索引族在规模 n 下的默认参数
func ParamsFor(family Family, n, dim int, seed uint64) Params {
	p := Params{Seed: seed}
	sqrtN := math.Sqrt(float64(n))
	switch family {
	case FamilyIVF:
		p.NList = clampInt(int(math.Round(sqrtN*2)), 16, 1024)
		p.NProbe = 10
	case FamilyHNSW:
		p.M = 32
		p.EfConstruction = 200
		p.EfSearch = 64
	case FamilyIVFPQ:
		p.NList = clampInt(int(math.Round(sqrtN*4)), 64, 2048)
		p.NProbe = 16
		p.PQM = PQSubvectors(dim)
		p.PQBits = 8
	}
	return p
}

// PQSubvectors 选择 PQ 子向量个数：8 能整除 dim 时取 8，
// 否则取 {4, 8, 16, 32} 中能整除 dim 的最大者，都不能整除时每维一段。
func PQSubvectors(dim int) int {
	if dim%8 == 0 {
		return 8
	}
	for _, m := range []int{32, 16, 8, 4} {
		if dim%m == 0 {
			return m
		}
	}
	return dim
}
