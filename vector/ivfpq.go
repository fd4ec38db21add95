package vector

import (
	"context"
	"fmt"
	"io"

	"github.com/rushteam/phoenix/pkg/vecmath"
)

// IVFPQIndex 是倒排 + 乘积量化索引：粗量化后对残差做 m 段 PQ 编码，
// 查询时用 <q, c> + Σ LUT_j[code_j] 近似内积（ADC）。
type IVFPQIndex struct {
	dim       int
	n         int
	nprobe    int
	m         int
	ksub      int
	centroids [][]float32
	lists     [][]int32
	codebooks []float32 // [m][ksub][dsub]
	codes     []byte    // [n][m]
}

func init() {
	RegisterFamily(FamilyIVFPQ, buildIVFPQ, decodeIVFPQ)
}

func buildIVFPQ(ctx context.Context, vectors [][]float32, p Params) (Index, error) {
	dim := len(vectors[0])
	m := p.PQM
	if m <= 0 || dim%m != 0 {
		return nil, fmt.Errorf("ivfpq: m=%d must divide dim %d", m, dim)
	}
	bits := p.PQBits
	if bits <= 0 || bits > 8 {
		bits = 8
	}
	nlist := clampInt(p.NList, 1, len(vectors))
	centroids, err := kmeans(ctx, vectors, kmeansConfig{
		k: nlist, iters: kmeansIters, seed: p.Seed, spherical: true, maxTrain: 256 * nlist,
	})
	if err != nil {
		return nil, fmt.Errorf("ivfpq: coarse: %w", err)
	}
	lists := assignLists(vectors, centroids)

	// 残差
	assign := make([]int, len(vectors))
	for c, l := range lists {
		for _, off := range l {
			assign[off] = c
		}
	}
	residuals := make([][]float32, len(vectors))
	for i, v := range vectors {
		r := make([]float32, dim)
		for d := range r {
			r[d] = v[d] - centroids[assign[i]][d]
		}
		residuals[i] = r
	}

	dsub := dim / m
	ksub := min(1<<bits, len(vectors))
	x := &IVFPQIndex{
		dim: dim, n: len(vectors), nprobe: max(p.NProbe, 1), m: m, ksub: ksub,
		centroids: centroids, lists: lists,
		codebooks: make([]float32, m*ksub*dsub),
		codes:     make([]byte, len(vectors)*m),
	}
	for j := 0; j < m; j++ {
		sub := make([][]float32, len(residuals))
		for i, r := range residuals {
			sub[i] = r[j*dsub : (j+1)*dsub]
		}
		book, err := kmeans(ctx, sub, kmeansConfig{
			k: ksub, iters: kmeansIters, seed: p.Seed + uint64(j) + 1, maxTrain: 64 * ksub,
		})
		if err != nil {
			return nil, fmt.Errorf("ivfpq: codebook %d: %w", j, err)
		}
		// 训练样本少于 ksub 时码本会更小，剩余码字保持为 0
		for c, cent := range book {
			copy(x.codebooks[(j*ksub+c)*dsub:], cent)
		}
		for i, s := range sub {
			x.codes[i*m+j] = byte(nearestCentroid(s, book, false))
		}
	}
	return x, nil
}

func (x *IVFPQIndex) Family() Family { return FamilyIVFPQ }
func (x *IVFPQIndex) Len() int       { return x.n }
func (x *IVFPQIndex) Dim() int       { return x.dim }

func (x *IVFPQIndex) Search(q []float32, k int) []Neighbor {
	dsub := x.dim / x.m
	lut := make([]float32, x.m*x.ksub)
	for j := 0; j < x.m; j++ {
		qs := q[j*dsub : (j+1)*dsub]
		for c := 0; c < x.ksub; c++ {
			lut[j*x.ksub+c] = vecmath.Dot(qs, x.codebooks[(j*x.ksub+c)*dsub:(j*x.ksub+c+1)*dsub])
		}
	}
	top := newTopK(k)
	for _, probe := range probeLists(q, x.centroids, x.nprobe) {
		base := probe.Score
		for _, off := range x.lists[probe.Offset] {
			code := x.codes[int(off)*x.m : (int(off)+1)*x.m]
			s := base
			for j, c := range code {
				s += lut[j*x.ksub+int(c)]
			}
			top.offer(Neighbor{Offset: int(off), Score: s})
		}
	}
	return top.sorted()
}

func (x *IVFPQIndex) encode(w io.Writer) error {
	bw := &binWriter{w: w}
	encodeCoarse(bw, x.centroids, x.lists)
	bw.u32(uint32(x.m))
	bw.u32(uint32(x.ksub))
	bw.floats(x.codebooks)
	bw.bytes(x.codes)
	return bw.err
}

func decodeIVFPQ(r io.Reader, p Params, n, dim int) (Index, error) {
	br := &binReader{r: r}
	centroids, lists := decodeCoarse(br, dim, n)
	m := int(br.u32())
	ksub := int(br.u32())
	if br.err != nil {
		return nil, br.err
	}
	if m <= 0 || dim%m != 0 || ksub <= 0 || ksub > 256 {
		return nil, fmt.Errorf("corrupt ivfpq payload: m=%d ksub=%d", m, ksub)
	}
	x := &IVFPQIndex{dim: dim, n: n, nprobe: max(p.NProbe, 1), m: m, ksub: ksub, centroids: centroids, lists: lists}
	x.codebooks = br.floats(m * ksub * (dim / m))
	x.codes = br.bytes(n * m)
	if br.err != nil {
		return nil, br.err
	}
	for _, c := range x.codes {
		if int(c) >= ksub {
			return nil, fmt.Errorf("corrupt ivfpq payload: code %d", c)
		}
	}
	return x, nil
}
