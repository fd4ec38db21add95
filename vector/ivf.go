package vector

import (
	"context"
	"fmt"
	"io"

	"github.com/rushteam/phoenix/pkg/vecmath"
)

// IVFIndex 是倒排索引：球面 k-means 粗量化为 nlist 个簇，查询时扫描最近的 nprobe 个簇。
type IVFIndex struct {
	dim       int
	n         int
	nprobe    int
	data      []float32
	centroids [][]float32
	lists     [][]int32
}

const kmeansIters = 10

func init() {
	RegisterFamily(FamilyIVF, buildIVF, decodeIVF)
}

func buildIVF(ctx context.Context, vectors [][]float32, p Params) (Index, error) {
	nlist := clampInt(p.NList, 1, len(vectors))
	centroids, err := kmeans(ctx, vectors, kmeansConfig{
		k: nlist, iters: kmeansIters, seed: p.Seed, spherical: true, maxTrain: 256 * nlist,
	})
	if err != nil {
		return nil, fmt.Errorf("ivf: train: %w", err)
	}
	lists := assignLists(vectors, centroids)
	return &IVFIndex{
		dim:       len(vectors[0]),
		n:         len(vectors),
		nprobe:    max(p.NProbe, 1),
		data:      flatten(vectors),
		centroids: centroids,
		lists:     lists,
	}, nil
}

func assignLists(vectors [][]float32, centroids [][]float32) [][]int32 {
	lists := make([][]int32, len(centroids))
	for i, v := range vectors {
		c := nearestCentroid(v, centroids, true)
		lists[c] = append(lists[c], int32(i))
	}
	return lists
}

func (x *IVFIndex) Family() Family { return FamilyIVF }
func (x *IVFIndex) Len() int       { return x.n }
func (x *IVFIndex) Dim() int       { return x.dim }

func (x *IVFIndex) Search(q []float32, k int) []Neighbor {
	top := newTopK(k)
	for _, probe := range probeLists(q, x.centroids, x.nprobe) {
		for _, off := range x.lists[probe.Offset] {
			i := int(off)
			top.offer(Neighbor{Offset: i, Score: vecmath.Dot(q, x.data[i*x.dim:(i+1)*x.dim])})
		}
	}
	return top.sorted()
}

func (x *IVFIndex) encode(w io.Writer) error {
	bw := &binWriter{w: w}
	bw.floats(x.data)
	encodeCoarse(bw, x.centroids, x.lists)
	return bw.err
}

func decodeIVF(r io.Reader, p Params, n, dim int) (Index, error) {
	br := &binReader{r: r}
	data := br.floats(n * dim)
	centroids, lists := decodeCoarse(br, dim, n)
	if br.err != nil {
		return nil, br.err
	}
	return &IVFIndex{dim: dim, n: n, nprobe: max(p.NProbe, 1), data: data, centroids: centroids, lists: lists}, nil
}

func encodeCoarse(bw *binWriter, centroids [][]float32, lists [][]int32) {
	bw.u32(uint32(len(centroids)))
	bw.floats(flatten(centroids))
	for _, l := range lists {
		bw.ints(l)
	}
}

func decodeCoarse(br *binReader, dim, n int) ([][]float32, [][]int32) {
	nlist := int(br.u32())
	if br.err != nil {
		return nil, nil
	}
	if nlist <= 0 || nlist > n {
		br.err = fmt.Errorf("corrupt index payload: nlist %d", nlist)
		return nil, nil
	}
	flat := br.floats(nlist * dim)
	centroids := make([][]float32, nlist)
	lists := make([][]int32, nlist)
	for c := 0; c < nlist && br.err == nil; c++ {
		centroids[c] = flat[c*dim : (c+1)*dim]
		lists[c] = br.ints(-1)
		for _, off := range lists[c] {
			if off < 0 || int(off) >= n {
				br.err = fmt.Errorf("corrupt index payload: offset %d", off)
				break
			}
		}
	}
	return centroids, lists
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
