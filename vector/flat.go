package vector

import (
	"context"
	"io"

	"github.com/rushteam/phoenix/pkg/vecmath"
)

// FlatIndex 是精确内积检索（IndexFlatIP 等价实现）。
type FlatIndex struct {
	dim  int
	n    int
	data []float32
}

func init() {
	RegisterFamily(FamilyFlat, buildFlat, decodeFlat)
}

func buildFlat(_ context.Context, vectors [][]float32, _ Params) (Index, error) {
	return &FlatIndex{dim: len(vectors[0]), n: len(vectors), data: flatten(vectors)}, nil
}

func (x *FlatIndex) Family() Family { return FamilyFlat }
func (x *FlatIndex) Len() int       { return x.n }
func (x *FlatIndex) Dim() int       { return x.dim }

func (x *FlatIndex) row(i int) []float32 { return x.data[i*x.dim : (i+1)*x.dim] }

func (x *FlatIndex) Search(q []float32, k int) []Neighbor {
	top := newTopK(k)
	for i := 0; i < x.n; i++ {
		top.offer(Neighbor{Offset: i, Score: vecmath.Dot(q, x.row(i))})
	}
	return top.sorted()
}

func (x *FlatIndex) encode(w io.Writer) error {
	bw := &binWriter{w: w}
	bw.floats(x.data)
	return bw.err
}

func decodeFlat(r io.Reader, _ Params, n, dim int) (Index, error) {
	br := &binReader{r: r}
	data := br.floats(n * dim)
	if br.err != nil {
		return nil, br.err
	}
	return &FlatIndex{dim: dim, n: n, data: data}, nil
}
