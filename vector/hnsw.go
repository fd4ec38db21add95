package vector

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/rushteam/phoenix/pkg/vecmath"
)

// HNSWIndex 是分层可导航小世界图索引。
// 第 0 层每个节点最多 2M 个邻居，其余层最多 M 个；层级按 mL = 1/ln(M) 的几何分布抽取。
type HNSWIndex struct {
	dim      int
	n        int
	m        int
	efSearch int
	data     []float32
	levels   []uint8
	// links[level][node] 为邻居列表；节点层级低于 level 时为 nil
	links    [][][]int32
	entry    int32
	maxLevel int
}

func init() {
	RegisterFamily(FamilyHNSW, buildHNSW, decodeHNSW)
}

func buildHNSW(ctx context.Context, vectors [][]float32, p Params) (Index, error) {
	m := max(p.M, 2)
	efC := max(p.EfConstruction, m)
	x := &HNSWIndex{
		dim:      len(vectors[0]),
		n:        len(vectors),
		m:        m,
		efSearch: max(p.EfSearch, 1),
		data:     flatten(vectors),
		levels:   make([]uint8, len(vectors)),
		entry:    0,
	}
	rng := newRand(p.Seed)
	mL := 1 / math.Log(float64(m))
	for i := range x.levels {
		lvl := int(-math.Log(1-rng.Float64()) * mL)
		if lvl > 31 {
			lvl = 31
		}
		x.levels[i] = uint8(lvl)
		if lvl > x.maxLevel {
			x.maxLevel = lvl
		}
	}
	x.links = make([][][]int32, x.maxLevel+1)
	for l := range x.links {
		x.links[l] = make([][]int32, x.n)
	}

	x.maxLevel = int(x.levels[0])
	for i := 1; i < x.n; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		x.insert(int32(i), efC)
	}
	return x, nil
}

func (x *HNSWIndex) vec(i int32) []float32 {
	return x.data[int(i)*x.dim : (int(i)+1)*x.dim]
}

func (x *HNSWIndex) maxLinks(level int) int {
	if level == 0 {
		return 2 * x.m
	}
	return x.m
}

func (x *HNSWIndex) insert(id int32, efC int) {
	q := x.vec(id)
	lvl := int(x.levels[id])
	ep := x.entry
	for l := x.maxLevel; l > lvl; l-- {
		ep = x.greedy(q, ep, l)
	}
	for l := min(lvl, x.maxLevel); l >= 0; l-- {
		cands := x.searchLayer(q, []int32{ep}, efC, l)
		neighbors := selectNeighbors(cands, x.m)
		x.links[l][id] = neighbors
		for _, nb := range neighbors {
			x.connect(nb, id, l)
		}
		ep = cands[0].id
	}
	if lvl > x.maxLevel {
		x.maxLevel = lvl
		x.entry = id
	}
}

// connect 添加反向边，超出上限时保留与 node 最相似的邻居
func (x *HNSWIndex) connect(node, nb int32, level int) {
	links := append(x.links[level][node], nb)
	if len(links) <= x.maxLinks(level) {
		x.links[level][node] = links
		return
	}
	v := x.vec(node)
	scored := make([]hnswCand, len(links))
	for i, l := range links {
		scored[i] = hnswCand{id: l, score: vecmath.Dot(v, x.vec(l))}
	}
	sortCands(scored)
	x.links[level][node] = selectNeighbors(scored, x.maxLinks(level))
}

func (x *HNSWIndex) greedy(q []float32, ep int32, level int) int32 {
	best := ep
	bestScore := vecmath.Dot(q, x.vec(ep))
	for changed := true; changed; {
		changed = false
		for _, nb := range x.links[level][best] {
			if s := vecmath.Dot(q, x.vec(nb)); s > bestScore || (s == bestScore && nb < best) {
				best, bestScore, changed = nb, s, true
			}
		}
	}
	return best
}

type hnswCand struct {
	id    int32
	score float32
}

func candBetter(a, b hnswCand) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.id < b.id
}

func sortCands(c []hnswCand) {
	sort.Slice(c, func(i, j int) bool { return candBetter(c[i], c[j]) })
}

func selectNeighbors(sorted []hnswCand, m int) []int32 {
	n := min(m, len(sorted))
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		out[i] = sorted[i].id
	}
	return out
}

// candHeap: best=true 时堆顶为最优，否则堆顶为最差
type candHeap struct {
	items []hnswCand
	best  bool
}

func (h *candHeap) Len() int { return len(h.items) }
func (h *candHeap) Less(i, j int) bool {
	if h.best {
		return candBetter(h.items[i], h.items[j])
	}
	return candBetter(h.items[j], h.items[i])
}
func (h *candHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *candHeap) Push(v any)    { h.items = append(h.items, v.(hnswCand)) }
func (h *candHeap) Pop() any {
	n := len(h.items)
	v := h.items[n-1]
	h.items = h.items[:n-1]
	return v
}

// searchLayer 以 ef 宽度在指定层做 best-first 搜索，返回按相似度排序的候选
func (x *HNSWIndex) searchLayer(q []float32, eps []int32, ef, level int) []hnswCand {
	visited := make(map[int32]struct{}, ef*4)
	frontier := &candHeap{best: true}
	results := &candHeap{best: false}
	for _, ep := range eps {
		c := hnswCand{id: ep, score: vecmath.Dot(q, x.vec(ep))}
		visited[ep] = struct{}{}
		heap.Push(frontier, c)
		heap.Push(results, c)
	}
	for frontier.Len() > 0 {
		cur := heap.Pop(frontier).(hnswCand)
		if results.Len() >= ef && candBetter(results.items[0], cur) {
			break
		}
		for _, nb := range x.links[level][cur.id] {
			if _, ok := visited[nb]; ok {
				continue
			}
			visited[nb] = struct{}{}
			c := hnswCand{id: nb, score: vecmath.Dot(q, x.vec(nb))}
			if results.Len() < ef || candBetter(c, results.items[0]) {
				heap.Push(frontier, c)
				heap.Push(results, c)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}
	out := append([]hnswCand(nil), results.items...)
	sortCands(out)
	return out
}

func (x *HNSWIndex) Family() Family { return FamilyHNSW }
func (x *HNSWIndex) Len() int       { return x.n }
func (x *HNSWIndex) Dim() int       { return x.dim }

func (x *HNSWIndex) Search(q []float32, k int) []Neighbor {
	ep := x.entry
	for l := x.maxLevel; l > 0; l-- {
		ep = x.greedy(q, ep, l)
	}
	cands := x.searchLayer(q, []int32{ep}, max(x.efSearch, k), 0)
	top := newTopK(k)
	for _, c := range cands {
		top.offer(Neighbor{Offset: int(c.id), Score: c.score})
	}
	return top.sorted()
}

func (x *HNSWIndex) encode(w io.Writer) error {
	bw := &binWriter{w: w}
	bw.floats(x.data)
	bw.bytes(x.levels)
	bw.u32(uint32(x.entry))
	bw.u32(uint32(x.maxLevel))
	for l := 0; l <= x.maxLevel; l++ {
		for node := 0; node < x.n; node++ {
			if int(x.levels[node]) < l {
				continue
			}
			bw.ints(x.links[l][node])
		}
	}
	return bw.err
}

func decodeHNSW(r io.Reader, p Params, n, dim int) (Index, error) {
	br := &binReader{r: r}
	x := &HNSWIndex{dim: dim, n: n, m: max(p.M, 2), efSearch: max(p.EfSearch, 1)}
	x.data = br.floats(n * dim)
	x.levels = br.bytes(n)
	x.entry = int32(br.u32())
	x.maxLevel = int(br.u32())
	if br.err != nil {
		return nil, br.err
	}
	if x.maxLevel > 31 || x.entry < 0 || int(x.entry) >= n {
		return nil, fmt.Errorf("corrupt hnsw payload")
	}
	x.links = make([][][]int32, x.maxLevel+1)
	for l := 0; l <= x.maxLevel; l++ {
		x.links[l] = make([][]int32, n)
		for node := 0; node < n && br.err == nil; node++ {
			if int(x.levels[node]) < l {
				continue
			}
			links := br.ints(-1)
			for _, nb := range links {
				if nb < 0 || int(nb) >= n {
					return nil, fmt.Errorf("corrupt hnsw payload: neighbor %d", nb)
				}
			}
			x.links[l][node] = links
		}
	}
	if br.err != nil {
		return nil, br.err
	}
	return x, nil
}
