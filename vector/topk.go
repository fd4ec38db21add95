package vector

import (
	"container/heap"
	"sort"
)

// better 定义结果顺序：分数高者优先，分数相同时行号小者优先。
func better(a, b Neighbor) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Offset < b.Offset
}

// topK 维护最多 k 个最优结果，堆顶为当前最差者。
type topK struct {
	k     int
	items []Neighbor
}

func newTopK(k int) *topK {
	return &topK{k: k, items: make([]Neighbor, 0, k+1)}
}

func (t *topK) Len() int           { return len(t.items) }
func (t *topK) Less(i, j int) bool { return better(t.items[j], t.items[i]) }
func (t *topK) Swap(i, j int)      { t.items[i], t.items[j] = t.items[j], t.items[i] }
func (t *topK) Push(x any)         { t.items = append(t.items, x.(Neighbor)) }
func (t *topK) Pop() any {
	n := len(t.items)
	x := t.items[n-1]
	t.items = t.items[:n-1]
	return x
}

// offer 尝试加入一个候选
func (t *topK) offer(n Neighbor) {
	if t.k <= 0 {
		return
	}
	if len(t.items) < t.k {
		heap.Push(t, n)
		return
	}
	if better(n, t.items[0]) {
		t.items[0] = n
		heap.Fix(t, 0)
	}
}

// worst 返回当前最差结果；未满时 ok 为 false
func (t *topK) worst() (Neighbor, bool) {
	if len(t.items) < t.k || len(t.items) == 0 {
		return Neighbor{}, false
	}
	return t.items[0], true
}

// sorted 返回按顺序排列的结果
func (t *topK) sorted() []Neighbor {
	out := make([]Neighbor, len(t.items))
	copy(out, t.items)
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}
