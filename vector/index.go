// Package vector 实现 ANN 索引管理：Flat / IVF / HNSW / IVF+PQ 四种索引族、
// 按语料规模的选型策略、持久化以及原子替换的在线快照。
//
// 所有索引的相似度都是 L2 归一化向量上的内积（即余弦相似度）。
package vector

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/pkg/vecmath"
)

// Family 是索引族，封闭枚举；新增族通过 RegisterFamily 注册构建与解码函数。
type Family uint8

const (
	FamilyAuto Family = iota // 按规模自动选择
	FamilyFlat
	FamilyIVF
	FamilyHNSW
	FamilyIVFPQ
)

func (f Family) String() string {
	switch f {
	case FamilyFlat:
		return "flat"
	case FamilyIVF:
		return "ivf"
	case FamilyHNSW:
		return "hnsw"
	case FamilyIVFPQ:
		return "ivfpq"
	default:
		return "auto"
	}
}

// ParseFamily 解析配置中的索引族名称，空串与 "auto" 返回 FamilyAuto。
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FamilyAuto, nil
	case "flat":
		return FamilyFlat, nil
	case "ivf":
		return FamilyIVF, nil
	case "hnsw":
		return FamilyHNSW, nil
	case "ivfpq", "ivf+pq", "ivf_pq":
		return FamilyIVFPQ, nil
	}
	return FamilyAuto, core.NewValidationError(core.ModuleVector, fmt.Sprintf("unknown index family %q", s))
}

// Params 是索引参数，不同族只使用其中一部分
type Params struct {
	NList          int    `json:"nlist,omitempty"`
	NProbe         int    `json:"nprobe,omitempty"`
	M              int    `json:"m,omitempty"`               // HNSW 每层邻居数
	EfConstruction int    `json:"efConstruction,omitempty"`  // HNSW 构建宽度
	EfSearch       int    `json:"efSearch,omitempty"`        // HNSW 查询宽度
	PQM            int    `json:"pqM,omitempty"`             // PQ 子向量个数
	PQBits         int    `json:"pqBits,omitempty"`          // 每个子向量编码位数
	Seed           uint64 `json:"seed,omitempty"`            // 训练随机种子
}

// IndexSpec 是索引族 + 参数
type IndexSpec struct {
	Family Family `json:"family"`
	Params Params `json:"params"`
}

// Neighbor 是索引内部的检索结果：行号 + 内积
type Neighbor struct {
	Offset int
	Score  float32
}

// Index 是只读的向量索引；构建完成后可被任意 goroutine 并发查询。
type Index interface {
	Family() Family
	Len() int
	Dim() int

	// Search 返回按 (Score 降序, Offset 升序) 排列的最多 k 个结果，q 必须已归一化。
	Search(q []float32, k int) []Neighbor

	// encode 写出族内部数据，由 SaveSnapshot 调用
	encode(w io.Writer) error
}

// BuildFunc 从已归一化的向量构建索引
type BuildFunc func(ctx context.Context, vectors [][]float32, p Params) (Index, error)

// DecodeFunc 从持久化数据恢复索引
type DecodeFunc func(r io.Reader, p Params, n, dim int) (Index, error)

type familyCodec struct {
	build  BuildFunc
	decode DecodeFunc
}

var (
	families   = make(map[Family]familyCodec)
	familiesMu sync.RWMutex
)

// RegisterFamily 注册索引族的构建与解码函数，一般在 init 中调用。
func RegisterFamily(f Family, build BuildFunc, decode DecodeFunc) {
	if f == FamilyAuto || build == nil || decode == nil {
		return
	}
	familiesMu.Lock()
	defer familiesMu.Unlock()
	families[f] = familyCodec{build: build, decode: decode}
}

func lookupFamily(f Family) (familyCodec, error) {
	familiesMu.RLock()
	defer familiesMu.RUnlock()
	c, ok := families[f]
	if !ok {
		return familyCodec{}, core.NewDomainError(core.ModuleVector, core.ErrorCodeNotSupported, fmt.Sprintf("index family %s is not registered", f))
	}
	return c, nil
}

// Build 构建索引。向量会被复制并归一化；mapping 必须与向量一一对应。
// spec.Family 为 FamilyAuto 时按 SelectSpec 选型。
func Build(ctx context.Context, vectors [][]float32, mapping *IDMapping, spec IndexSpec) (Index, error) {
	if len(vectors) == 0 {
		return nil, core.NewValidationError(core.ModuleVector, "build: no vectors")
	}
	if mapping == nil || mapping.Len() != len(vectors) {
		return nil, core.NewValidationError(core.ModuleVector, "build: id mapping does not match vectors")
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, core.NewValidationError(core.ModuleVector, "build: zero dimension")
	}
	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, core.NewValidationError(core.ModuleVector, fmt.Sprintf("build: vector %d has dim %d, want %d", i, len(v), dim))
		}
		normalized[i] = vecmath.Normalized(v)
	}
	if spec.Family == FamilyAuto {
		spec = SelectSpec(len(vectors), dim, Prefs{})
	}
	codec, err := lookupFamily(spec.Family)
	if err != nil {
		return nil, err
	}
	return codec.build(ctx, normalized, spec.Params)
}

// flatten 将二维向量拼接为连续数组
func flatten(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	out := make([]float32, len(vectors)*dim)
	for i, v := range vectors {
		copy(out[i*dim:], v)
	}
	return out
}
