// Package store 实现 core 包中定义的存储接口：
//
//   - core.FeatureStore：MemoryFeatureStore / RedisFeatureStore / BadgerFeatureStore
//   - core.EventStore、core.PostStore：MemoryEventStore / MemoryPostStore / SQLiteStore
//
// 示例：
//
//	var fs core.FeatureStore = store.NewMemoryFeatureStore()
//	db, _ := store.NewSQLiteStore("data/phoenix.db")
//	var events core.EventStore = db
package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/rushteam/phoenix/core"
)

// ErrNotFound 与 core.ErrStoreNotFound 相同，保留给包内使用
var ErrNotFound = core.ErrStoreNotFound

// mergeUpsert 按 upsert 语义合并记录：Version 自增，CreatedAt 只在首次写入时设置。
// prev 为 nil 表示首次插入。
func mergeUpsert(prev, fv *core.FeatureVector, now time.Time) *core.FeatureVector {
	out := *fv
	out.Embedding = append([]float32(nil), fv.Embedding...)
	out.UpdatedAt = now
	if prev == nil {
		out.Version = 1
		out.CreatedAt = now
		return &out
	}
	out.Version = prev.Version + 1
	out.CreatedAt = prev.CreatedAt
	return &out
}

func validateVector(fv *core.FeatureVector) error {
	if fv == nil || fv.UserID == "" {
		return core.NewValidationError(core.ModuleStore, "feature vector: empty userId")
	}
	if len(fv.Embedding) == 0 {
		return core.NewValidationError(core.ModuleStore, fmt.Sprintf("feature vector %s: empty embedding", fv.UserID))
	}
	return nil
}

// encodeEmbedding 以小端 float32 编码向量
func encodeEmbedding(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding: %d bytes is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
