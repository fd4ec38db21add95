package core

import (
	"context"
	"time"
)

// FeatureVector 是用户的预计算 embedding 记录。
//
// 不变量：
//   - 同一 UserID 最多一条记录；ExpiresAt 之后或 ModelVersion 不匹配时视为无效
//   - Upsert 时 Version 原子自增，CreatedAt 仅在首次插入时写入
type FeatureVector struct {
	UserID       string    `json:"userId"`
	Embedding    []float32 `json:"embedding"`
	QualityScore float64   `json:"qualityScore"`
	ModelVersion string    `json:"modelVersion"`
	ComputedAt   time.Time `json:"computedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Version      int64     `json:"version"`
}

// IsActive 判断记录在 now 时刻对 modelVersion 是否有效。
// modelVersion 为空时不校验版本。
func (fv *FeatureVector) IsActive(modelVersion string, now time.Time) bool {
	if fv == nil || len(fv.Embedding) == 0 {
		return false
	}
	if !fv.ExpiresAt.IsZero() && !now.Before(fv.ExpiresAt) {
		return false
	}
	if modelVersion != "" && fv.ModelVersion != modelVersion {
		return false
	}
	return true
}

// FeatureStore 是用户 embedding 存储的领域接口，由 store 包实现
// （内存 / Redis / Badger）。
//
// 并发约束：单条记录的 upsert 必须原子完成（版本自增与 createdAt 首插）。
type FeatureStore interface {
	Name() string

	// Get 读取用户记录；不存在或已过期返回 ErrStoreNotFound。
	Get(ctx context.Context, userID string) (*FeatureVector, error)

	// Upsert 写入一条记录。fv.Version / fv.CreatedAt 由存储维护，调用方无需填写。
	Upsert(ctx context.Context, fv *FeatureVector) error

	// UpsertBatch 批量写入；单条失败不回滚已写入的记录，返回第一个错误。
	UpsertBatch(ctx context.Context, fvs []*FeatureVector) error

	Close() error
}
