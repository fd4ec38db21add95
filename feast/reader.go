package feast

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/phoenix/core"
)

// ReaderConfig 描述 Feast 中用户 embedding 特征视图的布局
type ReaderConfig struct {
	Project     string `koanf:"project"`
	FeatureView string `koanf:"feature_view"` // 默认 user_embedding
	EntityKey   string `koanf:"entity_key"`   // 默认 user_id
}

// FeatureReader 从 Feast 在线存储读取用户 embedding，作为 FeatureStore 的只读补充来源。
//
// 特征视图需包含：embedding（float 列表或小端 float32 bytes）、quality_score、
// model_version、computed_at / expires_at（Unix 毫秒，可选）。
type FeatureReader struct {
	client Client
	cfg    ReaderConfig
}

func NewFeatureReader(client Client, cfg ReaderConfig) *FeatureReader {
	if cfg.FeatureView == "" {
		cfg.FeatureView = "user_embedding"
	}
	if cfg.EntityKey == "" {
		cfg.EntityKey = "user_id"
	}
	return &FeatureReader{client: client, cfg: cfg}
}

func (r *FeatureReader) Name() string { return "feast" }

func (r *FeatureReader) feature(name string) string { return r.cfg.FeatureView + ":" + name }

// Get 读取单个用户记录；embedding 缺失时返回 core.ErrStoreNotFound。
func (r *FeatureReader) Get(ctx context.Context, userID string) (*core.FeatureVector, error) {
	resp, err := r.client.GetOnlineFeatures(ctx, &GetOnlineFeaturesRequest{
		Features: []string{
			r.feature("embedding"),
			r.feature("quality_score"),
			r.feature("model_version"),
			r.feature("computed_at"),
			r.feature("expires_at"),
		},
		EntityRows: []map[string]interface{}{{r.cfg.EntityKey: userID}},
		Project:    r.cfg.Project,
	})
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleFeature, core.ErrorCodeUnavailable, "feast: get online features", err)
	}
	if len(resp.FeatureVectors) == 0 {
		return nil, core.ErrStoreNotFound
	}
	values := resp.FeatureVectors[0].Values
	emb, ok := values[r.feature("embedding")].([]float32)
	if !ok || len(emb) == 0 {
		return nil, core.ErrStoreNotFound
	}
	fv := &core.FeatureVector{UserID: userID, Embedding: emb}
	if q, ok := values[r.feature("quality_score")].(float64); ok {
		fv.QualityScore = q
	}
	if v, ok := values[r.feature("model_version")].(string); ok {
		fv.ModelVersion = v
	}
	fv.ComputedAt = millisValue(values[r.feature("computed_at")])
	fv.ExpiresAt = millisValue(values[r.feature("expires_at")])
	return fv, nil
}

func millisValue(v interface{}) time.Time {
	ms, ok := v.(float64)
	if !ok || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms)).UTC()
}

// Close 关闭底层客户端
func (r *FeatureReader) Close() error { return r.client.Close() }

func (r *FeatureReader) String() string {
	return fmt.Sprintf("feast(%s/%s)", r.cfg.Project, r.cfg.FeatureView)
}
