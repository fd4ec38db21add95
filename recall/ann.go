package recall

import (
	"context"
	"strconv"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/model"
	"github.com/rushteam/phoenix/pipeline"
	"github.com/rushteam/phoenix/pkg/conv"
	"github.com/rushteam/phoenix/pkg/utils"
	"github.com/rushteam/phoenix/vector"
)

// DefaultTopK 是召回阶段默认返回的候选数
const DefaultTopK = 100

// ParamTopK 是 rctx.Params 中覆盖召回数量的 key
const ParamTopK = "retrieve_k"

// Retriever 是召回依赖的向量检索能力，由 vector.Manager 实现。
type Retriever interface {
	Query(ctx context.Context, vec []float32, topK int) ([]vector.Hit, error)
}

var _ Retriever = (*vector.Manager)(nil)

// Source 是可单独调用的召回源，/ann/retrieve 与 feed 链路共用。
type Source interface {
	Name() string
	Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error)
}

// ANN 是双塔 + 向量索引召回：用户塔编码历史得到用户向量，在物品索引上取内积 TopK。
// 历史为空且 rctx.Cached 有效时，直接使用特征存储中预计算的用户向量。
type ANN struct {
	Encoder model.Encoder
	Index   Retriever
	TopK    int
}

func (r *ANN) Name() string        { return "recall.ann" }
func (r *ANN) Kind() pipeline.Kind { return pipeline.KindRecall }

// UserVector 计算用户向量，第二个返回值标记是否来自特征存储
func (r *ANN) UserVector(rctx *core.RecommendContext) ([]float32, bool) {
	if rctx == nil {
		return r.Encoder.EncodeUser("", nil, nil), false
	}
	if len(rctx.History) == 0 && rctx.Cached != nil && len(rctx.Cached.Embedding) == r.Encoder.Dim() {
		return rctx.Cached.Embedding, true
	}
	return r.Encoder.EncodeUser(rctx.UserID, rctx.History, rctx.HistoryMask), false
}

// Retrieve 返回用户的 topK 个候选，按分数降序。
func (r *ANN) Retrieve(ctx context.Context, rctx *core.RecommendContext, topK int) ([]vector.Hit, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, core.NewValidationError(core.ModuleVector, "topK must be positive")
	}
	vec, _ := r.UserVector(rctx)
	return r.Index.Query(ctx, vec, topK)
}

func (r *ANN) ready() error {
	if r.Encoder == nil || r.Index == nil {
		return core.NewModelUnavailableError(core.ModuleVector, "recall.ann: encoder or index not configured")
	}
	return nil
}

func (r *ANN) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	topK := r.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if rctx != nil {
		topK = conv.ConfigGetInt(rctx.Params, ParamTopK, topK)
	}
	if err := r.ready(); err != nil {
		return nil, err
	}
	vec, cached := r.UserVector(rctx)
	hits, err := r.Index.Query(ctx, vec, topK)
	if err != nil {
		return nil, err
	}

	src := "tower"
	if cached {
		src = "feature_store"
	}
	out := make([]*core.Item, 0, len(hits))
	for rank, h := range hits {
		it := core.NewItem(h.ItemID)
		it.Score = float64(h.Score)
		it.PutFeature("ann_score", float64(h.Score))
		it.PutLabel("recall_source", utils.Label{Value: "ann", Source: "recall"})
		it.PutLabel("user_vector", utils.Label{Value: src, Source: "recall"})
		it.PutLabel("recall_rank", utils.Label{Value: strconv.Itoa(rank), Source: "recall"})
		out = append(out, it)
	}
	return out, nil
}

// Process 以召回结果替换输入
func (r *ANN) Process(ctx context.Context, rctx *core.RecommendContext, _ []*core.Item) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

var (
	_ Source        = (*ANN)(nil)
	_ pipeline.Node = (*ANN)(nil)
)
