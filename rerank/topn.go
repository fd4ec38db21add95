package rerank

import (
	"context"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/pipeline"
	"github.com/rushteam/phoenix/pkg/conv"
)

// ParamTopN 是 rctx.Params 中覆盖截断数量的 key（请求的 topK）
const ParamTopN = "top_k"

// TopNNode 是一个 Top-N 截断节点，用于在去重后截取前 N 个物品。
// rctx.Params["top_k"] 存在时优先于 N。
//
// 示例：
//
//	pipeline := &pipeline.Pipeline{
//	    Nodes: []pipeline.Node{
//	        &rank.PhoenixNode{...},   // 排序
//	        &rerank.DedupNode{...},   // 相关 id 去重
//	        &rerank.TopNNode{N: 20},  // 截取 Top 20
//	    },
//	}
type TopNNode struct {
	// N 要保留的物品数量（Top N）
	// 如果 N <= 0，则返回所有物品（不截断）
	N int
}

func (n *TopNNode) Name() string {
	return "rerank.topn"
}

func (n *TopNNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopNNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	limit := n.N
	if rctx != nil {
		limit = conv.ConfigGetInt(rctx.Params, ParamTopN, limit)
	}
	if limit <= 0 || len(items) <= limit {
		return items, nil
	}
	return items[:limit], nil
}
