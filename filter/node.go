package filter

import (
	"context"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/logging"
	"github.com/rushteam/phoenix/metrics"
	"github.com/rushteam/phoenix/pipeline"
	"github.com/rushteam/phoenix/pkg/utils"
)

// Filter 判断单个候选是否需要移除，返回 true 表示移除。
type Filter interface {
	Name() string
	ShouldFilter(ctx context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error)
}

// FilterNode 依次应用 Filters，命中任一即移除候选；被移除的候选带上 filtered 标签，来源为命中的过滤器。
// 单个过滤器出错时跳过该过滤器，候选按未命中处理。
type FilterNode struct {
	Filters []Filter
}

func (n *FilterNode) Name() string        { return "filter" }
func (n *FilterNode) Kind() pipeline.Kind { return pipeline.KindFilter }

func (n *FilterNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(n.Filters) == 0 {
		return items, nil
	}
	kept := items[:0:0]
	removed := make(map[string]int)
	for _, it := range items {
		if it == nil {
			continue
		}
		if hit := n.match(ctx, rctx, it); hit != "" {
			it.PutLabel("filtered", utils.Label{Value: "true", Source: hit})
			removed[hit]++
			continue
		}
		kept = append(kept, it)
	}
	for name, c := range removed {
		metrics.FilteredItems.WithLabelValues(name).Add(float64(c))
	}
	if len(removed) > 0 {
		logging.Ctx(ctx).Debug().Int("kept", len(kept)).Int("in", len(items)).Msg("filter node")
	}
	return kept, nil
}

// match 返回第一个命中的过滤器名称，未命中返回空串
func (n *FilterNode) match(ctx context.Context, rctx *core.RecommendContext, it *core.Item) string {
	for _, f := range n.Filters {
		hit, err := f.ShouldFilter(ctx, rctx, it)
		if err != nil {
			logging.Ctx(ctx).Debug().Err(err).Str("filter", f.Name()).Str("item", it.ID).Msg("filter error, skipped")
			continue
		}
		if hit {
			return f.Name()
		}
	}
	return ""
}

var _ pipeline.Node = (*FilterNode)(nil)
