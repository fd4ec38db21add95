package filter

import (
	"context"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/metrics"
	"github.com/rushteam/phoenix/pipeline"
	"github.com/rushteam/phoenix/pkg/utils"
)

// SafetyNode 批量调用内容安全检查并移除 unsafe 的候选。
//
// 检查失败时失败关闭：全部候选视为 unsafe；AllowInNetworkOnFailure 为 true 时
// 保留关注流内（Meta[in_network] 为 true）的候选。
type SafetyNode struct {
	Checker                 core.SafetyChecker
	AllowInNetworkOnFailure bool
}

func (n *SafetyNode) Name() string        { return "filter.safety" }
func (n *SafetyNode) Kind() pipeline.Kind { return pipeline.KindFilter }

func (n *SafetyNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if n.Checker == nil || len(items) == 0 {
		return items, nil
	}
	userID := ""
	if rctx != nil {
		userID = rctx.UserID
	}
	valid := make([]*core.Item, 0, len(items))
	req := make([]core.SafetyCheckItem, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		valid = append(valid, it)
		req = append(req, core.SafetyCheckItem{PostID: it.ID, UserID: userID})
	}

	results, err := n.Checker.Check(ctx, req)
	if err != nil || len(results) != len(valid) {
		if rctx != nil {
			rctx.PutLabel("safety_degraded", utils.Label{Value: "fail_closed", Source: "filter"})
		}
		out := make([]*core.Item, 0, len(valid))
		if n.AllowInNetworkOnFailure {
			for _, it := range valid {
				if inNetwork(it, rctx) {
					out = append(out, it)
				}
			}
		}
		return out, nil
	}

	out := make([]*core.Item, 0, len(valid))
	for i, it := range valid {
		if results[i].Safe {
			out = append(out, it)
			continue
		}
		it.PutLabel("filtered", utils.Label{Value: "true", Source: n.Name()})
		metrics.FilteredItems.WithLabelValues(n.Name()).Inc()
	}
	return out, nil
}

func inNetwork(it *core.Item, rctx *core.RecommendContext) bool {
	if v, ok := it.Meta[core.MetaInNetwork].(bool); ok {
		return v
	}
	if rctx != nil {
		if c, ok := rctx.Candidates[it.ID]; ok {
			return c.InNetwork
		}
	}
	return false
}

var _ pipeline.Node = (*SafetyNode)(nil)
