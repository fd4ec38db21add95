package rank

import (
	"context"
	"fmt"
	"sort"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/model"
	"github.com/rushteam/phoenix/pipeline"
	"github.com/rushteam/phoenix/pkg/utils"
)

// PhoenixNode 用 Phoenix 候选隔离 Transformer 对候选打分。
// 各任务概率写入 Features（key 为任务名），Score 为多任务加权和；按 Score 降序排序，同分按 id 升序。
type PhoenixNode struct {
	Model   model.Ranker
	Weights map[string]float64 // 为空时使用 model.DefaultTaskWeights()
}

func (n *PhoenixNode) Name() string        { return "rank.phoenix" }
func (n *PhoenixNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *PhoenixNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if n.Model == nil {
		return nil, core.NewModelUnavailableError(core.ModuleModel, "rank.phoenix: model not loaded")
	}
	valid := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if it != nil {
			valid = append(valid, it)
		}
	}
	if len(valid) == 0 {
		return valid, nil
	}

	ids := make([]string, len(valid))
	for i, it := range valid {
		ids[i] = it.ID
	}
	var history []string
	var mask []float32
	if rctx != nil {
		history, mask = rctx.History, rctx.HistoryMask
	}
	scores, err := n.Model.Predict(history, mask, ids)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(valid) {
		return nil, fmt.Errorf("rank.phoenix: got %d scores for %d candidates", len(scores), len(valid))
	}

	weights := n.Weights
	if len(weights) == 0 {
		weights = model.DefaultTaskWeights()
	}
	for i, it := range valid {
		s := scores[i]
		for _, task := range model.Tasks {
			it.PutFeature(task, float64(s.Get(task)))
		}
		it.Score = s.Weighted(weights)
		if rctx != nil {
			if c, ok := rctx.Candidates[it.ID]; ok {
				if it.Meta == nil {
					it.Meta = make(map[string]any)
				}
				if c.AuthorID != "" {
					it.Meta[core.MetaAuthorID] = c.AuthorID
				}
				it.Meta[core.MetaInNetwork] = c.InNetwork
			}
		}
		it.PutLabel("rank_model", utils.Label{Value: n.Model.Name(), Source: "rank"})
	}

	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Score != valid[j].Score {
			return valid[i].Score > valid[j].Score
		}
		return valid[i].ID < valid[j].ID
	})
	return valid, nil
}

var _ pipeline.Node = (*PhoenixNode)(nil)
