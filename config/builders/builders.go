// Package builders 注册内置 Node 的配置构建器；在入口处以空白导入启用。
package builders

import (
	"fmt"

	"github.com/rushteam/phoenix/config"
	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/filter"
	"github.com/rushteam/phoenix/model"
	"github.com/rushteam/phoenix/pipeline"
	"github.com/rushteam/phoenix/pkg/conv"
	"github.com/rushteam/phoenix/rank"
	"github.com/rushteam/phoenix/recall"
	"github.com/rushteam/phoenix/rerank"
)

func init() {
	config.Register("recall.ann", BuildANNNode)
	config.Register("filter", BuildFilterNode)
	config.Register("filter.safety", BuildSafetyNode)
	config.Register("rank.phoenix", BuildPhoenixNode)
	config.Register("rerank.dedup", BuildDedupNode)
	config.Register("rerank.topn", BuildTopNNode)
	config.Register("rerank.diversity", BuildDiversityNode)
}

func BuildANNNode(cfg map[string]any, deps pipeline.Deps) (pipeline.Node, error) {
	enc, err := pipeline.Lookup[model.Encoder](deps, pipeline.DepEncoder)
	if err != nil {
		return nil, err
	}
	idx, err := pipeline.Lookup[recall.Retriever](deps, pipeline.DepIndex)
	if err != nil {
		return nil, err
	}
	return &recall.ANN{
		Encoder: enc,
		Index:   idx,
		TopK:    conv.ConfigGetInt(cfg, "top_k", recall.DefaultTopK),
	}, nil
}

func BuildPhoenixNode(cfg map[string]any, deps pipeline.Deps) (pipeline.Node, error) {
	ranker, err := pipeline.Lookup[model.Ranker](deps, pipeline.DepRanker)
	if err != nil {
		return nil, err
	}
	var weights map[string]float64
	if wm, ok := cfg["weights"].(map[string]any); ok {
		weights = conv.MapToFloat64(wm)
		for task := range weights {
			known := false
			for _, t := range model.Tasks {
				known = known || t == task
			}
			if !known {
				return nil, fmt.Errorf("unknown task %q in weights", task)
			}
		}
	}
	return &rank.PhoenixNode{Model: ranker, Weights: weights}, nil
}

func BuildDedupNode(_ map[string]any, deps pipeline.Deps) (pipeline.Node, error) {
	posts, err := pipeline.Lookup[core.PostStore](deps, pipeline.DepPostStore)
	if err != nil {
		// 无帖子存储时按 id 去重
		return &rerank.DedupNode{}, nil
	}
	return &rerank.DedupNode{Posts: posts}, nil
}

func BuildTopNNode(cfg map[string]any, _ pipeline.Deps) (pipeline.Node, error) {
	return &rerank.TopNNode{N: conv.ConfigGetInt(cfg, "n", 0)}, nil
}

func BuildDiversityNode(cfg map[string]any, _ pipeline.Deps) (pipeline.Node, error) {
	return &rerank.AuthorDiversity{
		LabelKey:  conv.ConfigGet(cfg, "label_key", core.MetaAuthorID),
		MaxPerKey: conv.ConfigGetInt(cfg, "max_per_author", 1),
	}, nil
}

func BuildSafetyNode(cfg map[string]any, deps pipeline.Deps) (pipeline.Node, error) {
	checker, err := pipeline.Lookup[core.SafetyChecker](deps, pipeline.DepSafety)
	if err != nil {
		if conv.ConfigGet(cfg, "required", false) {
			return nil, err
		}
		// 未配置检查器时直通
		return &filter.SafetyNode{}, nil
	}
	return &filter.SafetyNode{
		Checker:                 checker,
		AllowInNetworkOnFailure: conv.ConfigGet(cfg, "allow_in_network_on_failure", false),
	}, nil
}

func BuildFilterNode(cfg map[string]any, _ pipeline.Deps) (pipeline.Node, error) {
	filtersConfig, ok := cfg["filters"].([]any)
	if !ok {
		return nil, fmt.Errorf("filters not found or invalid")
	}
	filters := make([]filter.Filter, 0, len(filtersConfig))
	for _, fc := range filtersConfig {
		filterMap, ok := fc.(map[string]any)
		if !ok {
			continue
		}
		filterType := conv.ConfigGet(filterMap, "type", "")
		switch filterType {
		case "blacklist":
			ids := conv.SliceAnyToString(filterMap["item_ids"])
			authors := conv.SliceAnyToString(filterMap["author_ids"])
			filters = append(filters, filter.NewBlacklistFilter(ids, authors))
		case "expr":
			f, err := filter.NewExprFilter(conv.ConfigGet(filterMap, "expr", ""))
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)
		default:
			return nil, fmt.Errorf("unknown filter type: %s", filterType)
		}
	}
	return &filter.FilterNode{Filters: filters}, nil
}
