package rerank

import (
	"context"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/pipeline"
)

// AuthorDiversity 限制同一作者在结果中的条数，保持原有顺序。
// 作者来源优先级：
// - label[LabelKey].Value
// - meta[LabelKey] (string)
// 没有作者信息的 item 不受限制。
type AuthorDiversity struct {
	LabelKey  string // 默认 core.MetaAuthorID
	MaxPerKey int    // 默认 1
}

func (n *AuthorDiversity) Name() string {
	return "rerank.diversity"
}

func (n *AuthorDiversity) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *AuthorDiversity) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}

	key := n.LabelKey
	if key == "" {
		key = core.MetaAuthorID
	}
	limit := n.MaxPerKey
	if limit <= 0 {
		limit = 1
	}

	seen := make(map[string]int, 32)
	out := make([]*core.Item, 0, len(items))

	for _, it := range items {
		if it == nil {
			continue
		}

		author := ""
		if it.Labels != nil {
			if lbl, ok := it.Labels[key]; ok {
				author = lbl.Value
			}
		}
		if author == "" {
			author = it.MetaString(key)
		}

		if author == "" {
			out = append(out, it)
			continue
		}
		if seen[author] >= limit {
			continue
		}
		seen[author]++
		out = append(out, it)
	}

	return out, nil
}
