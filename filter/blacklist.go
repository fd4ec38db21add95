package filter

import (
	"context"

	"github.com/rushteam/phoenix/core"
)

// BlacklistFilter 是黑名单过滤器，过滤掉黑名单中的帖子或作者。
type BlacklistFilter struct {
	items   map[string]struct{}
	authors map[string]struct{}
}

// NewBlacklistFilter 创建一个黑名单过滤器。
// authorIDs 依赖 rank.phoenix 写入的 Meta[author_id]。
func NewBlacklistFilter(itemIDs, authorIDs []string) *BlacklistFilter {
	f := &BlacklistFilter{
		items:   make(map[string]struct{}, len(itemIDs)),
		authors: make(map[string]struct{}, len(authorIDs)),
	}
	for _, id := range itemIDs {
		f.items[id] = struct{}{}
	}
	for _, id := range authorIDs {
		f.authors[id] = struct{}{}
	}
	return f
}

func (f *BlacklistFilter) Name() string {
	return "filter.blacklist"
}

func (f *BlacklistFilter) ShouldFilter(
	_ context.Context,
	_ *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil {
		return true, nil
	}
	if _, ok := f.items[item.ID]; ok {
		return true, nil
	}
	if author := item.MetaString(core.MetaAuthorID); author != "" {
		if _, ok := f.authors[author]; ok {
			return true, nil
		}
	}
	return false, nil
}
