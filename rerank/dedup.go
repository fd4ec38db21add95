package rerank

import (
	"context"
	"sort"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/logging"
	"github.com/rushteam/phoenix/pipeline"
)

// RelatedIDs 返回帖子的相关 id 组：{自身, originalPostId, replyToPostId, conversationId}，
// 去重且忽略空值，顺序固定。
func RelatedIDs(post *core.Post) []string {
	if post == nil {
		return nil
	}
	group := make([]string, 0, 4)
	for _, id := range []string{post.ID, post.OriginalPostID, post.ReplyToPostID, post.ConversationID} {
		if id == "" {
			continue
		}
		dup := false
		for _, g := range group {
			if g == id {
				dup = true
				break
			}
		}
		if !dup {
			group = append(group, id)
		}
	}
	return group
}

// Dedup 按相关 id 组去重：先按分数降序（同分按 id 升序）稳定排序，
// 依次检查候选的相关 id 组，任一 id 已出现则丢弃，否则保留并把整组记为已出现。
// postsByID 中不存在的候选自成一组。结果保持分数降序，且 Dedup(Dedup(x)) == Dedup(x)。
func Dedup(scored []*core.Item, postsByID map[string]*core.Post) []*core.Item {
	sorted := make([]*core.Item, 0, len(scored))
	for _, it := range scored {
		if it != nil {
			sorted = append(sorted, it)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID < sorted[j].ID
	})

	seen := make(map[string]struct{}, len(sorted)*2)
	out := make([]*core.Item, 0, len(sorted))
	for _, it := range sorted {
		group := []string{it.ID}
		if post, ok := postsByID[it.ID]; ok && post != nil {
			group = RelatedIDs(post)
			if len(group) == 0 || group[0] != it.ID {
				// 存储中的 id 与候选不一致时以候选 id 为准
				group = append([]string{it.ID}, group...)
			}
		}
		drop := false
		for _, id := range group {
			if _, ok := seen[id]; ok {
				drop = true
				break
			}
		}
		if drop {
			continue
		}
		for _, id := range group {
			seen[id] = struct{}{}
		}
		out = append(out, it)
	}
	return out
}

// DedupNode 从 PostStore 批量读取候选的帖子元信息并执行 Dedup。
// 读取失败时所有候选按自成一组处理（仍会去掉重复 id）。
type DedupNode struct {
	Posts core.PostStore
}

func (n *DedupNode) Name() string        { return "rerank.dedup" }
func (n *DedupNode) Kind() pipeline.Kind { return pipeline.KindReRank }

func (n *DedupNode) Process(
	ctx context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}
	var posts map[string]*core.Post
	if n.Posts != nil {
		ids := make([]string, 0, len(items))
		for _, it := range items {
			if it != nil {
				ids = append(ids, it.ID)
			}
		}
		var err error
		posts, err = n.Posts.GetPosts(ctx, ids)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int("candidates", len(ids)).Msg("load posts for dedup failed, deduping by id only")
			posts = nil
		}
	}
	return Dedup(items, posts), nil
}

var _ pipeline.Node = (*DedupNode)(nil)
