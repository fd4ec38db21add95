package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/phoenix/core"
)

func scored(pairs ...any) []*core.Item {
	out := make([]*core.Item, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		it := core.NewItem(pairs[i].(string))
		it.Score = pairs[i+1].(float64)
		out = append(out, it)
	}
	return out
}

func ids(items []*core.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestRelatedIDs(t *testing.T) {
	tests := []struct {
		name string
		post *core.Post
		want []string
	}{
		{"nil", nil, nil},
		{"只有自身", &core.Post{ID: "a"}, []string{"a"}},
		{"全部字段", &core.Post{ID: "a", OriginalPostID: "o", ReplyToPostID: "r", ConversationID: "c"}, []string{"a", "o", "r", "c"}},
		{"重复字段去重", &core.Post{ID: "a", ReplyToPostID: "root", ConversationID: "root"}, []string{"a", "root"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RelatedIDs(tt.post))
		})
	}
}

func TestDedupConversation(t *testing.T) {
	items := scored("a", 0.1, "b", 0.9, "c", 0.5)
	posts := map[string]*core.Post{
		"a": {ID: "a", ConversationID: "root"},
		"b": {ID: "b", ConversationID: "root"},
		"c": {ID: "c", ConversationID: "root"},
	}
	got := Dedup(items, posts)
	assert.Equal(t, []string{"b"}, ids(got), "同一会话只保留分数最高的")
}

func TestDedupRules(t *testing.T) {
	posts := map[string]*core.Post{
		"quote":  {ID: "quote", OriginalPostID: "orig"},
		"orig":   {ID: "orig"},
		"reply1": {ID: "reply1", ReplyToPostID: "p9"},
		"reply2": {ID: "reply2", ReplyToPostID: "p9"},
		"solo":   {ID: "solo"},
	}
	items := scored("orig", 0.4, "quote", 0.8, "reply1", 0.7, "reply2", 0.6, "solo", 0.5, "unknown", 0.3)
	got := Dedup(items, posts)
	assert.Equal(t, []string{"quote", "reply1", "solo", "unknown"}, ids(got))

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score, "结果保持分数降序")
	}
}

func TestDedupTieBreakAndIdempotent(t *testing.T) {
	posts := map[string]*core.Post{
		"b": {ID: "b", ConversationID: "x"},
		"a": {ID: "a", ConversationID: "x"},
	}
	got := Dedup(scored("b", 0.5, "a", 0.5), posts)
	assert.Equal(t, []string{"a"}, ids(got), "同分按 id 升序")

	items := scored("p1", 0.9, "p2", 0.8, "p3", 0.8, "p1", 0.1)
	once := Dedup(items, nil)
	assert.Equal(t, []string{"p1", "p2", "p3"}, ids(once), "缺失元信息时按自身 id 去重")
	assert.Equal(t, ids(once), ids(Dedup(once, nil)))
	assert.Equal(t, ids(Dedup(items, posts)), ids(Dedup(Dedup(items, posts), posts)))
	assert.Empty(t, Dedup(nil, posts))
}

type postStore struct {
	posts map[string]*core.Post
	err   error
}

func (s postStore) GetPosts(_ context.Context, ids []string) (map[string]*core.Post, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]*core.Post)
	for _, id := range ids {
		if p, ok := s.posts[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func TestDedupNode(t *testing.T) {
	store := postStore{posts: map[string]*core.Post{
		"a": {ID: "a", ConversationID: "c"},
		"b": {ID: "b", ConversationID: "c"},
	}}
	n := &DedupNode{Posts: store}
	out, err := n.Process(context.Background(), nil, scored("a", 0.2, "b", 0.3, "z", 0.1))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "z"}, ids(out))

	n = &DedupNode{Posts: postStore{err: errors.New("db down")}}
	out, err = n.Process(context.Background(), nil, scored("a", 0.2, "b", 0.3))
	require.NoError(t, err, "存储失败时降级为按 id 去重")
	assert.Equal(t, []string{"b", "a"}, ids(out))
}

func TestTopNNode(t *testing.T) {
	items := scored("a", 3.0, "b", 2.0, "c", 1.0)
	out, err := (&TopNNode{N: 2}).Process(context.Background(), nil, items)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(out))

	rctx := &core.RecommendContext{Params: map[string]any{ParamTopN: 1}}
	out, err = (&TopNNode{N: 2}).Process(context.Background(), rctx, items)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(out), "请求参数优先")

	out, err = (&TopNNode{}).Process(context.Background(), nil, items)
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestAuthorDiversity(t *testing.T) {
	items := scored("a", 3.0, "b", 2.0, "c", 1.0, "d", 0.5)
	items[0].Meta[core.MetaAuthorID] = "u1"
	items[1].Meta[core.MetaAuthorID] = "u1"
	items[2].Meta[core.MetaAuthorID] = "u2"

	out, err := (&AuthorDiversity{}).Process(context.Background(), nil, items)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, ids(out))

	out, err = (&AuthorDiversity{MaxPerKey: 2}).Process(context.Background(), nil, items)
	require.NoError(t, err)
	assert.Len(t, out, 4)
}
