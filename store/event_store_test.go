package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/phoenix/core"
)

type eventFixture interface {
	core.EventStore
	core.PostStore
}

func seedActions(base time.Time) []core.Action {
	return []core.Action{
		{UserID: "bob", ActionType: "like", TargetPostID: "p1", CreatedAt: base.Add(-time.Hour)},
		{UserID: "bob", ActionType: "click", TargetPostID: "p2", CreatedAt: base.Add(-30 * time.Minute)},
		{UserID: "bob", ActionType: "reply", TargetPostID: "p3", CreatedAt: base.Add(-10 * time.Minute)},
		{UserID: "alice", ActionType: "like", TargetPostID: "p4", CreatedAt: base.Add(-5 * time.Minute)},
		{UserID: "carol", ActionType: "impression", TargetPostID: "p5", CreatedAt: base.Add(-5 * time.Minute)},
		{UserID: "dave", ActionType: "like", TargetPostID: "p6", CreatedAt: base.Add(-72 * time.Hour)},
	}
}

func testEventStore(t *testing.T, s eventFixture) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	since := base.Add(-24 * time.Hour)

	users, err := s.ActiveUsers(ctx, since, core.DefaultActionTypes, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users, "去重、升序、过滤行为类型与时间窗口")

	users, err = s.ActiveUsers(ctx, since, core.DefaultActionTypes, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	targets, err := s.RecentTargets(ctx, "bob", since, core.DefaultActionTypes, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p2", "p1"}, targets, "从新到旧")

	targets, err = s.RecentTargets(ctx, "bob", since, core.DefaultActionTypes, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p2"}, targets)

	targets, err = s.RecentTargets(ctx, "nobody", since, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, targets)

	posts, err := s.GetPosts(ctx, []string{"p1", "p2", "missing"})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "root", posts["p2"].ConversationID)
	assert.Equal(t, "p1", posts["p2"].ReplyToPostID)
	assert.Equal(t, "a1", posts["p1"].AuthorID)
}

func seedPosts() []*core.Post {
	return []*core.Post{
		{ID: "p1", AuthorID: "a1", ConversationID: "root"},
		{ID: "p2", AuthorID: "a2", ReplyToPostID: "p1", ConversationID: "root"},
	}
}

type memoryFixture struct {
	*MemoryEventStore
	*MemoryPostStore
}

func TestMemoryEventStore(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Millisecond)
	testEventStore(t, memoryFixture{
		MemoryEventStore: NewMemoryEventStore(seedActions(base)...),
		MemoryPostStore:  NewMemoryPostStore(seedPosts()...),
	})
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "phoenix.db"))
	require.NoError(t, err)
	defer s.Close()

	base := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.RecordActions(ctx, seedActions(base)...))
	require.NoError(t, s.PutPosts(ctx, seedPosts()...))
	testEventStore(t, s)

	// 覆盖写入
	require.NoError(t, s.PutPosts(ctx, &core.Post{ID: "p1", AuthorID: "a9"}))
	posts, err := s.GetPosts(ctx, []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, "a9", posts["p1"].AuthorID)
	assert.Empty(t, posts["p1"].ConversationID)
}
