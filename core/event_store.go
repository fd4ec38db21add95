package core

import (
	"context"
	"time"
)

// Action 是一条用户行为记录。
type Action struct {
	UserID       string
	ActionType   string
	TargetPostID string
	CreatedAt    time.Time
}

// 参与特征刷新的默认行为类型
var DefaultActionTypes = []string{
	"like", "reply", "repost", "quote", "click", "share",
	"video_view", "video_quality_view", "dwell",
}

// EventStore 是用户行为存储的领域接口（只读），由 store 包实现。
type EventStore interface {
	// ActiveUsers 返回 since 之后有 actionTypes 行为的去重用户，按 userId 升序，最多 limit 个。
	// limit <= 0 表示不限制。
	ActiveUsers(ctx context.Context, since time.Time, actionTypes []string, limit int) ([]string, error)

	// RecentTargets 返回用户 since 之后最近 limit 条行为的 targetPostId，按时间从新到旧。
	RecentTargets(ctx context.Context, userID string, since time.Time, actionTypes []string, limit int) ([]string, error)
}
