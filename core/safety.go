package core

import "context"

// SafetyCheckItem 是一条待检查的内容。
type SafetyCheckItem struct {
	PostID string `json:"postId" validate:"required"`
	UserID string `json:"userId,omitempty"`
}

// SafetyResult 是单条检查结果，顺序与输入一致。
type SafetyResult struct {
	PostID string `json:"postId"`
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

// SafetyChecker 是内容安全检查的领域接口。
// 分类器本身是外部协作方，这里只约定调用契约；实现方出错时应整体失败关闭（全部 unsafe）。
type SafetyChecker interface {
	Name() string
	Check(ctx context.Context, items []SafetyCheckItem) ([]SafetyResult, error)
}

// UnsafeAll 返回全部标记为 unsafe 的结果，用于失败关闭。
func UnsafeAll(items []SafetyCheckItem, reason string) []SafetyResult {
	out := make([]SafetyResult, len(items))
	for i, it := range items {
		out[i] = SafetyResult{PostID: it.PostID, Safe: false, Reason: reason}
	}
	return out
}
