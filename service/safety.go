// Package service 实现推荐链路依赖的外部协作方客户端：内容安全检查（/vf/check）。
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/logging"
	"github.com/rushteam/phoenix/metrics"
)

// DefaultBlockedKeywords 是关键词检查器默认屏蔽的词
var DefaultBlockedKeywords = []string{"spam", "nsfw", "violence", "hate"}

// KeywordChecker 是本地规则检查器：postId 包含屏蔽词（大小写不敏感）或作者在黑名单中时判为 unsafe。
// 分类器不可用时用于开发与测试。
type KeywordChecker struct {
	Keywords []string
	Blocked  map[string]struct{} // 黑名单用户
}

// NewKeywordChecker 创建关键词检查器，keywords 为空时使用 DefaultBlockedKeywords。
func NewKeywordChecker(keywords []string, blockedUsers []string) *KeywordChecker {
	if len(keywords) == 0 {
		keywords = DefaultBlockedKeywords
	}
	lower := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lower = append(lower, k)
		}
	}
	blocked := make(map[string]struct{}, len(blockedUsers))
	for _, u := range blockedUsers {
		blocked[u] = struct{}{}
	}
	return &KeywordChecker{Keywords: lower, Blocked: blocked}
}

func (c *KeywordChecker) Name() string { return "keyword" }

func (c *KeywordChecker) Check(ctx context.Context, items []core.SafetyCheckItem) ([]core.SafetyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]core.SafetyResult, len(items))
	for i, it := range items {
		out[i] = core.SafetyResult{PostID: it.PostID, Safe: true}
		if _, ok := c.Blocked[it.UserID]; ok && it.UserID != "" {
			out[i].Safe = false
			out[i].Reason = "Blocked user"
			continue
		}
		id := strings.ToLower(it.PostID)
		for _, k := range c.Keywords {
			if strings.Contains(id, k) {
				out[i].Safe = false
				out[i].Reason = "Contains blocked keyword: " + k
				break
			}
		}
	}
	return out, nil
}

// AllowAll 把所有内容判为 safe
type AllowAll struct{}

func (AllowAll) Name() string { return "none" }

func (AllowAll) Check(_ context.Context, items []core.SafetyCheckItem) ([]core.SafetyResult, error) {
	out := make([]core.SafetyResult, len(items))
	for i, it := range items {
		out[i] = core.SafetyResult{PostID: it.PostID, Safe: true}
	}
	return out, nil
}

// FailClosed 包装检查器：下游出错或返回结果数量不匹配时，整批标记为 unsafe。
// 返回的错误仍会带出，供调用方记录与降级标记。
type FailClosed struct {
	Checker core.SafetyChecker
}

func (f *FailClosed) Name() string { return f.Checker.Name() }

// Check 总是返回与 items 等长、顺序一致的结果
func (f *FailClosed) Check(ctx context.Context, items []core.SafetyCheckItem) ([]core.SafetyResult, error) {
	if len(items) == 0 {
		return []core.SafetyResult{}, nil
	}
	results, err := f.Checker.Check(ctx, items)
	if err == nil {
		results, err = alignResults(items, results)
	}
	if err != nil {
		reason := "safety check unavailable"
		label := "error"
		if core.IsUpstreamTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			reason = "safety check timeout"
			label = "timeout"
		}
		metrics.SafetyCheckFailures.WithLabelValues(f.Checker.Name(), label).Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("checker", f.Checker.Name()).Int("items", len(items)).Msg("safety check failed closed")
		return core.UnsafeAll(items, reason), err
	}
	return results, nil
}

// alignResults 按输入顺序对齐结果；缺失的 postId 视为检查失败。
func alignResults(items []core.SafetyCheckItem, results []core.SafetyResult) ([]core.SafetyResult, error) {
	byID := make(map[string]core.SafetyResult, len(results))
	for _, r := range results {
		byID[r.PostID] = r
	}
	out := make([]core.SafetyResult, len(items))
	for i, it := range items {
		r, ok := byID[it.PostID]
		if !ok {
			return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInternalError, "safety: missing result for "+it.PostID)
		}
		out[i] = r
	}
	return out, nil
}

var (
	_ core.SafetyChecker = (*KeywordChecker)(nil)
	_ core.SafetyChecker = AllowAll{}
	_ core.SafetyChecker = (*FailClosed)(nil)
)
