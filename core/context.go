package core

import "github.com/rushteam/phoenix/pkg/utils"

// RecommendContext 承载用户/场景/实时信息，贯穿整个 Pipeline 透传。
type RecommendContext struct {
	UserID string
	Scene  string

	// History 是用户最近交互过的 postId，按时间从旧到新排列。
	// 召回和排序阶段各自截断到自己的最大长度。
	History []string

	// HistoryMask 与 History 等长，1 表示有效位，0 表示填充位。
	// 为空时视为 History 全部有效。
	HistoryMask []float32

	// Cached 是特征存储中该用户的有效 FeatureVector（可选）。
	// History 为空时召回阶段用它作为用户向量。
	Cached *FeatureVector

	// Candidates 为排序阶段补充 authorId / inNetwork 信息，key 为 postId。
	Candidates map[string]Candidate

	// Labels 是用户级标签，可驱动整个 Pipeline 行为
	// 例如：冷启动、降级原因等
	Labels map[string]utils.Label

	// Params 请求级上下文参数，例如 top_k
	Params map[string]any
}

// PutLabel 写入用户级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取用户级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}

// HistoryWindow 返回最后 maxLen 个历史及其 mask，不足部分在右侧补 PAD（空串 + mask 0）。
// maxLen <= 0 时返回原始历史。
func (rctx *RecommendContext) HistoryWindow(maxLen int) ([]string, []float32) {
	return PadHistory(rctx.History, rctx.HistoryMask, maxLen)
}

// PadHistory 截取 history 的最后 maxLen 个元素并右侧补齐。
// mask 为空时视为全部有效；mask[i] 为 0 的位置保持无效。
func PadHistory(history []string, mask []float32, maxLen int) ([]string, []float32) {
	if maxLen <= 0 {
		maxLen = len(history)
	}
	start := 0
	if len(history) > maxLen {
		start = len(history) - maxLen
	}
	ids := make([]string, maxLen)
	out := make([]float32, maxLen)
	for i := start; i < len(history); i++ {
		ids[i-start] = history[i]
		valid := float32(1)
		if len(mask) == len(history) {
			valid = mask[i]
		}
		if history[i] == "" {
			valid = 0
		}
		out[i-start] = valid
	}
	return ids, out
}
