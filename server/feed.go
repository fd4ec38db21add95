package server

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/logging"
	"github.com/rushteam/phoenix/metrics"
	"github.com/rushteam/phoenix/model"
	"github.com/rushteam/phoenix/pipeline"
	"github.com/rushteam/phoenix/recall"
	"github.com/rushteam/phoenix/rerank"
)

// FeedState 是 feed 请求的状态
type FeedState string

const (
	StateReceived   FeedState = "RECEIVED"
	StateRetrieving FeedState = "RETRIEVING"
	StateRanking    FeedState = "RANKING"
	StateDeduping   FeedState = "DEDUPING"
	StateResponded  FeedState = "RESPONDED"

	// 降级终态
	StateRetrievalFailed  FeedState = "RETRIEVAL_FAILED"
	StateRankingFailed    FeedState = "RANKING_FAILED"
	StateDeadlineExceeded FeedState = "DEADLINE_EXCEEDED"
)

// 降级原因，直接返回给调用方
const (
	ReasonRetrievalLastGood = "retrieval unavailable, serving last good candidates"
	ReasonRetrievalEmpty    = "retrieval unavailable"
	ReasonRankingFailed     = "ranking unavailable, serving retrieval order"
	ReasonDeadline          = "deadline exceeded, serving retrieval result"
	ReasonSafetyFailClosed  = "safety check unavailable, unverified candidates removed"
	ReasonDedupFailed       = "dedup unavailable, serving ranked order"
)

// stageState 把链路阶段映射为请求状态
func stageState(kind pipeline.Kind) FeedState {
	switch kind {
	case pipeline.KindRank:
		return StateRanking
	case pipeline.KindReRank:
		return StateDeduping
	}
	return StateRetrieving
}

// FeedRequest 是 /feed/recommend 的请求体
type FeedRequest struct {
	UserID         string   `json:"userId" validate:"required"`
	HistoryPostIDs []string `json:"historyPostIds"`
	TopK           int      `json:"topK" validate:"gte=1"`
	TimeoutMs      int      `json:"timeoutMs,omitempty" validate:"gte=0"`
}

// FeedCandidate 是 feed 结果中的一条
type FeedCandidate struct {
	PostID string  `json:"postId"`
	Score  float64 `json:"score"`
	Click  float64 `json:"click,omitempty"`
	Like   float64 `json:"like,omitempty"`
	Reply  float64 `json:"reply,omitempty"`
	Repost float64 `json:"repost,omitempty"`
}

// FeedResponse 是 /feed/recommend 的响应体
type FeedResponse struct {
	Candidates []FeedCandidate `json:"candidates"`
	State      FeedState       `json:"state"`
	Degraded   bool            `json:"degraded"`
	Reason     string          `json:"reason,omitempty"`
	TookMs     float64         `json:"tookMs"`
}

// feedRun 记录一次请求经过的状态
type feedRun struct {
	path []FeedState
}

func (f *feedRun) to(s FeedState) {
	if len(f.path) == 0 || f.path[len(f.path)-1] != s {
		f.path = append(f.path, s)
	}
}

func (f *feedRun) String() string {
	parts := make([]string, len(f.path))
	for i, s := range f.path {
		parts[i] = string(s)
	}
	return strings.Join(parts, ">")
}

// Recommend 处理 POST /feed/recommend
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req FeedRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TopK > h.sc.Settings.Server.MaxTopK {
		writeError(w, r, core.NewValidationError(core.ModuleServer, "topK exceeds limit"))
		return
	}
	resp := h.sc.Feed(r.Context(), req)
	resp.TookMs = tookMs(start)
	writeJSON(w, http.StatusOK, resp)
}

// Feed 运行 feed 链路：RECEIVED → RETRIEVING → RANKING → DEDUPING → RESPONDED。
// 任何阶段失败都降级返回，不向调用方报错。
func (sc *ServingContext) Feed(ctx context.Context, req FeedRequest) FeedResponse {
	run := &feedRun{}
	run.to(StateReceived)
	log := logging.Ctx(ctx)

	timeout := sc.Settings.Server.RequestTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rctx := &core.RecommendContext{
		UserID:  req.UserID,
		Scene:   "feed",
		History: sc.feedHistory(ctx, req),
		Params: map[string]any{
			recall.ParamTopK: req.TopK * max(sc.Settings.Server.RetrievalFactor, 1),
			rerank.ParamTopN: req.TopK,
		},
	}
	if len(req.HistoryPostIDs) == 0 {
		rctx.Cached = sc.lookupFeatures(ctx, req.UserID)
	}

	m := sc.Models()
	items, trace, err := m.Pipeline.RunWithTrace(ctx, rctx, nil)
	if trace != nil {
		for _, st := range trace.Stages {
			run.to(stageState(st.Kind))
		}
	}

	resp := FeedResponse{}
	switch {
	case err == nil:
		resp.Candidates = toCandidates(items, req.TopK)
		resp.State = StateResponded
		if _, failClosed := rctx.GetLabel("safety_degraded"); failClosed {
			resp.Degraded = true
			resp.Reason = ReasonSafetyFailClosed
		} else {
			sc.lastGood.Set(req.UserID, resp.Candidates)
		}
	default:
		resp = sc.degrade(req, err, m.Pipeline, trace)
		log.Warn().Err(err).Str("user_id", req.UserID).Str("state", string(resp.State)).Msg("feed degraded")
	}
	run.to(resp.State)
	if resp.Candidates == nil {
		resp.Candidates = []FeedCandidate{}
	}
	metrics.FeedResponses.WithLabelValues(string(resp.State), metrics.BoolLabel(resp.Degraded)).Inc()
	log.Debug().Str("user_id", req.UserID).Str("states", run.String()).Int("candidates", len(resp.Candidates)).Msg("feed responded")
	return resp
}

// degrade 按失败阶段 se.Kind 选择降级分支：
//   - recall / filter：召回或安全过滤未完成，返回该用户的 last-good 结果，没有则为空
//   - rank：按召回顺序返回（截止时间到时为 DEADLINE_EXCEEDED）
//   - rerank：返回排序结果，只按 id 去重
//
// 链路中失败位置之后还有过滤节点时，Partial 未经过滤，按召回失败处理。
func (sc *ServingContext) degrade(req FeedRequest, err error, p *pipeline.Pipeline, trace *pipeline.Trace) FeedResponse {
	resp := FeedResponse{Degraded: true}
	se, ok := pipeline.AsStageError(err)
	if !ok || se.Kind == pipeline.KindRecall || se.Kind == pipeline.KindFilter || filterPending(p, trace) {
		resp.State = StateRetrievalFailed
		resp.Reason = ReasonRetrievalEmpty
		if cached, hit := sc.lastGood.Get(req.UserID); hit {
			resp.Candidates = slices.Clone(cached)
			resp.Reason = ReasonRetrievalLastGood
		}
		return resp
	}
	resp.Candidates = toCandidates(rerank.Dedup(se.Partial, nil), req.TopK)
	switch {
	case se.IsDeadline():
		resp.State = StateDeadlineExceeded
		resp.Reason = ReasonDeadline
	case se.Kind == pipeline.KindRank:
		resp.State = StateRankingFailed
		resp.Reason = ReasonRankingFailed
	default:
		resp.State = StateResponded
		resp.Reason = ReasonDedupFailed
	}
	return resp
}

// filterPending 判断失败节点及其之后是否还有过滤节点。
// 成功阶段数即失败节点在链路中的下标。
func filterPending(p *pipeline.Pipeline, trace *pipeline.Trace) bool {
	if p == nil {
		return false
	}
	failed := 0
	if trace != nil {
		for _, st := range trace.Stages {
			if st.Err == "" {
				failed++
			}
		}
	}
	for _, n := range p.Nodes[min(failed, len(p.Nodes)):] {
		if n.Kind() == pipeline.KindFilter {
			return true
		}
	}
	return false
}

// feedHistory 返回请求中的历史；为空时从行为存储读取最近的目标（从旧到新）
func (sc *ServingContext) feedHistory(ctx context.Context, req FeedRequest) []string {
	if len(req.HistoryPostIDs) > 0 || sc.Events == nil {
		return req.HistoryPostIDs
	}
	limit := sc.Settings.Models.TowerMaxHistory
	since := time.Now().Add(-sc.Settings.Refresh.Lookback)
	recent, err := sc.Events.RecentTargets(ctx, req.UserID, since, core.DefaultActionTypes, limit)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("user_id", req.UserID).Msg("load history failed")
		return nil
	}
	slices.Reverse(recent)
	return recent
}

func toCandidates(items []*core.Item, topK int) []FeedCandidate {
	out := make([]FeedCandidate, 0, min(len(items), topK))
	for _, it := range items {
		if it == nil {
			continue
		}
		if len(out) == topK {
			break
		}
		fc := FeedCandidate{PostID: it.ID, Score: it.Score}
		fc.Click = it.Features[model.TaskClick]
		fc.Like = it.Features[model.TaskLike]
		fc.Reply = it.Features[model.TaskReply]
		fc.Repost = it.Features[model.TaskRepost]
		out = append(out, fc)
	}
	return out
}
