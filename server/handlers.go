package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/logging"
	"github.com/rushteam/phoenix/model"
	"github.com/rushteam/phoenix/recall"
	"github.com/rushteam/phoenix/service"
	"github.com/rushteam/phoenix/vector"
)

// Handler 持有 ServingContext，所有路由共享
type Handler struct {
	sc *ServingContext
}

func NewHandler(sc *ServingContext) *Handler { return &Handler{sc: sc} }

func tookMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// lookupFeatures 读取用户预计算向量；未命中或出错时返回 nil
func (sc *ServingContext) lookupFeatures(ctx context.Context, userID string) *core.FeatureVector {
	if sc.Features == nil || userID == "" {
		return nil
	}
	fv, err := sc.Features.Lookup(ctx, userID)
	if err != nil {
		if !core.IsNotFound(err) {
			logging.Ctx(ctx).Debug().Err(err).Str("user_id", userID).Msg("feature lookup failed, encoding online")
		}
		return nil
	}
	return fv
}

// RetrieveRequest 是 /ann/retrieve 的请求体
type RetrieveRequest struct {
	UserID         string   `json:"userId" validate:"required"`
	HistoryPostIDs []string `json:"historyPostIds"`
	TopK           int      `json:"topK" validate:"gte=1"`
}

// RetrieveResponse 是 /ann/retrieve 的响应体
type RetrieveResponse struct {
	Candidates []vector.Hit `json:"candidates"`
	TookMs     float64      `json:"tookMs"`
}

// Retrieve 处理 POST /ann/retrieve
func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req RetrieveRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TopK > h.sc.Settings.Server.MaxTopK {
		writeError(w, r, core.NewValidationError(core.ModuleServer, "topK exceeds limit"))
		return
	}
	m := h.sc.Models()
	rctx := &core.RecommendContext{
		UserID:  req.UserID,
		History: req.HistoryPostIDs,
		Cached:  h.sc.lookupFeatures(r.Context(), req.UserID),
	}
	ann := &recall.ANN{Encoder: m.Tower, Index: h.sc.Index}
	hits, err := ann.Retrieve(r.Context(), rctx, req.TopK)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if hits == nil {
		hits = []vector.Hit{}
	}
	writeJSON(w, http.StatusOK, RetrieveResponse{Candidates: hits, TookMs: tookMs(start)})
}

// UserAction 是一条历史行为
type UserAction struct {
	Action       string `json:"action"`
	TargetPostID string `json:"targetPostId,omitempty"`
}

// PredictCandidate 是待打分的候选，authorId 可选
type PredictCandidate struct {
	PostID    string `json:"postId" validate:"required"`
	AuthorID  string `json:"authorId,omitempty"`
	InNetwork bool   `json:"inNetwork,omitempty"`
}

// PredictRequest 是 /phoenix/predict 的请求体。candidates 为空时返回空的 scores。
type PredictRequest struct {
	UserID             string             `json:"userId"`
	UserActionSequence []UserAction       `json:"userActionSequence" validate:"dive"`
	Candidates         []PredictCandidate `json:"candidates" validate:"dive"`
}

// PredictScore 是单个候选的多任务分数
type PredictScore struct {
	PostID string `json:"postId"`
	model.TaskScores
}

// PredictResponse 的 scores 与请求中 candidates 顺序一致
type PredictResponse struct {
	Scores []PredictScore `json:"scores"`
}

// Predict 处理 POST /phoenix/predict
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m := h.sc.Models()
	// 没有目标帖子的行为不进入历史
	history := make([]string, 0, len(req.UserActionSequence))
	for _, a := range req.UserActionSequence {
		if a.TargetPostID != "" {
			history = append(history, a.TargetPostID)
		}
	}
	candidates := make([]string, len(req.Candidates))
	for i, c := range req.Candidates {
		candidates[i] = c.PostID
	}
	// 历史按时间从旧到新，由模型截取最后 H 个
	scores, err := m.Ranker.Predict(history, nil, candidates)
	if err != nil {
		writeError(w, r, core.WrapDomainError(core.ModuleModel, core.ErrorCodeInternalError, "predict", err))
		return
	}
	out := make([]PredictScore, len(candidates))
	for i, id := range candidates {
		out[i] = PredictScore{PostID: id, TaskScores: scores[i]}
	}
	writeJSON(w, http.StatusOK, PredictResponse{Scores: out})
}

// CheckRequest 是 /vf/check 的请求体
type CheckRequest struct {
	Items []core.SafetyCheckItem `json:"items" validate:"required,min=1,dive"`
}

// CheckResponse 的 results 与 items 顺序一致；检查器失败时 degraded 为 true。
type CheckResponse struct {
	Results  []core.SafetyResult `json:"results"`
	Degraded bool                `json:"degraded,omitempty"`
}

// Check 处理 POST /vf/check。检查器失败时整批判为 unsafe，仍返回 200。
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	checker := h.sc.Safety
	if checker == nil {
		checker = &service.FailClosed{Checker: service.AllowAll{}}
	}
	results, err := checker.Check(r.Context(), req.Items)
	if err != nil || len(results) != len(req.Items) {
		logging.Ctx(r.Context()).Warn().Err(err).Str("checker", checker.Name()).Int("items", len(req.Items)).Msg("vf check failed closed")
		writeJSON(w, http.StatusOK, CheckResponse{Results: core.UnsafeAll(req.Items, "safety check unavailable"), Degraded: true})
		return
	}
	writeJSON(w, http.StatusOK, CheckResponse{Results: results})
}

// IndexStatus 是健康检查中的索引信息
type IndexStatus struct {
	Family     string `json:"family"`
	Version    int64  `json:"version"`
	Size       int    `json:"size"`
	Rebuilding bool   `json:"rebuilding"`
}

// HealthResponse 是 /health 的响应体
type HealthResponse struct {
	Status       string       `json:"status"`
	ModelsLoaded bool         `json:"modelsLoaded"`
	Index        *IndexStatus `json:"index,omitempty"`
}

// Health 处理 GET /health。索引不可用时返回 503。
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", ModelsLoaded: h.sc.Models() != nil}
	if snap := h.sc.Index.Current(); snap != nil {
		resp.Index = &IndexStatus{
			Family:     snap.Spec.Family.String(),
			Version:    snap.Version,
			Size:       snap.Index.Len(),
			Rebuilding: h.sc.Index.Rebuilding(),
		}
	}
	status := http.StatusOK
	if !resp.ModelsLoaded || resp.Index == nil {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// RebuildIndex 处理 POST /admin/index/rebuild：默认后台执行返回 202；
// ?wait=true 时同步执行返回 200。已有重建进行中返回 409。
func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") == "true" {
		if err := h.sc.RebuildIndex(r.Context()); err != nil {
			if errors.Is(err, vector.ErrRebuildInProgress) {
				writeJSON(w, http.StatusConflict, ErrorResponse{Code: core.ErrorCodeUnavailable, Error: "rebuild already in progress"})
				return
			}
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "rebuilt", "version": h.sc.Index.Current().Version})
		return
	}
	if err := h.sc.RebuildIndexAsync(); err != nil {
		writeJSON(w, http.StatusConflict, ErrorResponse{Code: core.ErrorCodeUnavailable, Error: "rebuild already in progress"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebuilding"})
}
