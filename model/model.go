package model

// Encoder 是召回阶段的双塔抽象：用户塔与物品塔输出同一空间中 L2 归一化的向量，
// 内积即余弦相似度。
//
// 实现必须是已加载权重的纯函数：未知 id 映射到 <UNK>，推理期间永不报错。
type Encoder interface {
	Name() string
	Dim() int
	EncodeUser(userID string, historyIDs []string, historyMask []float32) []float32
	EncodeItem(itemID string) []float32
}

// Ranker 是排序阶段的多任务抽象。
// 输出与 candidateIDs 顺序一致，每个候选的分数不受其他候选影响。
type Ranker interface {
	Name() string
	MaxHistory() int
	Predict(historyIDs []string, historyMask []float32, candidateIDs []string) ([]TaskScores, error)
}

// 排序任务名称
const (
	TaskClick  = "click"
	TaskLike   = "like"
	TaskReply  = "reply"
	TaskRepost = "repost"
)

// Tasks 是排序模型的输出任务列表，顺序与 TaskScores 字段一致。
var Tasks = []string{TaskClick, TaskLike, TaskReply, TaskRepost}

// TaskScores 是单个候选在各任务上的独立 sigmoid 概率（非互斥，不做联合 softmax）。
type TaskScores struct {
	Click  float32 `json:"click"`
	Like   float32 `json:"like"`
	Reply  float32 `json:"reply"`
	Repost float32 `json:"repost"`
}

// Get 按任务名称读取分数
func (s TaskScores) Get(task string) float32 {
	switch task {
	case TaskClick:
		return s.Click
	case TaskLike:
		return s.Like
	case TaskReply:
		return s.Reply
	case TaskRepost:
		return s.Repost
	}
	return 0
}

// Weighted 计算多任务加权和，weights 中缺失的任务权重为 0。
func (s TaskScores) Weighted(weights map[string]float64) float64 {
	var v float64
	for _, task := range Tasks {
		v += weights[task] * float64(s.Get(task))
	}
	return v
}

// DefaultTaskWeights 是 feed 排序使用的默认任务权重
func DefaultTaskWeights() map[string]float64 {
	return map[string]float64{
		TaskClick:  0.5,
		TaskLike:   2.0,
		TaskReply:  5.0,
		TaskRepost: 4.0,
	}
}
