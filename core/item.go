package core

import "github.com/rushteam/phoenix/pkg/utils"

// Item 是推荐链路中的统一承载结构：特征、分数、元信息、标签。
// Labels 用于解释与策略驱动；Score 用于排序决策。
type Item struct {
	ID       string
	Score    float64
	Features map[string]float64
	Meta     map[string]any
	Labels   map[string]utils.Label
}

func NewItem(id string) *Item {
	return &Item{
		ID:       id,
		Score:    0,
		Features: make(map[string]float64),
		Meta:     make(map[string]any),
		Labels:   make(map[string]utils.Label),
	}
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}

// PutFeature 写入数值特征（排序模型的分任务分数也放在这里）。
func (it *Item) PutFeature(key string, v float64) {
	if it.Features == nil {
		it.Features = make(map[string]float64)
	}
	it.Features[key] = v
}

// MetaString 读取字符串类型的 Meta 值。
func (it *Item) MetaString(key string) string {
	if it.Meta == nil {
		return ""
	}
	s, _ := it.Meta[key].(string)
	return s
}

// Clone 返回浅拷贝；map 会被复制，Label 值本身不可变。
func (it *Item) Clone() *Item {
	out := &Item{
		ID:       it.ID,
		Score:    it.Score,
		Features: make(map[string]float64, len(it.Features)),
		Meta:     make(map[string]any, len(it.Meta)),
		Labels:   make(map[string]utils.Label, len(it.Labels)),
	}
	for k, v := range it.Features {
		out.Features[k] = v
	}
	for k, v := range it.Meta {
		out.Meta[k] = v
	}
	for k, v := range it.Labels {
		out.Labels[k] = v
	}
	return out
}

// Candidate 是排序请求中的候选：postId + 可选 authorId + 是否关注流内。
type Candidate struct {
	PostID    string
	AuthorID  string
	InNetwork bool
}

// Item 元信息 key
const (
	MetaAuthorID  = "author_id"
	MetaInNetwork = "in_network"
)
