// Package utils 提供候选与请求上的 Label 类型。
package utils

// Label 记录候选在链路中的来源与处理痕迹，例如 recall_source=ann、rank_model=phoenix。
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"` // 写入的阶段：recall / filter / rank / rerank
}

// MergeLabel 合并同名 Label：Value 以 '|' 追加，Source 以 ',' 追加，任一侧为空时取另一侧。
func MergeLabel(existing, incoming Label) Label {
	if existing.Value == "" {
		return incoming
	}
	if incoming.Value == "" {
		return existing
	}
	merged := Label{Value: existing.Value + "|" + incoming.Value, Source: existing.Source}
	switch {
	case existing.Source == "":
		merged.Source = incoming.Source
	case incoming.Source != "":
		merged.Source = existing.Source + "," + incoming.Source
	}
	return merged
}
