package model

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// 保留 token
const (
	PadToken = "<PAD>"
	UnkToken = "<UNK>"
	PadIndex = 0
	UnkIndex = 1
)

// Vocab 是 id -> 行号 的映射；行号 0/1 固定为 <PAD>/<UNK>。
type Vocab struct {
	index  map[string]int
	tokens []string
}

// NewVocab 以给定 id 顺序构建词表，自动前置 <PAD>/<UNK>，重复 id 只保留第一次。
func NewVocab(ids []string) *Vocab {
	v := &Vocab{
		index:  make(map[string]int, len(ids)+2),
		tokens: make([]string, 0, len(ids)+2),
	}
	v.add(PadToken)
	v.add(UnkToken)
	for _, id := range ids {
		if id == "" {
			continue
		}
		v.add(id)
	}
	return v
}

func (v *Vocab) add(token string) {
	if _, ok := v.index[token]; ok {
		return
	}
	v.index[token] = len(v.tokens)
	v.tokens = append(v.tokens, token)
}

// LoadVocab 读取 JSON 对象形式的词表：{"<PAD>":0,"<UNK>":1,"N123":2,...}。
// 行号必须从 0 开始连续，且 <PAD>=0、<UNK>=1。
func LoadVocab(path string) (*Vocab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	raw := make(map[string]int)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse vocab %s: %w", path, err)
	}
	return vocabFromMap(raw)
}

func vocabFromMap(raw map[string]int) (*Vocab, error) {
	if idx, ok := raw[PadToken]; !ok || idx != PadIndex {
		return nil, fmt.Errorf("vocab: %s must map to %d", PadToken, PadIndex)
	}
	if idx, ok := raw[UnkToken]; !ok || idx != UnkIndex {
		return nil, fmt.Errorf("vocab: %s must map to %d", UnkToken, UnkIndex)
	}
	tokens := make([]string, len(raw))
	for token, idx := range raw {
		if idx < 0 || idx >= len(raw) || tokens[idx] != "" {
			return nil, fmt.Errorf("vocab: index %d of %q is out of range or duplicated", idx, token)
		}
		tokens[idx] = token
	}
	return &Vocab{index: raw, tokens: tokens}, nil
}

// Save 以 JSON 对象写出词表
func (v *Vocab) Save(path string) error {
	data, err := json.Marshal(v.index)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Size 返回包含保留 token 的词表大小
func (v *Vocab) Size() int { return len(v.tokens) }

// Lookup 返回 id 的行号：空串为 <PAD>，未知 id 为 <UNK>。
func (v *Vocab) Lookup(id string) int {
	if id == "" {
		return PadIndex
	}
	if idx, ok := v.index[id]; ok {
		return idx
	}
	return UnkIndex
}

// Contains 判断 id 是否为词表中的真实条目（不含保留 token）
func (v *Vocab) Contains(id string) bool {
	idx, ok := v.index[id]
	return ok && idx > UnkIndex
}

// Token 返回行号对应的 id
func (v *Vocab) Token(idx int) string {
	if idx < 0 || idx >= len(v.tokens) {
		return UnkToken
	}
	return v.tokens[idx]
}

// Items 返回按行号排列的真实条目（不含保留 token）
func (v *Vocab) Items() []string {
	if len(v.tokens) <= UnkIndex+1 {
		return nil
	}
	out := make([]string, len(v.tokens)-UnkIndex-1)
	copy(out, v.tokens[UnkIndex+1:])
	return out
}
