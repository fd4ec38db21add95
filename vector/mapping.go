package vector

import (
	"fmt"

	"github.com/rushteam/phoenix/core"
)

// IDMapping 是索引行号与物品 id 的双射，与向量数据一起版本化。
type IDMapping struct {
	ids     []string
	offsets map[string]int
}

// NewIDMapping 以 ids[i] 作为第 i 行的 id 构建映射；空 id 或重复 id 返回错误。
func NewIDMapping(ids []string) (*IDMapping, error) {
	m := &IDMapping{
		ids:     make([]string, len(ids)),
		offsets: make(map[string]int, len(ids)),
	}
	for i, id := range ids {
		if id == "" {
			return nil, core.NewValidationError(core.ModuleVector, fmt.Sprintf("id mapping: empty id at offset %d", i))
		}
		if prev, ok := m.offsets[id]; ok {
			return nil, core.NewValidationError(core.ModuleVector, fmt.Sprintf("id mapping: duplicate id %q at offsets %d and %d", id, prev, i))
		}
		m.offsets[id] = i
		m.ids[i] = id
	}
	return m, nil
}

// Len 返回条目数
func (m *IDMapping) Len() int { return len(m.ids) }

// ID 返回行号对应的 id
func (m *IDMapping) ID(offset int) (string, bool) {
	if offset < 0 || offset >= len(m.ids) {
		return "", false
	}
	return m.ids[offset], true
}

// Offset 返回 id 对应的行号
func (m *IDMapping) Offset(id string) (int, bool) {
	off, ok := m.offsets[id]
	return off, ok
}

// IDs 返回按行号排列的 id 副本
func (m *IDMapping) IDs() []string {
	out := make([]string, len(m.ids))
	copy(out, m.ids)
	return out
}
