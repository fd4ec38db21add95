package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/phoenix/pkg/vecmath"
)

func smallTower() *TwoTower {
	return NewRandomTwoTower(42, NewVocab([]string{"u1", "u2"}), testItems(20),
		TwoTowerConfig{EmbeddingDim: 8, HiddenDim: 16, OutputDim: 8, MaxHistory: 5})
}

func assertUnit(t *testing.T, v []float32) {
	t.Helper()
	require.True(t, vecmath.IsFinite(v), "向量包含非有限值")
	assert.InDelta(t, 1.0, vecmath.Norm(v), 1e-5)
}

func TestTwoTowerEncode(t *testing.T) {
	m := smallTower()
	assert.Equal(t, 8, m.Dim())

	assertUnit(t, m.EncodeItem("N1"))
	assertUnit(t, m.EncodeUser("u1", []string{"N1", "N2"}, []float32{1, 1}))

	// 纯函数：同输入同输出
	assert.Equal(t, m.EncodeUser("u1", []string{"N1"}, nil), m.EncodeUser("u1", []string{"N1"}, nil))
}

func TestTwoTowerUnknownIDs(t *testing.T) {
	m := smallTower()
	tests := []struct {
		name    string
		user    string
		history []string
		mask    []float32
	}{
		{"unknown user", "nobody", []string{"N1"}, nil},
		{"all unknown history", "u1", []string{"x1", "x2", "x3"}, []float32{1, 1, 1}},
		{"empty history", "u1", nil, nil},
		{"all padded", "u1", []string{"N1", "N2"}, []float32{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertUnit(t, m.EncodeUser(tt.user, tt.history, tt.mask))
		})
	}
	assert.Equal(t, m.EncodeItem("missing-a"), m.EncodeItem("missing-b"), "未知物品都映射到 <UNK>")
}

func TestTwoTowerMaskAndTruncation(t *testing.T) {
	m := smallTower()
	// mask 为 0 的位置不参与均值
	a := m.EncodeUser("u1", []string{"N1", "N2"}, []float32{1, 0})
	b := m.EncodeUser("u1", []string{"N1", "N7"}, []float32{1, 0})
	assert.Equal(t, a, b)

	// 只使用最后 MaxHistory 个历史
	long := []string{"N9", "N1", "N2", "N3", "N4", "N5"}
	assert.Equal(t, m.EncodeUser("u1", long[1:], nil), m.EncodeUser("u1", long, nil))
}

func TestTwoTowerExportAndEncodeUsers(t *testing.T) {
	m := smallTower()
	vectors, ids := m.ExportItemEmbeddings()
	require.Len(t, ids, 20)
	require.Len(t, vectors, 20)
	assert.Equal(t, "N0", ids[0])
	assert.Equal(t, m.EncodeItem("N3"), vectors[3])

	batch := m.EncodeUsers([]UserInput{{UserID: "u1", HistoryIDs: []string{"N1"}}, {UserID: "u2"}})
	require.Len(t, batch, 2)
	assert.Equal(t, m.EncodeUser("u1", []string{"N1"}, nil), batch[0])
}

func TestTwoTowerSaveLoad(t *testing.T) {
	m := smallTower()
	dir := t.TempDir()
	require.NoError(t, m.Save(dir))

	loaded, err := LoadTwoTower(dir, 5)
	require.NoError(t, err)
	assert.Equal(t, m.EncodeItem("N4"), loaded.EncodeItem("N4"))
	assert.Equal(t, m.EncodeUser("u2", []string{"N4", "N5"}, nil), loaded.EncodeUser("u2", []string{"N4", "N5"}, nil))

	require.NoError(t, os.Remove(filepath.Join(dir, TwoTowerWeightsFile)))
	_, err = LoadTwoTower(dir, 5)
	assert.Error(t, err, "缺少权重文件应报错")
}

func TestVocab(t *testing.T) {
	v := NewVocab([]string{"a", "b", "a", ""})
	assert.Equal(t, 4, v.Size())
	assert.Equal(t, PadIndex, v.Lookup(""))
	assert.Equal(t, UnkIndex, v.Lookup("zzz"))
	assert.Equal(t, 2, v.Lookup("a"))
	assert.True(t, v.Contains("b"))
	assert.False(t, v.Contains(UnkToken))
	assert.Equal(t, []string{"a", "b"}, v.Items())

	path := filepath.Join(t.TempDir(), "vocab.json")
	require.NoError(t, v.Save(path))
	loaded, err := LoadVocab(path)
	require.NoError(t, err)
	assert.Equal(t, v.Items(), loaded.Items())

	require.NoError(t, os.WriteFile(path, []byte(`{"<PAD>":0,"a":1}`), 0o644))
	_, err = LoadVocab(path)
	assert.Error(t, err)
}
