package model

import (
	"fmt"
	"path/filepath"

	"github.com/rushteam/phoenix/pkg/safetensors"
	"github.com/rushteam/phoenix/pkg/vecmath"
)

// TwoTower 是 ID-embedding 双塔模型（User Tower + Item Tower）。
//
// 核心思想：
//   - Item Tower：normalize(fc_item(itemEmb[i]))
//   - User Tower：normalize(fc_user(userEmb[u] + maskedMean(itemEmb[history])))
//   - fc = Linear → ReLU → Linear
//   - 相似度为内积（输出已 L2 归一化，等价于余弦）
//
// 工程特征：
//   - 实时性：好（Item Embedding 可离线导出为 ANN 索引）
//   - 计算复杂度：低（两层全连接）
//   - 未知 id 映射到 <UNK>，推理永不报错
type TwoTower struct {
	Users *Vocab
	Items *Vocab

	userEmb *Embedding
	itemEmb *Embedding
	userFC  *MLP
	itemFC  *MLP

	maxHistory int
}

// TwoTowerConfig 是双塔结构参数
type TwoTowerConfig struct {
	EmbeddingDim int // id embedding 维度
	HiddenDim    int // fc 隐层维度
	OutputDim    int // 输出向量维度 D
	MaxHistory   int // 用户塔使用的最大历史长度
}

// DefaultTwoTowerConfig 返回默认结构
func DefaultTwoTowerConfig() TwoTowerConfig {
	return TwoTowerConfig{EmbeddingDim: 64, HiddenDim: 128, OutputDim: 64, MaxHistory: 50}
}

// 双塔权重文件与词表文件名
const (
	TwoTowerWeightsFile = "two_tower.safetensors"
	UserVocabFile       = "user_vocab.json"
	ItemVocabFile       = "news_vocab.json"
)

// LoadTwoTower 从目录加载权重与词表；任一文件缺失即返回错误（启动期致命）。
func LoadTwoTower(dir string, maxHistory int) (*TwoTower, error) {
	users, err := LoadVocab(filepath.Join(dir, UserVocabFile))
	if err != nil {
		return nil, fmt.Errorf("two tower: %w", err)
	}
	items, err := LoadVocab(filepath.Join(dir, ItemVocabFile))
	if err != nil {
		return nil, fmt.Errorf("two tower: %w", err)
	}
	tensors, err := safetensors.Load(filepath.Join(dir, TwoTowerWeightsFile))
	if err != nil {
		return nil, fmt.Errorf("two tower: load weights: %w", err)
	}
	return NewTwoTower(users, items, tensors, maxHistory)
}

// NewTwoTower 从张量表构建模型并校验形状
func NewTwoTower(users, items *Vocab, tensors map[string]*safetensors.Tensor, maxHistory int) (*TwoTower, error) {
	w := &weightLoader{tensors: tensors}
	shape := w.shape("news_embedding")
	if len(shape) != 2 {
		return nil, fmt.Errorf("two tower: missing tensor news_embedding")
	}
	embDim := shape[1]
	hidden := -1
	if s := w.shape("news_fc.0.weight"); len(s) == 2 {
		hidden = s[0]
	}
	out := -1
	if s := w.shape("news_fc.2.weight"); len(s) == 2 {
		out = s[0]
	}

	m := &TwoTower{
		Users:      users,
		Items:      items,
		userEmb:    w.embedding("user_embedding", users.Size(), embDim),
		itemEmb:    w.embedding("news_embedding", items.Size(), embDim),
		userFC:     &MLP{Layers: []*Linear{w.linear("user_fc.0", embDim, hidden), w.linear("user_fc.2", hidden, out)}},
		itemFC:     &MLP{Layers: []*Linear{w.linear("news_fc.0", embDim, hidden), w.linear("news_fc.2", hidden, out)}},
		maxHistory: maxHistory,
	}
	if w.err != nil {
		return nil, fmt.Errorf("two tower: %w", w.err)
	}
	if m.maxHistory <= 0 {
		m.maxHistory = DefaultTwoTowerConfig().MaxHistory
	}
	return m, nil
}

// NewRandomTwoTower 以固定种子构建确定性的随机权重模型，用于测试与本地开发。
func NewRandomTwoTower(seed uint64, users, items *Vocab, cfg TwoTowerConfig) *TwoTower {
	g := newInitializer(seed)
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultTwoTowerConfig().MaxHistory
	}
	return &TwoTower{
		Users:      users,
		Items:      items,
		userEmb:    g.embedding(users.Size(), cfg.EmbeddingDim),
		itemEmb:    g.embedding(items.Size(), cfg.EmbeddingDim),
		userFC:     &MLP{Layers: []*Linear{g.linear(cfg.EmbeddingDim, cfg.HiddenDim), g.linear(cfg.HiddenDim, cfg.OutputDim)}},
		itemFC:     &MLP{Layers: []*Linear{g.linear(cfg.EmbeddingDim, cfg.HiddenDim), g.linear(cfg.HiddenDim, cfg.OutputDim)}},
		maxHistory: cfg.MaxHistory,
	}
}

// Save 将权重与词表写入目录，可由 LoadTwoTower 读回
func (m *TwoTower) Save(dir string) error {
	w := weightWriter{}
	w.embedding("user_embedding", m.userEmb)
	w.embedding("news_embedding", m.itemEmb)
	w.linear("user_fc.0", m.userFC.Layers[0])
	w.linear("user_fc.2", m.userFC.Layers[1])
	w.linear("news_fc.0", m.itemFC.Layers[0])
	w.linear("news_fc.2", m.itemFC.Layers[1])
	if err := safetensors.Save(filepath.Join(dir, TwoTowerWeightsFile), w); err != nil {
		return err
	}
	if err := m.Users.Save(filepath.Join(dir, UserVocabFile)); err != nil {
		return err
	}
	return m.Items.Save(filepath.Join(dir, ItemVocabFile))
}

func (m *TwoTower) Name() string { return "two_tower" }

// Dim 返回输出向量维度
func (m *TwoTower) Dim() int { return m.itemFC.OutDim() }

// KnownItem 判断物品是否在词表中
func (m *TwoTower) KnownItem(itemID string) bool { return m.Items.Contains(itemID) }

// MaxHistory 返回用户塔使用的最大历史长度
func (m *TwoTower) MaxHistory() int { return m.maxHistory }

// EncodeItem 返回物品向量（L2 归一化）
func (m *TwoTower) EncodeItem(itemID string) []float32 {
	return m.encodeItemIndex(m.Items.Lookup(itemID))
}

func (m *TwoTower) encodeItemIndex(idx int) []float32 {
	return vecmath.Normalize(m.itemFC.Forward(m.itemEmb.Row(idx)))
}

// EncodeUser 返回用户向量（L2 归一化）。
// 历史取最后 MaxHistory 个；mask 为 0 的位置与空 id 不参与均值，有效数至少按 1 计。
func (m *TwoTower) EncodeUser(userID string, historyIDs []string, historyMask []float32) []float32 {
	start := 0
	if len(historyIDs) > m.maxHistory {
		start = len(historyIDs) - m.maxHistory
	}
	dim := m.itemEmb.Dim
	sum := make([]float32, dim)
	var count float32
	for i := start; i < len(historyIDs); i++ {
		if historyIDs[i] == "" {
			continue
		}
		weight := float32(1)
		if len(historyMask) == len(historyIDs) {
			weight = historyMask[i]
		}
		if weight == 0 {
			continue
		}
		row := m.itemEmb.Row(m.Items.Lookup(historyIDs[i]))
		for d := 0; d < dim; d++ {
			sum[d] += row[d] * weight
		}
		count += weight
	}
	if count < 1 {
		count = 1
	}
	x := make([]float32, dim)
	user := m.userEmb.Row(m.Users.Lookup(userID))
	for d := 0; d < dim; d++ {
		x[d] = user[d] + sum[d]/count
	}
	return vecmath.Normalize(m.userFC.Forward(x))
}

// UserInput 是批量编码的单个用户输入
type UserInput struct {
	UserID      string
	HistoryIDs  []string
	HistoryMask []float32
}

// EncodeUsers 批量编码用户（仅推理路径，供特征刷新任务使用）
func (m *TwoTower) EncodeUsers(batch []UserInput) [][]float32 {
	out := make([][]float32, len(batch))
	for i, in := range batch {
		out[i] = m.EncodeUser(in.UserID, in.HistoryIDs, in.HistoryMask)
	}
	return out
}

// ExportItemEmbeddings 导出词表中所有真实物品的向量，作为 ANN 索引的构建矩阵。
// 返回的 ids[i] 对应 vectors[i]。
func (m *TwoTower) ExportItemEmbeddings() ([][]float32, []string) {
	ids := m.Items.Items()
	vectors := make([][]float32, len(ids))
	for i := range ids {
		vectors[i] = m.encodeItemIndex(i + UnkIndex + 1)
	}
	return vectors, ids
}

var _ Encoder = (*TwoTower)(nil)
