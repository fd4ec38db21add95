package model

import (
	"fmt"
	"path/filepath"

	"github.com/chewxy/math32"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/pkg/safetensors"
	"github.com/rushteam/phoenix/pkg/vecmath"
)

// PhoenixConfig 是排序 Transformer 的结构参数
type PhoenixConfig struct {
	Dim          int // 隐层维度 D
	Heads        int // 注意力头数
	Layers       int // encoder 层数
	MaxPositions int // 位置 embedding 个数
	MaxHistory   int // 历史窗口 H
}

// DefaultPhoenixConfig 返回默认结构
func DefaultPhoenixConfig() PhoenixConfig {
	return PhoenixConfig{Dim: 256, Heads: 4, Layers: 2, MaxPositions: 512, MaxHistory: 40}
}

// PhoenixWeightsFile 是排序模型权重文件名
const PhoenixWeightsFile = "phoenix.safetensors"

type encoderBlock struct {
	ln1, ln2   *LayerNorm
	q, k, v, o *Linear
	ffn        *MLP
}

// Phoenix 是候选隔离的多任务排序 Transformer。
//
// 输入序列为 [history(H, 定长补齐)] + [candidates(C, 变长)]，自注意力之前叠加 IsolationMask：
// 历史只看历史，候选只看有效历史与自身。所有候选共享位置 H，
// 因此某个候选的分数与同批其他候选的存在、顺序、数量无关（逐位一致）。
//
// 结构：token embedding + position embedding → N 层 pre-norm encoder（多头注意力 + ReLU FFN 4D）
// → ln_f → 每个任务一个线性头 + sigmoid。
type Phoenix struct {
	cfg   PhoenixConfig
	Items *Vocab

	tokEmb *Embedding
	posEmb *Embedding
	blocks []*encoderBlock
	lnF    *LayerNorm
	heads  [4]*Linear

	masks *maskCache
}

// LoadPhoenix 从目录加载排序模型权重，items 为物品词表（与双塔共用）。
func LoadPhoenix(dir string, items *Vocab, cfg PhoenixConfig) (*Phoenix, error) {
	tensors, err := safetensors.Load(filepath.Join(dir, PhoenixWeightsFile))
	if err != nil {
		return nil, fmt.Errorf("phoenix: load weights: %w", err)
	}
	return NewPhoenix(items, tensors, cfg)
}

// NewPhoenix 从张量表构建模型并校验形状
func NewPhoenix(items *Vocab, tensors map[string]*safetensors.Tensor, cfg PhoenixConfig) (*Phoenix, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := cfg.Dim
	w := &weightLoader{tensors: tensors}
	m := &Phoenix{
		cfg:    cfg,
		Items:  items,
		tokEmb: w.embedding("news_embedding", items.Size(), d),
		posEmb: w.embedding("position_embedding", cfg.MaxPositions, d),
		lnF:    w.layerNorm("ln_f", d),
	}
	for i := 0; i < cfg.Layers; i++ {
		p := fmt.Sprintf("layers.%d", i)
		m.blocks = append(m.blocks, &encoderBlock{
			ln1: w.layerNorm(p+".ln1", d),
			ln2: w.layerNorm(p+".ln2", d),
			q:   w.linear(p+".attn.q", d, d),
			k:   w.linear(p+".attn.k", d, d),
			v:   w.linear(p+".attn.v", d, d),
			o:   w.linear(p+".attn.o", d, d),
			ffn: &MLP{Layers: []*Linear{w.linear(p+".ffn.0", d, 4*d), w.linear(p+".ffn.2", 4*d, d)}},
		})
	}
	for i, task := range Tasks {
		m.heads[i] = w.linear(task+"_head", d, 1)
	}
	if w.err != nil {
		return nil, fmt.Errorf("phoenix: %w", w.err)
	}
	masks, err := newMaskCache()
	if err != nil {
		return nil, fmt.Errorf("phoenix: mask cache: %w", err)
	}
	m.masks = masks
	return m, nil
}

// NewRandomPhoenix 以固定种子构建确定性的随机权重模型，用于测试与本地开发。
func NewRandomPhoenix(seed uint64, items *Vocab, cfg PhoenixConfig) (*Phoenix, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	g := newInitializer(seed)
	d := cfg.Dim
	m := &Phoenix{
		cfg:    cfg,
		Items:  items,
		tokEmb: g.embedding(items.Size(), d),
		posEmb: g.embedding(cfg.MaxPositions, d),
		lnF:    g.layerNorm(d),
	}
	for i := 0; i < cfg.Layers; i++ {
		m.blocks = append(m.blocks, &encoderBlock{
			ln1: g.layerNorm(d),
			ln2: g.layerNorm(d),
			q:   g.linear(d, d),
			k:   g.linear(d, d),
			v:   g.linear(d, d),
			o:   g.linear(d, d),
			ffn: &MLP{Layers: []*Linear{g.linear(d, 4*d), g.linear(4*d, d)}},
		})
	}
	for i := range Tasks {
		m.heads[i] = g.linear(d, 1)
	}
	masks, err := newMaskCache()
	if err != nil {
		return nil, err
	}
	m.masks = masks
	return m, nil
}

func (c PhoenixConfig) validate() error {
	if c.Dim <= 0 || c.Heads <= 0 || c.Dim%c.Heads != 0 {
		return fmt.Errorf("phoenix: dim %d must be a positive multiple of heads %d", c.Dim, c.Heads)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("phoenix: layers must be positive")
	}
	if c.MaxHistory <= 0 || c.MaxHistory >= c.MaxPositions {
		return fmt.Errorf("phoenix: max history %d must be in (0, %d)", c.MaxHistory, c.MaxPositions)
	}
	return nil
}

// Save 将权重写入目录，可由 LoadPhoenix 读回
func (m *Phoenix) Save(dir string) error {
	w := weightWriter{}
	w.embedding("news_embedding", m.tokEmb)
	w.embedding("position_embedding", m.posEmb)
	w.layerNorm("ln_f", m.lnF)
	for i, b := range m.blocks {
		p := fmt.Sprintf("layers.%d", i)
		w.layerNorm(p+".ln1", b.ln1)
		w.layerNorm(p+".ln2", b.ln2)
		w.linear(p+".attn.q", b.q)
		w.linear(p+".attn.k", b.k)
		w.linear(p+".attn.v", b.v)
		w.linear(p+".attn.o", b.o)
		w.linear(p+".ffn.0", b.ffn.Layers[0])
		w.linear(p+".ffn.2", b.ffn.Layers[1])
	}
	for i, task := range Tasks {
		w.linear(task+"_head", m.heads[i])
	}
	return safetensors.Save(filepath.Join(dir, PhoenixWeightsFile), w)
}

// Close 释放 mask 缓存
func (m *Phoenix) Close() {
	m.masks.close()
}

func (m *Phoenix) Name() string { return "phoenix" }

// MaxHistory 返回历史窗口 H
func (m *Phoenix) MaxHistory() int { return m.cfg.MaxHistory }

// Config 返回结构参数
func (m *Phoenix) Config() PhoenixConfig { return m.cfg }

// Predict 对候选打分，输出顺序与 candidateIDs 一致；C=0 返回空结果。
// 历史取最后 H 个并右侧补齐；全部为 PAD 时候选只注意自身，分数仍为有限值。
func (m *Phoenix) Predict(historyIDs []string, historyMask []float32, candidateIDs []string) ([]TaskScores, error) {
	if len(candidateIDs) == 0 {
		return []TaskScores{}, nil
	}
	h := m.cfg.MaxHistory
	c := len(candidateIDs)
	hist, valid := core.PadHistory(historyIDs, historyMask, h)

	tokens := make([][]float32, h+c)
	for i := 0; i < h; i++ {
		idx := PadIndex
		if valid[i] != 0 {
			idx = m.Items.Lookup(hist[i])
		}
		tokens[i] = m.embed(idx, i)
	}
	for j, id := range candidateIDs {
		idx := m.Items.Lookup(id)
		if id == "" {
			idx = UnkIndex
		}
		tokens[h+j] = m.embed(idx, h)
	}

	keys := m.attentionKeys(h, c, valid)
	for _, b := range m.blocks {
		tokens = b.forward(tokens, keys, m.cfg.Heads)
	}

	out := make([]TaskScores, c)
	for j := 0; j < c; j++ {
		x := m.lnF.Forward(tokens[h+j])
		var s [4]float32
		for t, head := range m.heads {
			s[t] = vecmath.Sigmoid(head.Forward(x)[0])
			if math32.IsNaN(s[t]) {
				return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeInternalError, "phoenix: non-finite score")
			}
		}
		out[j] = TaskScores{Click: s[0], Like: s[1], Reply: s[2], Repost: s[3]}
	}
	return out, nil
}

func (m *Phoenix) embed(idx, pos int) []float32 {
	tok := m.tokEmb.Row(idx)
	p := m.posEmb.Row(pos)
	x := make([]float32, len(tok))
	for i := range x {
		x[i] = tok[i] + p[i]
	}
	return x
}

// attentionKeys 将结构 mask 与历史 padding 合并，为每个 query 生成升序的可见 key 列表。
// 每个 token 总能看到自身，保证冷启动（全 PAD）时 softmax 不为空。
func (m *Phoenix) attentionKeys(h, c int, valid []float32) [][]int {
	n := h + c
	allowed := m.masks.get(h, c)
	keys := make([][]int, n)
	for q := 0; q < n; q++ {
		row := allowed[q*n : (q+1)*n]
		list := make([]int, 0, h+1)
		for k := 0; k < n; k++ {
			if !row[k] && k != q {
				continue
			}
			if k < h && valid[k] == 0 && k != q {
				continue
			}
			list = append(list, k)
		}
		keys[q] = list
	}
	return keys
}

// forward 计算一层 pre-norm encoder：x = x + attn(ln1(x))；x = x + ffn(ln2(x))。
func (b *encoderBlock) forward(x [][]float32, keys [][]int, heads int) [][]float32 {
	n := len(x)
	d := len(x[0])
	dh := d / heads
	scale := 1 / math32.Sqrt(float32(dh))

	qs := make([][]float32, n)
	ks := make([][]float32, n)
	vs := make([][]float32, n)
	for i := 0; i < n; i++ {
		normed := b.ln1.Forward(x[i])
		qs[i] = b.q.Forward(normed)
		ks[i] = b.k.Forward(normed)
		vs[i] = b.v.Forward(normed)
	}

	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		ctx := make([]float32, d)
		list := keys[i]
		scores := make([]float32, len(list))
		for hd := 0; hd < heads; hd++ {
			lo, hi := hd*dh, (hd+1)*dh
			for j, k := range list {
				scores[j] = vecmath.Dot(qs[i][lo:hi], ks[k][lo:hi]) * scale
			}
			vecmath.Softmax(scores, nil)
			for j, k := range list {
				w := scores[j]
				for t := lo; t < hi; t++ {
					ctx[t] += w * vs[k][t]
				}
			}
		}
		attn := b.o.Forward(ctx)
		y := make([]float32, d)
		for t := 0; t < d; t++ {
			y[t] = x[i][t] + attn[t]
		}
		ff := b.ffn.Forward(b.ln2.Forward(y))
		for t := 0; t < d; t++ {
			y[t] += ff[t]
		}
		out[i] = y
	}
	return out
}

var _ Ranker = (*Phoenix)(nil)
