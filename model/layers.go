package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/chewxy/math32"

	"github.com/rushteam/phoenix/pkg/safetensors"
	"github.com/rushteam/phoenix/pkg/vecmath"
)

// Linear 是全连接层 y = W·x + b，W 为 [Out][In] 行优先。
type Linear struct {
	In, Out int
	Weight  []float32
	Bias    []float32
}

// Forward 前向计算，返回新切片
func (l *Linear) Forward(x []float32) []float32 {
	return vecmath.MatVec(l.Weight, l.Bias, x, l.Out)
}

// MLP 是多层全连接网络，层间 ReLU 激活（最后一层不激活）。
type MLP struct {
	Layers []*Linear
}

// Forward 逐层前向传播
func (m *MLP) Forward(x []float32) []float32 {
	current := x
	for i, layer := range m.Layers {
		current = layer.Forward(current)
		if i < len(m.Layers)-1 {
			vecmath.ReLU(current)
		}
	}
	return current
}

// OutDim 返回输出维度
func (m *MLP) OutDim() int {
	if len(m.Layers) == 0 {
		return 0
	}
	return m.Layers[len(m.Layers)-1].Out
}

// LayerNorm 对最后一维做归一化
type LayerNorm struct {
	Weight []float32
	Bias   []float32
	Eps    float32
}

// Forward 返回新切片
func (ln *LayerNorm) Forward(x []float32) []float32 {
	n := float32(len(x))
	var mean float32
	for _, v := range x {
		mean += v
	}
	mean /= n
	var variance float32
	for _, v := range x {
		d := v - mean
		variance += d * d
	}
	variance /= n
	inv := 1 / math32.Sqrt(variance+ln.Eps)
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = (v-mean)*inv*ln.Weight[i] + ln.Bias[i]
	}
	return out
}

// Embedding 是 [Num][Dim] 的查找表
type Embedding struct {
	Num, Dim int
	Data     []float32
}

// Row 返回第 i 行（共享底层数组，调用方不得修改）。
// 越界时返回 <UNK> 行。
func (e *Embedding) Row(i int) []float32 {
	if i < 0 || i >= e.Num {
		i = UnkIndex
	}
	return e.Data[i*e.Dim : (i+1)*e.Dim]
}

const layerNormEps = 1e-5

// weightLoader 从 safetensors 张量表中按名称取层，并校验形状；第一个错误会被保留。
type weightLoader struct {
	tensors map[string]*safetensors.Tensor
	err     error
}

func (w *weightLoader) tensor(name string, shape ...int) []float32 {
	if w.err != nil {
		return nil
	}
	t, ok := w.tensors[name]
	if !ok {
		w.err = fmt.Errorf("missing tensor %s", name)
		return nil
	}
	if len(t.Shape) != len(shape) {
		w.err = fmt.Errorf("tensor %s: shape %v, want %v", name, t.Shape, shape)
		return nil
	}
	for i := range shape {
		if shape[i] >= 0 && t.Shape[i] != shape[i] {
			w.err = fmt.Errorf("tensor %s: shape %v, want %v", name, t.Shape, shape)
			return nil
		}
	}
	return t.Data
}

func (w *weightLoader) shape(name string) []int {
	if t, ok := w.tensors[name]; ok {
		return t.Shape
	}
	return nil
}

func (w *weightLoader) linear(prefix string, in, out int) *Linear {
	return &Linear{
		In:     in,
		Out:    out,
		Weight: w.tensor(prefix+".weight", out, in),
		Bias:   w.tensor(prefix+".bias", out),
	}
}

func (w *weightLoader) layerNorm(prefix string, dim int) *LayerNorm {
	return &LayerNorm{
		Weight: w.tensor(prefix+".weight", dim),
		Bias:   w.tensor(prefix+".bias", dim),
		Eps:    layerNormEps,
	}
}

func (w *weightLoader) embedding(name string, num, dim int) *Embedding {
	return &Embedding{Num: num, Dim: dim, Data: w.tensor(name, num, dim)}
}

// weightWriter 是 weightLoader 的逆过程，用于导出权重。
type weightWriter map[string]*safetensors.Tensor

func (w weightWriter) linear(prefix string, l *Linear) {
	w[prefix+".weight"] = &safetensors.Tensor{Shape: []int{l.Out, l.In}, Data: l.Weight}
	w[prefix+".bias"] = &safetensors.Tensor{Shape: []int{l.Out}, Data: l.Bias}
}

func (w weightWriter) layerNorm(prefix string, ln *LayerNorm) {
	w[prefix+".weight"] = &safetensors.Tensor{Shape: []int{len(ln.Weight)}, Data: ln.Weight}
	w[prefix+".bias"] = &safetensors.Tensor{Shape: []int{len(ln.Bias)}, Data: ln.Bias}
}

func (w weightWriter) embedding(name string, e *Embedding) {
	w[name] = &safetensors.Tensor{Shape: []int{e.Num, e.Dim}, Data: e.Data}
}

// initializer 以固定种子生成确定性的随机权重（Xavier 均匀分布），用于测试与本地开发。
type initializer struct {
	rng *rand.Rand
}

func newInitializer(seed uint64) *initializer {
	return &initializer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (g *initializer) uniform(n int, limit float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = (g.rng.Float32()*2 - 1) * limit
	}
	return out
}

func (g *initializer) linear(in, out int) *Linear {
	limit := math32.Sqrt(6 / float32(in+out))
	return &Linear{In: in, Out: out, Weight: g.uniform(in*out, limit), Bias: g.uniform(out, 0.01)}
}

func (g *initializer) layerNorm(dim int) *LayerNorm {
	w := make([]float32, dim)
	for i := range w {
		w[i] = 1
	}
	return &LayerNorm{Weight: w, Bias: make([]float32, dim), Eps: layerNormEps}
}

func (g *initializer) embedding(num, dim int) *Embedding {
	e := &Embedding{Num: num, Dim: dim, Data: g.uniform(num*dim, 0.1)}
	// <PAD> 行恒为 0
	for i := 0; i < dim; i++ {
		e.Data[i] = 0
	}
	return e
}
