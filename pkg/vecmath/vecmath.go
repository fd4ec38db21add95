// Package vecmath 提供 float32 向量的基础运算（点积、归一化、矩阵乘法），
// 供模型推理与 ANN 索引共用。
package vecmath

import "github.com/chewxy/math32"

// Dot 计算点积；长度不一致时按较短者计算。
func Dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float32
	for i := 0; i < n; i++ {
		s += a[i] * b[i]
	}
	return s
}

// Norm 计算 L2 范数。
func Norm(v []float32) float32 {
	return math32.Sqrt(Dot(v, v))
}

// Normalize 原地 L2 归一化并返回 v。
// 零向量或非有限值无法归一化时改写为均匀单位向量 1/sqrt(d)，保证输出始终有限且模长为 1。
func Normalize(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}
	n := Norm(v)
	if n == 0 || math32.IsNaN(n) || math32.IsInf(n, 0) {
		u := 1 / math32.Sqrt(float32(len(v)))
		for i := range v {
			v[i] = u
		}
		return v
	}
	inv := 1 / n
	for i := range v {
		v[i] *= inv
	}
	return v
}

// Normalized 返回 v 的归一化副本。
func Normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return Normalize(out)
}

// AddInto dst += src
func AddInto(dst, src []float32) {
	for i := range dst {
		if i < len(src) {
			dst[i] += src[i]
		}
	}
}

// Scale 原地乘以常数
func Scale(v []float32, s float32) {
	for i := range v {
		v[i] *= s
	}
}

// SquaredL2 计算平方欧氏距离。
func SquaredL2(a, b []float32) float32 {
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// MatVec 计算 out = W·x + b，W 为 [out][in] 行优先展开。
// b 可为 nil。
func MatVec(w []float32, b []float32, x []float32, outDim int) []float32 {
	inDim := len(x)
	out := make([]float32, outDim)
	for o := 0; o < outDim; o++ {
		row := w[o*inDim : (o+1)*inDim]
		s := Dot(row, x)
		if b != nil {
			s += b[o]
		}
		out[o] = s
	}
	return out
}

// ReLU 原地 ReLU
func ReLU(v []float32) {
	for i := range v {
		if v[i] < 0 {
			v[i] = 0
		}
	}
}

// Sigmoid 计算 1/(1+e^-x)
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Softmax 原地数值稳定 softmax；mask[i] 为 false 的位置输出 0。
// 全部被屏蔽时输出全 0。
func Softmax(v []float32, mask []bool) {
	maxV := math32.Inf(-1)
	for i := range v {
		if mask != nil && !mask[i] {
			continue
		}
		if v[i] > maxV {
			maxV = v[i]
		}
	}
	if math32.IsInf(maxV, -1) {
		for i := range v {
			v[i] = 0
		}
		return
	}
	var sum float32
	for i := range v {
		if mask != nil && !mask[i] {
			v[i] = 0
			continue
		}
		v[i] = math32.Exp(v[i] - maxV)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

// IsFinite 判断向量中所有值均为有限数。
func IsFinite(v []float32) bool {
	for _, x := range v {
		if math32.IsNaN(x) || math32.IsInf(x, 0) {
			return false
		}
	}
	return true
}
