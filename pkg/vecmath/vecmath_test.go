package vecmath

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0, 0, 0})
	for _, x := range zero {
		assert.InDelta(t, 0.5, x, 1e-6, "零向量应归一化为均匀单位向量")
	}
	assert.InDelta(t, 1, Norm(zero), 1e-6)

	nan := Normalize([]float32{math32.NaN(), 1})
	assert.True(t, IsFinite(nan))
}

func TestMatVecAndSoftmax(t *testing.T) {
	// W = [[1,2],[3,4]], b = [1,0]
	out := MatVec([]float32{1, 2, 3, 4}, []float32{1, 0}, []float32{1, 1}, 2)
	assert.Equal(t, []float32{4, 7}, out)

	v := []float32{1, 1, 5}
	Softmax(v, []bool{true, true, false})
	assert.InDelta(t, 0.5, v[0], 1e-6)
	assert.InDelta(t, 0.5, v[1], 1e-6)
	assert.Equal(t, float32(0), v[2])

	all := []float32{1, 2}
	Softmax(all, []bool{false, false})
	assert.Equal(t, []float32{0, 0}, all)
}

func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid(0), 1e-7)
	assert.True(t, Sigmoid(10) > 0.99)
}
