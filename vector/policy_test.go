package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectSpec(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		dim   int
		prefs Prefs
		want  IndexSpec
	}{
		{
			name: "小规模精确检索",
			n:    99_999, dim: 64,
			want: IndexSpec{Family: FamilyFlat},
		},
		{
			name: "中等规模 IVF",
			n:    250_000, dim: 64,
			want: IndexSpec{Family: FamilyIVF, Params: Params{NList: 1000, NProbe: 10}},
		},
		{
			name: "IVF nlist 下限",
			n:    100_000, dim: 64,
			want: IndexSpec{Family: FamilyIVF, Params: Params{NList: 632, NProbe: 10}},
		},
		{
			name: "IVF nlist 上限",
			n:    900_000, dim: 64,
			want: IndexSpec{Family: FamilyIVF, Params: Params{NList: 1024, NProbe: 10}},
		},
		{
			name: "召回优先 HNSW",
			n:    200_000, dim: 64, prefs: Prefs{PreferRecall: true},
			want: IndexSpec{Family: FamilyHNSW, Params: Params{M: 32, EfConstruction: 200, EfSearch: 64}},
		},
		{
			name: "小规模忽略召回偏好",
			n:    1000, dim: 64, prefs: Prefs{PreferRecall: true},
			want: IndexSpec{Family: FamilyFlat},
		},
		{
			name: "大规模压缩 IVF+PQ",
			n:    1_000_000, dim: 64, prefs: Prefs{CompressMemory: true},
			want: IndexSpec{Family: FamilyIVFPQ, Params: Params{NList: 2048, NProbe: 16, PQM: 8, PQBits: 8}},
		},
		{
			name: "压缩偏好但规模不足",
			n:    500_000, dim: 64, prefs: Prefs{CompressMemory: true},
			want: IndexSpec{Family: FamilyIVF, Params: Params{NList: 1024, NProbe: 10}},
		},
		{
			name: "大规模未要求压缩",
			n:    2_000_000, dim: 64,
			want: IndexSpec{Family: FamilyIVF, Params: Params{NList: 1024, NProbe: 10}},
		},
		{
			name: "显式指定族",
			n:    10, dim: 64, prefs: Prefs{Family: FamilyHNSW, Seed: 5},
			want: IndexSpec{Family: FamilyHNSW, Params: Params{M: 32, EfConstruction: 200, EfSearch: 64, Seed: 5}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectSpec(tt.n, tt.dim, tt.prefs)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIVFPQNListBounds(t *testing.T) {
	// sqrt(10^6)*4 = 4000 -> 2048
	assert.Equal(t, 2048, ParamsFor(FamilyIVFPQ, 1_000_000, 64, 0).NList)
	// sqrt(100)*4 = 40 -> 64
	assert.Equal(t, 64, ParamsFor(FamilyIVFPQ, 100, 64, 0).NList)
}

func TestPQSubvectors(t *testing.T) {
	tests := []struct {
		dim, want int
	}{
		{64, 8},
		{256, 8},
		{8, 8},
		{12, 4},
		{20, 4},
		{7, 7},
		{3, 3},
	}
	for _, tt := range tests {
		got := PQSubvectors(tt.dim)
		if got != tt.want {
			t.Errorf("PQSubvectors(%d) = %d, 期望 %d", tt.dim, got, tt.want)
		}
		assert.Zero(t, tt.dim%got)
	}
}
