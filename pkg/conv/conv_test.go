package conv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigGet(t *testing.T) {
	m := map[string]any{"name": "feed", "required": true, "n": 20}
	assert.Equal(t, "feed", ConfigGet(m, "name", ""))
	assert.True(t, ConfigGet(m, "required", false))
	assert.Equal(t, "x", ConfigGet(m, "n", "x"), "类型不符返回默认值")
	assert.Equal(t, 7, ConfigGet[int](nil, "n", 7))
}

func TestConfigGetInt(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int
	}{
		{"yaml int", 20, 20},
		{"json float", float64(20), 20},
		{"int64", int64(8), 8},
		{"string", "20", 5},
		{"missing", nil, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := map[string]any{}
			if tt.v != nil {
				m["k"] = tt.v
			}
			assert.Equal(t, tt.want, ConfigGetInt(m, "k", 5))
		})
	}
}

func TestMapToFloat64(t *testing.T) {
	got := MapToFloat64(map[string]any{"click": 0.5, "like": 2, "bad": "x"})
	assert.Equal(t, map[string]float64{"click": 0.5, "like": 2}, got)
	assert.Nil(t, MapToFloat64(nil))
}

func TestSliceAnyToString(t *testing.T) {
	assert.Equal(t, []string{"a", "12", "3"}, SliceAnyToString([]any{"a", 12, float64(3)}))
	assert.Equal(t, []string{"x"}, SliceAnyToString([]string{"x"}))
	assert.Nil(t, SliceAnyToString("a"))
}
