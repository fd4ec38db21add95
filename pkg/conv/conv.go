// Package conv 读取 YAML/JSON 解析出的 map[string]any 配置与请求参数。
//
// YAML 解析数字为 int，JSON 解析为 float64，Go 代码里构造的参数可能是 int64，
// 这里统一兼容。
package conv

import (
	"fmt"
	"strconv"
)

// ToFloat64 将数值类型转为 float64；bool 视为 1/0。
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// MapToFloat64 只保留可转为 float64 的 value，如 node 配置中的任务权重。
func MapToFloat64(m map[string]any) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if f, ok := ToFloat64(v); ok {
			out[k] = f
		}
	}
	return out
}

// SliceAnyToString 将配置中的 id 列表转为 []string，数字按整数格式化。
func SliceAnyToString(v any) []string {
	switch raw := v.(type) {
	case []string:
		return raw
	case []any:
		out := make([]string, 0, len(raw))
		for _, e := range raw {
			switch x := e.(type) {
			case string:
				out = append(out, x)
			case int:
				out = append(out, strconv.Itoa(x))
			default:
				if f, ok := ToFloat64(e); ok {
					out = append(out, fmt.Sprintf("%.0f", f))
				}
			}
		}
		return out
	}
	return nil
}

// ConfigGet 按 key 取 T，取不到或类型不符时返回 defaultVal。
func ConfigGet[T any](m map[string]any, key string, defaultVal T) T {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	t, ok := v.(T)
	if !ok {
		return defaultVal
	}
	return t
}

// ConfigGetInt64 按 key 取整数，兼容 int / int64 / float64 等数值类型。
func ConfigGetInt64(m map[string]any, key string, defaultVal int64) int64 {
	switch val := m[key].(type) {
	case int:
		return int64(val)
	case int64:
		return val
	case int32:
		return int64(val)
	case float64:
		return int64(val)
	case float32:
		return int64(val)
	}
	return defaultVal
}

// ConfigGetInt 同 ConfigGetInt64，返回 int
func ConfigGetInt(m map[string]any, key string, defaultVal int) int {
	return int(ConfigGetInt64(m, key, int64(defaultVal)))
}
