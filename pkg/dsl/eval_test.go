package dsl

import (
	"testing"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/pkg/utils"
)

func TestProgramEval(t *testing.T) {
	item := core.NewItem("p1")
	item.Score = 0.8
	item.PutFeature("p_like", 0.4)
	item.Meta[core.MetaAuthorID] = "a1"
	item.PutLabel("recall_source", utils.Label{Value: "ann", Source: "recall"})
	rctx := &core.RecommendContext{UserID: "u1", History: []string{"x", "y"}}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"score", "item.score > 0.7", true},
		{"feature", "item.features.p_like >= 0.5", false},
		{"label", `label.recall_source == "ann"`, true},
		{"meta", `item.meta.author_id == "a1"`, true},
		{"rctx", `rctx.user_id == "u1" && rctx.history_len == 2`, true},
		{"has", `has(item.meta.author_id)`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.expr)
			if err != nil {
				t.Fatalf("编译失败: %v", err)
			}
			got, err := p.Eval(item, rctx)
			if err != nil {
				t.Fatalf("求值失败: %v", err)
			}
			if got != tt.want {
				t.Errorf("%s = %v, 期望 %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateEmptyAndInvalid(t *testing.T) {
	item := core.NewItem("p1")
	ok, err := Evaluate("", item, nil)
	if err != nil || !ok {
		t.Errorf("空表达式应为 true，得到 %v, %v", ok, err)
	}
	if _, err := Compile("item.score >"); err == nil {
		t.Error("非法表达式应编译失败")
	}
	if _, err := Evaluate(`item.score + 1.0`, item, nil); err == nil {
		t.Error("非布尔表达式应返回错误")
	}
}
