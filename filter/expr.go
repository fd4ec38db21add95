package filter

import (
	"context"
	"fmt"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/pkg/dsl"
)

// ExprFilter 用 CEL 表达式过滤：表达式为 true 的 item 被移除。
//
//	item.features.ann_score < 0.1
//	has(item.meta.author_id) && item.meta.author_id == rctx.user_id
type ExprFilter struct {
	prg *dsl.Program
}

// NewExprFilter 编译表达式
func NewExprFilter(expr string) (*ExprFilter, error) {
	if expr == "" {
		return nil, fmt.Errorf("filter.expr: empty expression")
	}
	prg, err := dsl.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("filter.expr: %w", err)
	}
	return &ExprFilter{prg: prg}, nil
}

func (f *ExprFilter) Name() string { return "filter.expr" }

func (f *ExprFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error) {
	if item == nil {
		return true, nil
	}
	return f.prg.Eval(item, rctx)
}
