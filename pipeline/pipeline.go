package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/metrics"
)

// Kind 是 Node 所属阶段。网关按失败阶段决定降级方式，指标也按阶段聚合。
type Kind string

const (
	KindRecall Kind = "recall"
	KindFilter Kind = "filter"
	KindRank   Kind = "rank"
	KindReRank Kind = "rerank"
)

// Node 接收上一阶段的候选并返回本阶段的输出；召回节点的输入通常为空。
type Node interface {
	Name() string
	Kind() Kind
	Process(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error)
}

// Pipeline 按顺序执行一组 Node：召回 -> 安全过滤 -> 打分 -> 去重截断。
type Pipeline struct {
	Name  string
	Nodes []Node
}

// Stage 记录单个 Node 的执行情况
type Stage struct {
	Node     string        `json:"node"`
	Kind     Kind          `json:"kind"`
	In       int           `json:"in"`
	Out      int           `json:"out"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Trace 是一次 Run 的阶段记录，按执行顺序排列
type Trace struct {
	Stages []Stage `json:"stages"`
}

// Last 返回最后一个执行的阶段
func (t *Trace) Last() (Stage, bool) {
	if t == nil || len(t.Stages) == 0 {
		return Stage{}, false
	}
	return t.Stages[len(t.Stages)-1], true
}

// Reached 返回链路是否执行到过 kind 阶段（无论成败）
func (t *Trace) Reached(kind Kind) bool {
	if t == nil {
		return false
	}
	for _, s := range t.Stages {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

// StageError 表示某个阶段失败或在进入该阶段前已超时。
// Partial 是上一个成功阶段的输出，调用方可据此降级。
type StageError struct {
	Node    string
	Kind    Kind
	Partial []*core.Item
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s node %s: %v", e.Kind, e.Node, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsDeadline 判断失败原因是否为 ctx 超时或取消
func (e *StageError) IsDeadline() bool {
	return errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, context.Canceled)
}

// AsStageError 从错误链中取出 StageError
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Run 依次执行各 Node。
func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	out, _, err := p.RunWithTrace(ctx, rctx, items)
	return out, err
}

// RunWithTrace 依次执行各 Node 并记录每个阶段。
// 每个 Node 执行前检查 ctx；失败时返回 *StageError，其中带有上一阶段的输出。
func (p *Pipeline) RunWithTrace(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, *Trace, error) {
	trace := &Trace{Stages: make([]Stage, 0, len(p.Nodes))}
	cur := items
	for _, node := range p.Nodes {
		if err := ctx.Err(); err != nil {
			return cur, trace, &StageError{Node: node.Name(), Kind: node.Kind(), Partial: cur, Err: err}
		}
		start := time.Now()
		next, err := node.Process(ctx, rctx, cur)
		took := time.Since(start)
		metrics.PipelineStageDuration.WithLabelValues(node.Name(), string(node.Kind())).Observe(took.Seconds())

		stage := Stage{Node: node.Name(), Kind: node.Kind(), In: len(cur), Out: len(next), Duration: took}
		if err != nil {
			stage.Err = err.Error()
			stage.Out = 0
			trace.Stages = append(trace.Stages, stage)
			return cur, trace, &StageError{Node: node.Name(), Kind: node.Kind(), Partial: cur, Err: err}
		}
		trace.Stages = append(trace.Stages, stage)
		cur = next
	}
	return cur, trace, nil
}
