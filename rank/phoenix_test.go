package rank

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/model"
)

func newRanker(t *testing.T) *model.Phoenix {
	t.Helper()
	ids := make([]string, 30)
	for i := range ids {
		ids[i] = fmt.Sprintf("N%d", i)
	}
	m, err := model.NewRandomPhoenix(3, model.NewVocab(ids), model.PhoenixConfig{Dim: 16, Heads: 2, Layers: 1, MaxPositions: 32, MaxHistory: 6})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestPhoenixNode(t *testing.T) {
	m := newRanker(t)
	n := &PhoenixNode{Model: m}
	rctx := &core.RecommendContext{
		UserID:     "u1",
		History:    []string{"N1", "N2", "N3"},
		Candidates: map[string]core.Candidate{"N5": {PostID: "N5", AuthorID: "alice", InNetwork: true}},
	}
	items := []*core.Item{core.NewItem("N5"), core.NewItem("N6"), nil, core.NewItem("unknown")}

	out, err := n.Process(context.Background(), rctx, items)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Score, out[i].Score, "按加权分降序")
	}

	scores, err := m.Predict(rctx.History, nil, []string{"N5"})
	require.NoError(t, err)
	weights := model.DefaultTaskWeights()
	for _, it := range out {
		for _, task := range model.Tasks {
			assert.Contains(t, it.Features, task)
		}
		if it.ID == "N5" {
			assert.InDelta(t, scores[0].Weighted(weights), it.Score, 1e-9, "候选隔离：单独打分与批量打分一致")
			assert.Equal(t, "alice", it.MetaString(core.MetaAuthorID))
			assert.Equal(t, true, it.Meta[core.MetaInNetwork])
		}
	}
}

func TestPhoenixNodeEdgeCases(t *testing.T) {
	out, err := (&PhoenixNode{Model: newRanker(t)}).Process(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = (&PhoenixNode{}).Process(context.Background(), nil, []*core.Item{core.NewItem("N1")})
	require.Error(t, err)
	assert.True(t, core.IsModelUnavailable(err))
}

func TestPhoenixNodeCustomWeights(t *testing.T) {
	m := newRanker(t)
	n := &PhoenixNode{Model: m, Weights: map[string]float64{model.TaskClick: 1}}
	out, err := n.Process(context.Background(), nil, []*core.Item{core.NewItem("N1")})
	require.NoError(t, err)
	assert.InDelta(t, out[0].Features[model.TaskClick], out[0].Score, 1e-9)
}

func TestPhoenixNodeTieBreak(t *testing.T) {
	// 未登录 id 都映射到 <UNK>，候选隔离下分数完全相同
	n := &PhoenixNode{Model: newRanker(t)}
	items := []*core.Item{core.NewItem("zz"), core.NewItem("aa"), core.NewItem("mm")}
	out, err := n.Process(context.Background(), &core.RecommendContext{History: []string{"N1"}}, items)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, out[0].Score, out[2].Score)
	assert.Equal(t, []string{"aa", "mm", "zz"}, []string{out[0].ID, out[1].ID, out[2].ID}, "同分按 id 升序")
}
