package refresh

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/model"
	"github.com/rushteam/phoenix/store"
	"github.com/rushteam/phoenix/vector"
)

var testNow = time.Now().UTC().Truncate(time.Second)

func testTower() *model.TwoTower {
	items := make([]string, 30)
	for i := range items {
		items[i] = fmt.Sprintf("N%d", i)
	}
	return model.NewRandomTwoTower(7, model.NewVocab([]string{"u1", "u2", "u3"}), model.NewVocab(items),
		model.TwoTowerConfig{EmbeddingDim: 8, HiddenDim: 16, OutputDim: 8, MaxHistory: 10})
}

func testEvents() *store.MemoryEventStore {
	at := func(m int) time.Time { return testNow.Add(-time.Duration(m) * time.Minute) }
	return store.NewMemoryEventStore(
		core.Action{UserID: "u1", ActionType: "like", TargetPostID: "N1", CreatedAt: at(30)},
		core.Action{UserID: "u1", ActionType: "click", TargetPostID: "N2", CreatedAt: at(20)},
		core.Action{UserID: "u1", ActionType: "reply", TargetPostID: "unknown", CreatedAt: at(10)},
		core.Action{UserID: "u2", ActionType: "repost", TargetPostID: "N5", CreatedAt: at(5)},
		core.Action{UserID: "u3", ActionType: "like", TargetPostID: "N6", CreatedAt: testNow.Add(-48 * time.Hour)},
		core.Action{UserID: "u3", ActionType: "impression", TargetPostID: "N7", CreatedAt: at(1)},
	)
}

func newTestJob(fs core.FeatureStore) *Job {
	j := NewJob(testEvents(), fs, testTower(), "two_tower")
	j.now = func() time.Time { return testNow }
	return j
}

func TestJobRun(t *testing.T) {
	ctx := context.Background()
	fs := store.NewMemoryFeatureStore()
	defer fs.Close()
	j := newTestJob(fs)

	stats, err := j.Run(ctx, Options{MaxHistoryLen: 10, BatchSize: 1, Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users, "u3 的行为不在窗口内或不在行为类型内")
	assert.Equal(t, 2, stats.Written)
	assert.Equal(t, 2, stats.Batches)
	assert.Zero(t, stats.FailedBatches)

	fv, err := fs.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "two_tower", fv.ModelVersion)
	assert.InDelta(t, 0.2, fv.QualityScore, 1e-9, "词表内历史 2 个 / 窗口 10")
	assert.Equal(t, testNow.Add(DefaultTTL), fv.ExpiresAt)
	assert.Len(t, fv.Embedding, 8)

	// 与用户塔直接编码的结果一致（旧到新顺序）
	hist, mask := core.PadHistory([]string{"N1", "N2", "unknown"}, nil, 10)
	assert.Equal(t, testTower().EncodeUser("u1", hist, mask), fv.Embedding)

	_, err = fs.Get(ctx, "u3")
	assert.ErrorIs(t, err, core.ErrStoreNotFound)
}

func TestJobRunIdempotent(t *testing.T) {
	ctx := context.Background()
	fs := store.NewMemoryFeatureStore()
	defer fs.Close()
	j := newTestJob(fs)

	_, err := j.Run(ctx, Options{MaxHistoryLen: 10})
	require.NoError(t, err)
	first, err := fs.Get(ctx, "u2")
	require.NoError(t, err)

	_, err = j.Run(ctx, Options{MaxHistoryLen: 10})
	require.NoError(t, err)
	second, err := fs.Get(ctx, "u2")
	require.NoError(t, err)

	assert.Equal(t, first.Embedding, second.Embedding, "输入不变时 embedding 不变")
	assert.Equal(t, first.Version+1, second.Version)
	assert.Equal(t, first.CreatedAt, second.CreatedAt, "createdAt 只在首次写入")
}

// failingStore 对指定用户的批次返回错误
type failingStore struct {
	*store.MemoryFeatureStore
	failUser string
}

func (s *failingStore) UpsertBatch(ctx context.Context, fvs []*core.FeatureVector) error {
	for _, fv := range fvs {
		if fv.UserID == s.failUser {
			return errors.New("write failed")
		}
	}
	return s.MemoryFeatureStore.UpsertBatch(ctx, fvs)
}

func TestJobRunFailedBatchSkipped(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{MemoryFeatureStore: store.NewMemoryFeatureStore(), failUser: "u1"}
	defer fs.Close()
	j := newTestJob(fs)

	stats, err := j.Run(ctx, Options{MaxHistoryLen: 10, BatchSize: 1})
	require.NoError(t, err, "批次失败不影响整体")
	assert.Equal(t, 1, stats.FailedBatches)
	assert.Equal(t, 1, stats.Written)

	_, err = fs.Get(ctx, "u2")
	assert.NoError(t, err)
	_, err = fs.Get(ctx, "u1")
	assert.ErrorIs(t, err, core.ErrStoreNotFound)
}

func TestJobRunRebuildIndex(t *testing.T) {
	ctx := context.Background()
	fs := store.NewMemoryFeatureStore()
	defer fs.Close()
	j := newTestJob(fs)
	m := vector.NewManager()
	j.Index = m

	stats, err := j.Run(ctx, Options{MaxHistoryLen: 10, RebuildIndex: true})
	require.NoError(t, err)
	assert.True(t, stats.IndexRebuilt)
	require.NotNil(t, m.Current())
	assert.Equal(t, 30, m.Current().Index.Len())
}

// busyIndex 模拟已有重建在进行中
type busyIndex struct{}

func (busyIndex) Rebuild(context.Context, [][]float32, *vector.IDMapping) error {
	return vector.ErrRebuildInProgress
}

func TestJobRunRebuildRejected(t *testing.T) {
	ctx := context.Background()
	fs := store.NewMemoryFeatureStore()
	defer fs.Close()
	j := newTestJob(fs)
	j.Index = busyIndex{}

	stats, err := j.Run(ctx, Options{MaxHistoryLen: 10, RebuildIndex: true})
	assert.ErrorIs(t, err, vector.ErrRebuildInProgress)
	require.NotNil(t, stats)
	assert.False(t, stats.IndexRebuilt)
	assert.Equal(t, 2, stats.Written, "特征已写入")
}

func TestJobRunValidation(t *testing.T) {
	_, err := (&Job{}).Run(context.Background(), Options{})
	assert.True(t, core.IsValidation(err))

	j := newTestJob(store.NewMemoryFeatureStore())
	_, err = j.Run(context.Background(), Options{RebuildIndex: true})
	assert.True(t, core.IsValidation(err), "重建索引需要 Index")
}

func TestSchedulerRunsOnStart(t *testing.T) {
	fs := store.NewMemoryFeatureStore()
	defer fs.Close()
	s := NewScheduler(newTestJob(fs), Options{MaxHistoryLen: 10}, time.Hour, true)
	assert.Equal(t, "feature-refresh", s.String())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Stats, 1)
	s.onDone = func(stats *Stats, err error) {
		assert.NoError(t, err)
		done <- stats
		cancel()
	}
	err := s.Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	stats := <-done
	assert.Equal(t, 2, stats.Written)
}
