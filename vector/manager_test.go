package vector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/phoenix/core"
)

func TestManagerQuery(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	_, err := m.Query(ctx, []float32{1, 0}, 5)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
	assert.True(t, core.IsModelUnavailable(err))

	vectors := randomVectors(100, 8, 11)
	require.NoError(t, m.Rebuild(ctx, vectors, mustMapping(t, 100)))

	hits, err := m.Query(ctx, vectors[42], 5)
	require.NoError(t, err)
	require.Len(t, hits, 5)
	assert.Equal(t, "N42", hits[0].ItemID)
	seen := map[string]bool{}
	for i, h := range hits {
		assert.False(t, seen[h.ItemID], "重复 id %s", h.ItemID)
		seen[h.ItemID] = true
		if i > 0 {
			assert.Less(t, h.Score, hits[i-1].Score)
		}
	}

	_, err = m.Query(ctx, []float32{1, 0}, 5)
	assert.True(t, core.IsValidation(err), "维度不一致")
	_, err = m.Query(ctx, vectors[0], 0)
	assert.True(t, core.IsValidation(err), "topK 必须为正")

	hits, err = m.Query(ctx, vectors[0], 1000)
	require.NoError(t, err)
	assert.Len(t, hits, 100, "topK 超过语料规模时返回全部")
}

func TestManagerRebuildSwapsSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	require.NoError(t, m.Rebuild(ctx, randomVectors(10, 4, 1), mustMapping(t, 10)))
	first := m.Current()
	require.NotNil(t, first)
	assert.Equal(t, int64(1), first.Version)

	require.NoError(t, m.Rebuild(ctx, randomVectors(20, 4, 2), mustMapping(t, 20)))
	second := m.Current()
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, 20, second.Index.Len())
	// 旧快照不受影响
	assert.Equal(t, 10, first.Index.Len())
}

func TestManagerRebuildFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	require.NoError(t, m.Rebuild(ctx, randomVectors(10, 4, 1), mustMapping(t, 10)))
	before := m.Current()

	err := m.Rebuild(ctx, [][]float32{{1, 2}, {1}}, mustMapping(t, 2))
	require.Error(t, err)
	assert.Same(t, before, m.Current())
	assert.False(t, m.Rebuilding())
}

func TestManagerConcurrentRebuildRejected(t *testing.T) {
	m := NewManager()
	m.rebuilding.Store(true)
	err := m.Rebuild(context.Background(), randomVectors(10, 4, 1), mustMapping(t, 10))
	assert.ErrorIs(t, err, ErrRebuildInProgress)
	assert.Nil(t, m.Current())

	m.rebuilding.Store(false)
	require.NoError(t, m.Rebuild(context.Background(), randomVectors(10, 4, 1), mustMapping(t, 10)))
}

func TestManagerQueriesDuringRebuild(t *testing.T) {
	ctx := context.Background()
	vectors := randomVectors(500, 8, 3)
	m := NewManager()
	require.NoError(t, m.Rebuild(ctx, vectors, mustMapping(t, len(vectors))))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				hits, err := m.Query(ctx, vectors[0], 3)
				if err != nil || len(hits) != 3 {
					t.Errorf("重建期间查询失败: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		if err := m.Rebuild(ctx, vectors, mustMapping(t, len(vectors))); err != nil {
			assert.ErrorIs(t, err, ErrRebuildInProgress)
		}
	}
	close(stop)
	wg.Wait()
}

func TestSnapshotRoundTrip(t *testing.T) {
	vectors := randomVectors(300, 8, 5)
	mapping := mustMapping(t, len(vectors))
	specs := []IndexSpec{
		{Family: FamilyFlat},
		{Family: FamilyIVF, Params: Params{NList: 8, NProbe: 3, Seed: 1}},
		{Family: FamilyHNSW, Params: Params{M: 8, EfConstruction: 40, EfSearch: 20, Seed: 1}},
		{Family: FamilyIVFPQ, Params: Params{NList: 8, NProbe: 3, PQM: 4, PQBits: 8, Seed: 1}},
	}
	for _, spec := range specs {
		t.Run(spec.Family.String(), func(t *testing.T) {
			idx, err := Build(context.Background(), vectors, mapping, spec)
			require.NoError(t, err)
			path := filepath.Join(t.TempDir(), "index.bin")
			require.NoError(t, SaveSnapshot(path, &Snapshot{Index: idx, Mapping: mapping, Spec: spec, Version: 3}))

			loaded, err := LoadSnapshot(path)
			require.NoError(t, err)
			assert.Equal(t, spec, loaded.Spec)
			assert.Equal(t, int64(3), loaded.Version)
			assert.Equal(t, mapping.IDs(), loaded.Mapping.IDs())
			for _, q := range vectors[:5] {
				assert.Equal(t, idx.Search(q, 10), loaded.Index.Search(q, 10))
			}
		})
	}
}

func TestLoadSnapshotCorrupt(t *testing.T) {
	vectors := randomVectors(50, 4, 6)
	mapping := mustMapping(t, 50)
	idx, err := Build(context.Background(), vectors, mapping, IndexSpec{Family: FamilyFlat})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "index.bin")
	require.NoError(t, SaveSnapshot(path, &Snapshot{Index: idx, Mapping: mapping, Spec: IndexSpec{Family: FamilyFlat}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))
	_, err = LoadSnapshot(path)
	assert.ErrorIs(t, err, ErrCorruptIndex)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err = LoadSnapshot(path)
	assert.ErrorIs(t, err, ErrCorruptIndex)

	_, err = LoadSnapshot(filepath.Join(t.TempDir(), "missing.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadOrRebuild(t *testing.T) {
	ctx := context.Background()
	vectors := randomVectors(40, 4, 7)
	sourceCalls := 0
	source := func(context.Context) ([][]float32, []string, error) {
		sourceCalls++
		return vectors, sequentialIDs(len(vectors)), nil
	}
	path := filepath.Join(t.TempDir(), "index", "items.idx")

	// 文件缺失：从数据源重建并落盘
	m := NewManager(WithPersistPath(path), WithSource(source))
	require.NoError(t, m.LoadOrRebuild(ctx))
	assert.Equal(t, 1, sourceCalls)
	require.NotNil(t, m.Current())
	_, err := os.Stat(path)
	require.NoError(t, err)

	// 文件完好：直接加载
	m2 := NewManager(WithPersistPath(path), WithSource(source))
	require.NoError(t, m2.LoadOrRebuild(ctx))
	assert.Equal(t, 1, sourceCalls)
	assert.Equal(t, 40, m2.Current().Index.Len())

	// 文件损坏：重建
	require.NoError(t, os.WriteFile(path, []byte("PHXIDX01broken-file"), 0o644))
	m3 := NewManager(WithPersistPath(path), WithSource(source))
	require.NoError(t, m3.LoadOrRebuild(ctx))
	assert.Equal(t, 2, sourceCalls)
	hits, err := m3.Query(ctx, vectors[3], 1)
	require.NoError(t, err)
	assert.Equal(t, "N3", hits[0].ItemID)

	// 无数据源且无文件
	m4 := NewManager(WithPersistPath(filepath.Join(t.TempDir(), "none.idx")))
	assert.ErrorIs(t, m4.LoadOrRebuild(ctx), ErrIndexUnavailable)
}

func TestBenchmark(t *testing.T) {
	vectors := randomVectors(200, 8, 8)
	idx, err := Build(context.Background(), vectors, mustMapping(t, 200), IndexSpec{Family: FamilyFlat})
	require.NoError(t, err)
	res := Benchmark(idx, vectors, 10)
	assert.Equal(t, "flat", res.Family)
	assert.Equal(t, 200, res.Queries)
	assert.Equal(t, 1.0, res.RecallAt1)
	assert.Positive(t, res.QPS)
}
