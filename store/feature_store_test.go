package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/phoenix/core"
)

// testFeatureStore 对任意 FeatureStore 实现执行相同的语义检查
func testFeatureStore(t *testing.T, fs core.FeatureStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := fs.Get(ctx, "u-missing")
	assert.ErrorIs(t, err, core.ErrStoreNotFound)

	first := &core.FeatureVector{
		UserID:       "u1",
		Embedding:    []float32{0.6, 0.8},
		QualityScore: 0.5,
		ModelVersion: "two_tower",
		ComputedAt:   now,
		ExpiresAt:    now.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, fs.Upsert(ctx, first))

	got, err := fs.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, []float32{0.6, 0.8}, got.Embedding)
	assert.Equal(t, 0.5, got.QualityScore)
	assert.Equal(t, "two_tower", got.ModelVersion)
	assert.False(t, got.CreatedAt.IsZero())
	assert.True(t, got.IsActive("two_tower", now))
	createdAt := got.CreatedAt

	time.Sleep(5 * time.Millisecond)
	second := &core.FeatureVector{
		UserID:       "u1",
		Embedding:    []float32{1, 0},
		QualityScore: 1,
		ModelVersion: "two_tower",
		ComputedAt:   now.Add(time.Minute),
		ExpiresAt:    now.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, fs.UpsertBatch(ctx, []*core.FeatureVector{second}))

	got, err = fs.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version, "upsert 应自增版本")
	assert.True(t, got.CreatedAt.Equal(createdAt), "createdAt 不应被覆盖")
	assert.Equal(t, []float32{1, 0}, got.Embedding)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	// 批量中的坏记录不影响其他记录
	err = fs.UpsertBatch(ctx, []*core.FeatureVector{
		{UserID: "", Embedding: []float32{1}},
		{UserID: "u2", Embedding: []float32{0, 1}, ModelVersion: "two_tower", ExpiresAt: now.Add(time.Hour)},
	})
	assert.True(t, core.IsValidation(err))
	got, err = fs.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemoryFeatureStore(t *testing.T) {
	fs := NewMemoryFeatureStore()
	defer fs.Close()
	testFeatureStore(t, fs)
}

func TestMemoryFeatureStoreExpiry(t *testing.T) {
	fs := NewMemoryFeatureStore()
	defer fs.Close()
	ctx := context.Background()
	base := time.Now()
	fs.now = func() time.Time { return base }

	require.NoError(t, fs.Upsert(ctx, &core.FeatureVector{UserID: "u", Embedding: []float32{1}, ExpiresAt: base.Add(time.Hour)}))
	_, err := fs.Get(ctx, "u")
	require.NoError(t, err)

	fs.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = fs.Get(ctx, "u")
	assert.ErrorIs(t, err, core.ErrStoreNotFound)

	// 过期后重新写入视为首次插入
	require.NoError(t, fs.Upsert(ctx, &core.FeatureVector{UserID: "u", Embedding: []float32{1}, ExpiresAt: base.Add(3 * time.Hour)}))
	got, err := fs.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestBadgerFeatureStore(t *testing.T) {
	fs, err := OpenBadgerFeatureStore("")
	require.NoError(t, err)
	defer fs.Close()
	testFeatureStore(t, fs)
}

func TestBadgerFeatureStorePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	fs, err := OpenBadgerFeatureStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.Upsert(ctx, &core.FeatureVector{UserID: "u", Embedding: []float32{1, 2}, ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, fs.Close())

	fs, err = OpenBadgerFeatureStore(dir)
	require.NoError(t, err)
	defer fs.Close()
	got, err := fs.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got.Embedding)
}

// 需要真实 Redis：PHOENIX_TEST_REDIS_ADDR=localhost:6379
func TestRedisFeatureStore(t *testing.T) {
	addr := os.Getenv("PHOENIX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PHOENIX_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	fs, err := NewRedisFeatureStore(ctx, RedisConfig{Addr: addr, KeyPrefix: "phoenix:test:" + t.Name() + ":"})
	require.NoError(t, err)
	defer fs.Close()
	for _, k := range []string{"u-missing", "u1", "u2"} {
		fs.client.Del(ctx, fs.key(k))
	}
	testFeatureStore(t, fs)
}

func TestEmbeddingCodec(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-8}
	out, err := decodeEmbedding(encodeEmbedding(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}
