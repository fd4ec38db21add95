package feature

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/phoenix/core"
)

type stubSource struct {
	name  string
	data  map[string]*core.FeatureVector
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Get(_ context.Context, userID string) (*core.FeatureVector, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if fv, ok := s.data[userID]; ok {
		return fv, nil
	}
	return nil, core.ErrStoreNotFound
}

func record(user, version string, expires time.Time) *core.FeatureVector {
	return &core.FeatureVector{UserID: user, Embedding: []float32{1, 0}, ModelVersion: version, ExpiresAt: expires}
}

func TestServiceLookupChain(t *testing.T) {
	now := time.Now()
	primary := &stubSource{name: "redis", data: map[string]*core.FeatureVector{
		"fresh":  record("fresh", "v2", now.Add(time.Hour)),
		"stale":  record("stale", "v1", now.Add(time.Hour)),
		"expire": record("expire", "v2", now.Add(-time.Minute)),
	}}
	secondary := &stubSource{name: "feast", data: map[string]*core.FeatureVector{
		"stale": record("stale", "v2", now.Add(time.Hour)),
	}}
	svc := NewService([]Source{primary, secondary}, WithModelVersion("v2"), WithClock(func() time.Time { return now }))

	tests := []struct {
		user  string
		found bool
	}{
		{"fresh", true},
		{"stale", true},   // 模型版本不匹配时继续查下一个来源
		{"expire", false}, // 过期记录不可用
		{"missing", false},
		{"", false},
	}
	for _, tt := range tests {
		fv, err := svc.Lookup(context.Background(), tt.user)
		if tt.found {
			require.NoError(t, err, tt.user)
			assert.Equal(t, "v2", fv.ModelVersion)
		} else {
			assert.ErrorIs(t, err, core.ErrStoreNotFound, tt.user)
		}
	}
}

func TestServiceSourceErrorDegrades(t *testing.T) {
	now := time.Now()
	broken := &stubSource{name: "redis", err: errors.New("connection refused")}
	backup := &stubSource{name: "badger", data: map[string]*core.FeatureVector{"u": record("u", "", now.Add(time.Hour))}}
	svc := NewService([]Source{broken, backup})

	fv, err := svc.Lookup(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "u", fv.UserID)
	assert.Equal(t, 1, broken.calls)
}

func TestServiceCache(t *testing.T) {
	now := time.Now()
	src := &stubSource{name: "memory", data: map[string]*core.FeatureVector{"u": record("u", "v", now.Add(time.Hour))}}
	cache, err := NewMemoryFeatureCache(1<<20, time.Minute)
	require.NoError(t, err)
	svc := NewService([]Source{src}, WithCache(cache), WithModelVersion("v"))
	defer svc.Close()

	_, err = svc.Lookup(context.Background(), "u")
	require.NoError(t, err)
	cache.Wait()
	_, err = svc.Lookup(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "第二次应命中缓存")

	svc.Invalidate("u")
	_, err = svc.Lookup(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestMemoryFeatureCacheSkipsExpired(t *testing.T) {
	cache, err := NewMemoryFeatureCache(1<<20, time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	now := time.Now()
	cache.Set(record("old", "", now.Add(-time.Second)), now)
	cache.Wait()
	_, ok := cache.Get("old")
	assert.False(t, ok)
}
