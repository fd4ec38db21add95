package vector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsAfterRebuild(t *testing.T) {
	vectors := randomVectors(50, 4, 9)
	mapping := mustMapping(t, len(vectors))
	idx, err := Build(context.Background(), vectors, mapping, IndexSpec{Family: FamilyFlat})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "index.bin")
	m := NewManager(WithPersistPath(path))
	m.rebuilding.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewWatcher(m, "", 20*time.Millisecond).Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)

	snap := &Snapshot{Index: idx, Mapping: mapping, Spec: IndexSpec{Family: FamilyFlat}, Version: 7, BuiltAt: time.Now().UTC()}
	require.NoError(t, SaveSnapshot(path, snap))
	time.Sleep(150 * time.Millisecond)
	assert.Nil(t, m.Current(), "重建进行中不加载外部文件")

	m.rebuilding.Store(false)
	require.Eventually(t, func() bool { return m.Current() != nil }, 2*time.Second, 20*time.Millisecond, "重建结束后补做加载")
	assert.Equal(t, 50, m.Current().Index.Len())
}
