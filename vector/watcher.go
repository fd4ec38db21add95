package vector

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rushteam/phoenix/logging"
)

// Watcher 监听索引文件，当离线任务写入新文件时热加载。
// 监听的是所在目录：SaveSnapshot 通过 rename 落盘，直接监听文件会丢失事件。
type Watcher struct {
	manager  *Manager
	path     string
	debounce time.Duration
}

// NewWatcher 创建索引文件监听器。path 为空时使用 Manager 的持久化路径，debounce <= 0 时取 500ms。
func NewWatcher(m *Manager, path string, debounce time.Duration) *Watcher {
	if path == "" {
		path = m.Path()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{manager: m, path: path, debounce: debounce}
}

// Serve 实现 suture.Service
func (w *Watcher) Serve(ctx context.Context) error {
	path := w.path
	if path == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("index watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("index watcher: watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.Warn().Err(err).Str("path", path).Msg("index watcher error")
		case <-timer.C:
			if w.manager.Rebuilding() {
				// 等本进程的重建结束后再加载，文件与刚安装的快照相同时 ReloadFrom 不做替换
				timer.Reset(w.debounce)
				continue
			}
			if err := w.manager.ReloadFrom(path); err != nil {
				logging.Warn().Err(err).Str("path", path).Msg("index hot reload failed, keeping current snapshot")
			}
		}
	}
}

func (w *Watcher) String() string { return "index-watcher" }

// Watch 阻塞监听 path（为空时使用 WithPersistPath 的路径），直到 ctx 结束。
func (m *Manager) Watch(ctx context.Context, path string) error {
	return NewWatcher(m, path, 0).Serve(ctx)
}
