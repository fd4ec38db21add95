package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/phoenix/core"
)

// MemoryFeatureStore 是内存实现的 FeatureStore，用于测试/开发/原型。
// 过期记录在读取时过滤，并由后台定时清理；进程重启后数据丢失。
type MemoryFeatureStore struct {
	mu    sync.RWMutex
	data  map[string]*core.FeatureVector
	clean *time.Ticker
	done  chan struct{}
	once  sync.Once
	now   func() time.Time
}

func NewMemoryFeatureStore() *MemoryFeatureStore {
	ms := &MemoryFeatureStore{
		data:  make(map[string]*core.FeatureVector),
		clean: time.NewTicker(10 * time.Second),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	go ms.cleanup()
	return ms
}

func (m *MemoryFeatureStore) Name() string { return "memory" }

func (m *MemoryFeatureStore) Get(ctx context.Context, userID string) (*core.FeatureVector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fv, ok := m.data[userID]
	if !ok || m.expired(fv) {
		return nil, ErrNotFound
	}
	out := *fv
	out.Embedding = append([]float32(nil), fv.Embedding...)
	return &out, nil
}

func (m *MemoryFeatureStore) Upsert(ctx context.Context, fv *core.FeatureVector) error {
	if err := validateVector(fv); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(fv)
	return nil
}

func (m *MemoryFeatureStore) UpsertBatch(ctx context.Context, fvs []*core.FeatureVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for _, fv := range fvs {
		if err := validateVector(fv); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		m.upsertLocked(fv)
	}
	return first
}

func (m *MemoryFeatureStore) upsertLocked(fv *core.FeatureVector) {
	prev := m.data[fv.UserID]
	if prev != nil && m.expired(prev) {
		// 过期记录视为不存在
		prev = nil
	}
	merged := mergeUpsert(prev, fv, m.now().UTC())
	m.data[fv.UserID] = merged
	fv.Version, fv.CreatedAt, fv.UpdatedAt = merged.Version, merged.CreatedAt, merged.UpdatedAt
}

func (m *MemoryFeatureStore) expired(fv *core.FeatureVector) bool {
	return !fv.ExpiresAt.IsZero() && !m.now().Before(fv.ExpiresAt)
}

// Len 返回记录数（含尚未清理的过期记录）
func (m *MemoryFeatureStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryFeatureStore) Close() error {
	m.once.Do(func() {
		m.clean.Stop()
		close(m.done)
	})
	return nil
}

func (m *MemoryFeatureStore) cleanup() {
	for {
		select {
		case <-m.done:
			return
		case <-m.clean.C:
			m.mu.Lock()
			for k, fv := range m.data {
				if m.expired(fv) {
					delete(m.data, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

var _ core.FeatureStore = (*MemoryFeatureStore)(nil)

// MemoryEventStore 是内存实现的 EventStore
type MemoryEventStore struct {
	mu      sync.RWMutex
	actions []core.Action
}

func NewMemoryEventStore(actions ...core.Action) *MemoryEventStore {
	s := &MemoryEventStore{}
	s.Record(actions...)
	return s
}

// Record 追加行为记录
func (s *MemoryEventStore) Record(actions ...core.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, actions...)
}

func matchAction(a core.Action, since time.Time, actionTypes []string) bool {
	if a.CreatedAt.Before(since) || a.TargetPostID == "" {
		return false
	}
	return len(actionTypes) == 0 || slices.Contains(actionTypes, a.ActionType)
}

func (s *MemoryEventStore) ActiveUsers(ctx context.Context, since time.Time, actionTypes []string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	for _, a := range s.actions {
		if matchAction(a, since, actionTypes) {
			set[a.UserID] = struct{}{}
		}
	}
	users := make([]string, 0, len(set))
	for u := range set {
		users = append(users, u)
	}
	sort.Strings(users)
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *MemoryEventStore) RecentTargets(ctx context.Context, userID string, since time.Time, actionTypes []string, limit int) ([]string, error) {
	s.mu.RLock()
	matched := make([]core.Action, 0)
	for _, a := range s.actions {
		if a.UserID == userID && matchAction(a, since, actionTypes) {
			matched = append(matched, a)
		}
	}
	s.mu.RUnlock()

	// 新到旧；同一时刻按写入顺序倒序
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]string, len(matched))
	for i, a := range matched {
		out[i] = a.TargetPostID
	}
	return out, nil
}

var _ core.EventStore = (*MemoryEventStore)(nil)

// MemoryPostStore 是内存实现的 PostStore
type MemoryPostStore struct {
	mu    sync.RWMutex
	posts map[string]*core.Post
}

func NewMemoryPostStore(posts ...*core.Post) *MemoryPostStore {
	s := &MemoryPostStore{posts: make(map[string]*core.Post)}
	s.Put(posts...)
	return s
}

// Put 写入或覆盖帖子
func (s *MemoryPostStore) Put(posts ...*core.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range posts {
		if p != nil && p.ID != "" {
			cp := *p
			s.posts[p.ID] = &cp
		}
	}
}

func (s *MemoryPostStore) GetPosts(ctx context.Context, ids []string) (map[string]*core.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*core.Post, len(ids))
	for _, id := range ids {
		if p, ok := s.posts[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

var _ core.PostStore = (*MemoryPostStore)(nil)
