package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/logging"
	"github.com/rushteam/phoenix/metrics"
	"github.com/rushteam/phoenix/pkg/vecmath"
)

var (
	// ErrRebuildInProgress 表示已有重建在进行中，本次请求被拒绝
	ErrRebuildInProgress = core.NewDomainError(core.ModuleVector, core.ErrorCodeUnavailable, "vector: rebuild already in progress")

	// ErrIndexUnavailable 表示尚无可用的索引快照
	ErrIndexUnavailable = core.NewModelUnavailableError(core.ModuleVector, "vector: index unavailable")
)

// Snapshot 是不可变的在线索引：向量索引 + id 映射 + 构建信息。
type Snapshot struct {
	Index   Index
	Mapping *IDMapping
	Spec    IndexSpec
	Version int64
	BuiltAt time.Time
}

// Hit 是对外的检索结果
type Hit struct {
	ItemID string  `json:"postId"`
	Score  float32 `json:"score"`
}

// SourceFunc 返回重建索引所需的完整物品向量矩阵（ids[i] 对应 vectors[i]）
type SourceFunc func(ctx context.Context) ([][]float32, []string, error)

// Manager 持有在线索引指针，提供写时复制的重建：
// 新快照在旁路构建完成后原子替换，进行中的查询继续使用旧快照；读写互不阻塞。
// 同一时间只允许一个重建。
type Manager struct {
	live       atomic.Pointer[Snapshot]
	rebuilding atomic.Bool
	version    atomic.Int64

	prefs  Prefs
	path   string
	source SourceFunc
}

// ManagerOption 配置 Manager
type ManagerOption func(*Manager)

// WithPrefs 设置选型偏好
func WithPrefs(p Prefs) ManagerOption {
	return func(m *Manager) { m.prefs = p }
}

// WithPersistPath 设置索引文件路径；重建成功后会写入该文件
func WithPersistPath(path string) ManagerOption {
	return func(m *Manager) { m.path = path }
}

// WithSource 设置索引文件缺失或损坏时的重建数据源
func WithSource(src SourceFunc) ManagerOption {
	return func(m *Manager) { m.source = src }
}

// NewManager 创建一个尚无快照的 Manager
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current 返回当前快照，可能为 nil
func (m *Manager) Current() *Snapshot {
	return m.live.Load()
}

// Path 返回索引文件路径
func (m *Manager) Path() string { return m.path }

// Query 返回与 vec 内积最大的 topK 个物品，按分数降序，同分按行号升序。
func (m *Manager) Query(ctx context.Context, vec []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, core.NewValidationError(core.ModuleVector, "topK must be positive")
	}
	snap := m.live.Load()
	if snap == nil {
		return nil, ErrIndexUnavailable
	}
	if len(vec) != snap.Index.Dim() {
		return nil, core.NewValidationError(core.ModuleVector, fmt.Sprintf("query dim %d, index dim %d", len(vec), snap.Index.Dim()))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	neighbors := snap.Index.Search(vecmath.Normalized(vec), topK)
	metrics.ANNQueryDuration.WithLabelValues(snap.Spec.Family.String()).Observe(time.Since(start).Seconds())

	hits := make([]Hit, 0, len(neighbors))
	for _, nb := range neighbors {
		id, ok := snap.Mapping.ID(nb.Offset)
		if !ok {
			continue
		}
		hits = append(hits, Hit{ItemID: id, Score: nb.Score})
	}
	return hits, nil
}

// Rebuild 在旁路构建新快照并原子替换；已有重建进行中时立即返回 ErrRebuildInProgress。
// 构建失败时保留原快照。
func (m *Manager) Rebuild(ctx context.Context, vectors [][]float32, mapping *IDMapping) error {
	if !m.rebuilding.CompareAndSwap(false, true) {
		metrics.IndexRebuilds.WithLabelValues("rejected").Inc()
		return ErrRebuildInProgress
	}
	defer m.rebuilding.Store(false)

	snap, err := m.build(ctx, vectors, mapping)
	if err != nil {
		metrics.IndexRebuilds.WithLabelValues("failed").Inc()
		logging.Error().Err(err).Int("vectors", len(vectors)).Msg("index rebuild failed, keeping previous snapshot")
		return err
	}
	if m.path != "" {
		if err := SaveSnapshot(m.path, snap); err != nil {
			// 写文件失败不影响在线服务
			logging.Warn().Err(err).Str("path", m.path).Msg("persist index snapshot failed")
		}
	}
	m.install(snap)
	metrics.IndexRebuilds.WithLabelValues("success").Inc()
	return nil
}

// Rebuilding 返回是否有重建正在进行
func (m *Manager) Rebuilding() bool { return m.rebuilding.Load() }

func (m *Manager) build(ctx context.Context, vectors [][]float32, mapping *IDMapping) (*Snapshot, error) {
	if len(vectors) == 0 {
		return nil, core.NewValidationError(core.ModuleVector, "rebuild: no vectors")
	}
	spec := SelectSpec(len(vectors), len(vectors[0]), m.prefs)
	start := time.Now()
	idx, err := Build(ctx, vectors, mapping, spec)
	if err != nil {
		return nil, err
	}
	logging.Info().
		Str("family", spec.Family.String()).
		Int("vectors", idx.Len()).
		Int("dim", idx.Dim()).
		Dur("took", time.Since(start)).
		Msg("index built")
	return &Snapshot{
		Index:   idx,
		Mapping: mapping,
		Spec:    spec,
		Version: m.version.Load() + 1,
		BuiltAt: time.Now().UTC(),
	}, nil
}

// install 原子替换在线快照并推进版本号
func (m *Manager) install(snap *Snapshot) {
	for {
		cur := m.version.Load()
		next := max(cur+1, snap.Version)
		if m.version.CompareAndSwap(cur, next) {
			snap.Version = next
			break
		}
	}
	m.live.Store(snap)
	metrics.IndexSize.Set(float64(snap.Index.Len()))
	metrics.IndexVersion.Set(float64(snap.Version))
}

// Reload 从持久化路径加载快照并替换；失败时保留原快照。
func (m *Manager) Reload() error {
	return m.ReloadFrom(m.path)
}

// ReloadFrom 从指定文件加载快照并替换；失败时保留原快照。
func (m *Manager) ReloadFrom(path string) error {
	if path == "" {
		return core.NewDomainError(core.ModuleVector, core.ErrorCodeInvalidInput, "vector: no index path configured")
	}
	snap, err := LoadSnapshot(path)
	if err != nil {
		return err
	}
	if cur := m.live.Load(); cur != nil && cur.BuiltAt.Equal(snap.BuiltAt) && cur.Index.Len() == snap.Index.Len() {
		// 本进程刚写出的文件
		return nil
	}
	m.install(snap)
	logging.Info().Str("path", path).Str("family", snap.Spec.Family.String()).Int("vectors", snap.Index.Len()).Msg("index loaded")
	return nil
}

// LoadOrRebuild 启动时加载索引文件；文件缺失或损坏时从数据源全量重建。
// 重建期间继续使用已有快照（若有）。
func (m *Manager) LoadOrRebuild(ctx context.Context) error {
	if m.path != "" {
		err := m.Reload()
		if err == nil {
			return nil
		}
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, ErrCorruptIndex) {
			return err
		}
		logging.Warn().Err(err).Str("path", m.path).Msg("index file unusable, rebuilding from source")
	}
	if m.source == nil {
		return ErrIndexUnavailable
	}
	return m.RebuildFromSource(ctx)
}

// RebuildFromSource 从数据源取全量向量并重建
func (m *Manager) RebuildFromSource(ctx context.Context) error {
	if m.source == nil {
		return core.NewDomainError(core.ModuleVector, core.ErrorCodeNotSupported, "vector: no rebuild source configured")
	}
	vectors, ids, err := m.source(ctx)
	if err != nil {
		return fmt.Errorf("rebuild source: %w", err)
	}
	mapping, err := NewIDMapping(ids)
	if err != nil {
		return err
	}
	return m.Rebuild(ctx, vectors, mapping)
}
