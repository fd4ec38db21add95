// Package refresh 实现离线特征刷新：按近期行为重算用户 embedding 写入特征存储，可选重建物品索引。
//
// 只做推理，不训练。批次之间相互独立：失败的批次记录日志并计数，不回滚已写入的批次。
package refresh

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/logging"
	"github.com/rushteam/phoenix/metrics"
	"github.com/rushteam/phoenix/model"
	"github.com/rushteam/phoenix/vector"
)

// DefaultTTL 是特征记录的默认有效期
const DefaultTTL = 30 * 24 * time.Hour

// Tower 是刷新任务依赖的用户塔能力（由 model.TwoTower 实现）
type Tower interface {
	EncodeUsers(batch []model.UserInput) [][]float32
	ExportItemEmbeddings() ([][]float32, []string)
	KnownItem(itemID string) bool
}

// Indexer 接收重建后的物品向量矩阵（由 vector.Manager 实现）
type Indexer interface {
	Rebuild(ctx context.Context, vectors [][]float32, mapping *vector.IDMapping) error
}

// Options 是一次刷新的参数
type Options struct {
	Lookback      time.Duration // 只看这段时间内有行为的用户，默认 24h
	MaxUsers      int           // 最多处理的用户数，<=0 不限制
	MaxHistoryLen int           // 历史窗口长度，默认 50
	BatchSize     int           // 每批用户数，默认 256
	Concurrency   int           // 并发批次数，默认 1
	RebuildIndex  bool          // 写完特征后重建物品索引
	ActionTypes   []string      // 参与的行为类型，默认 core.DefaultActionTypes
	TTL           time.Duration // 记录有效期，默认 30 天
}

func (o Options) withDefaults() Options {
	if o.Lookback <= 0 {
		o.Lookback = 24 * time.Hour
	}
	if o.MaxHistoryLen <= 0 {
		o.MaxHistoryLen = 50
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 256
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if len(o.ActionTypes) == 0 {
		o.ActionTypes = core.DefaultActionTypes
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// Stats 是一次刷新的结果统计
type Stats struct {
	Users         int           `json:"usersProcessed"`
	Written       int           `json:"embeddingsWritten"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failedBatches"`
	IndexRebuilt  bool          `json:"indexRebuilt"`
	Took          time.Duration `json:"took"`
}

// Job 是特征刷新任务
type Job struct {
	Events       core.EventStore
	Store        core.FeatureStore
	Tower        Tower
	Index        Indexer // RebuildIndex 时必须设置
	ModelVersion string

	now func() time.Time
}

// NewJob 创建刷新任务
func NewJob(events core.EventStore, fs core.FeatureStore, tower Tower, modelVersion string) *Job {
	return &Job{Events: events, Store: fs, Tower: tower, ModelVersion: modelVersion, now: time.Now}
}

func (j *Job) clock() time.Time {
	if j.now != nil {
		return j.now()
	}
	return time.Now()
}

// Run 执行一次刷新。
// 只有获取活跃用户失败或 ctx 取消时返回错误；批次失败体现在 Stats.FailedBatches。
// 索引重建失败（包括已有重建进行中）时返回错误，已写入的特征不受影响。
func (j *Job) Run(ctx context.Context, opts Options) (*Stats, error) {
	if j.Events == nil || j.Store == nil || j.Tower == nil {
		return nil, core.NewDomainError(core.ModuleRefresh, core.ErrorCodeInvalidInput, "refresh: events, store and tower are required")
	}
	opts = opts.withDefaults()
	if opts.RebuildIndex && j.Index == nil {
		return nil, core.NewDomainError(core.ModuleRefresh, core.ErrorCodeInvalidInput, "refresh: rebuild requested without index")
	}
	start := time.Now()
	log := logging.WithComponent("refresh")
	since := j.clock().Add(-opts.Lookback)

	users, err := j.Events.ActiveUsers(ctx, since, opts.ActionTypes, opts.MaxUsers)
	if err != nil {
		return nil, fmt.Errorf("refresh: active users: %w", err)
	}
	stats := &Stats{Users: len(users)}
	log.Info().Int("users", len(users)).Time("since", since).Str("model_version", j.ModelVersion).Msg("feature refresh started")

	var written, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for batch := range slices.Chunk(users, opts.BatchSize) {
		stats.Batches++
		seq := stats.Batches
		g.Go(func() error {
			n, err := j.runBatch(gctx, batch, since, opts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				metrics.RefreshBatches.WithLabelValues("failed").Inc()
				log.Error().Err(err).Int("batch", seq).Int("users", len(batch)).Msg("refresh batch failed, skipped")
				return nil
			}
			written.Add(int64(n))
			metrics.RefreshBatches.WithLabelValues("success").Inc()
			metrics.RefreshUsers.Add(float64(n))
			return nil
		})
	}
	werr := g.Wait()
	stats.Written = int(written.Load())
	stats.FailedBatches = int(failed.Load())
	if werr != nil {
		stats.Took = time.Since(start)
		return stats, fmt.Errorf("refresh: %w", werr)
	}

	if opts.RebuildIndex {
		if err := j.rebuildIndex(ctx); err != nil {
			stats.Took = time.Since(start)
			return stats, err
		}
		stats.IndexRebuilt = true
	}
	stats.Took = time.Since(start)
	log.Info().
		Int("users", stats.Users).
		Int("written", stats.Written).
		Int("failed_batches", stats.FailedBatches).
		Bool("index_rebuilt", stats.IndexRebuilt).
		Dur("took", stats.Took).
		Msg("feature refresh finished")
	return stats, nil
}

// runBatch 读历史、编码并写入一批用户，返回写入条数
func (j *Job) runBatch(ctx context.Context, users []string, since time.Time, opts Options) (int, error) {
	inputs := make([]model.UserInput, len(users))
	quality := make([]float64, len(users))
	for i, user := range users {
		hist, mask, q, err := j.history(ctx, user, since, opts)
		if err != nil {
			return 0, fmt.Errorf("history of %s: %w", user, err)
		}
		inputs[i] = model.UserInput{UserID: user, HistoryIDs: hist, HistoryMask: mask}
		quality[i] = q
	}

	embeddings := j.Tower.EncodeUsers(inputs)
	now := j.clock().UTC()
	fvs := make([]*core.FeatureVector, len(users))
	for i, user := range users {
		fvs[i] = &core.FeatureVector{
			UserID:       user,
			Embedding:    embeddings[i],
			QualityScore: quality[i],
			ModelVersion: j.ModelVersion,
			ComputedAt:   now,
			ExpiresAt:    now.Add(opts.TTL),
		}
	}
	if err := j.Store.UpsertBatch(ctx, fvs); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return len(fvs), nil
}

// history 返回用户最近 MaxHistoryLen 个目标 id（从旧到新，右侧补齐）、mask 与质量分。
// 质量分 = 词表内的历史数 / MaxHistoryLen，上限为 1。
func (j *Job) history(ctx context.Context, user string, since time.Time, opts Options) ([]string, []float32, float64, error) {
	recent, err := j.Events.RecentTargets(ctx, user, since, opts.ActionTypes, opts.MaxHistoryLen)
	if err != nil {
		return nil, nil, 0, err
	}
	slices.Reverse(recent)
	ids, mask := core.PadHistory(recent, nil, opts.MaxHistoryLen)
	known := 0
	for i, id := range ids {
		if mask[i] != 0 && j.Tower.KnownItem(id) {
			known++
		}
	}
	return ids, mask, min(1, float64(known)/float64(opts.MaxHistoryLen)), nil
}

func (j *Job) rebuildIndex(ctx context.Context) error {
	vectors, ids := j.Tower.ExportItemEmbeddings()
	mapping, err := vector.NewIDMapping(ids)
	if err != nil {
		return fmt.Errorf("refresh: item mapping: %w", err)
	}
	if err := j.Index.Rebuild(ctx, vectors, mapping); err != nil {
		if errors.Is(err, vector.ErrRebuildInProgress) {
			logging.Warn().Msg("index rebuild already in progress, skipped")
		}
		return fmt.Errorf("refresh: rebuild index: %w", err)
	}
	return nil
}
