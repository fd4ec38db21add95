// Package server 是推荐服务的 HTTP 网关：/ann/retrieve、/phoenix/predict、/vf/check 与 /feed/recommend。
//
// 所有运行期依赖由 ServingContext 持有并注入 handler，不使用包级全局变量。
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rushteam/phoenix/config"
	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/feast"
	"github.com/rushteam/phoenix/feature"
	"github.com/rushteam/phoenix/logging"
	"github.com/rushteam/phoenix/model"
	"github.com/rushteam/phoenix/pipeline"
	"github.com/rushteam/phoenix/service"
	"github.com/rushteam/phoenix/store"
	"github.com/rushteam/phoenix/vector"

	// 注册 feed 链路使用的 node 类型
	_ "github.com/rushteam/phoenix/config/builders"
)

// Models 是一组同时加载、同时替换的模型与链路。
type Models struct {
	Tower    *model.TwoTower
	Ranker   model.Ranker
	Pipeline *pipeline.Pipeline
}

// Components 是构造 ServingContext 所需的依赖；Load 从配置构建，测试可直接组装。
type Components struct {
	Tower        *model.TwoTower
	Ranker       model.Ranker
	Index        *vector.Manager
	FeatureStore core.FeatureStore
	Features     *feature.Service
	Events       core.EventStore
	Posts        core.PostStore
	Safety       core.SafetyChecker // 为空时不做安全过滤，/vf/check 全部放行；非 FailClosed 会被包装

	// Close 时按顺序关闭
	Closers []io.Closer
}

// ServingContext 持有在线服务的全部状态。
// 模型通过原子指针替换，请求路径上不加锁。
type ServingContext struct {
	Settings *config.Settings

	Index        *vector.Manager
	FeatureStore core.FeatureStore
	Features     *feature.Service
	Events       core.EventStore
	Posts        core.PostStore
	Safety       core.SafetyChecker

	models    atomic.Pointer[Models]
	lastGood  *retrievalCache
	closers   []io.Closer
	pipeCfg   *pipeline.Config
	reloadMu  sync.Mutex
	baseCtx   context.Context
	cancel    context.CancelFunc
	bg        sync.WaitGroup
	closeOnce sync.Once
}

// NewServingContext 用已构建的依赖组装 ServingContext 并构建 feed 链路
func NewServingContext(settings *config.Settings, c Components) (*ServingContext, error) {
	if settings == nil {
		settings = config.Defaults()
	}
	if c.Tower == nil || c.Ranker == nil || c.Index == nil {
		return nil, core.NewModelUnavailableError(core.ModuleServer, "server: tower, ranker and index are required")
	}
	if c.Features == nil {
		var sources []feature.Source
		if c.FeatureStore != nil {
			sources = append(sources, c.FeatureStore)
		}
		c.Features = feature.NewService(sources, feature.WithModelVersion(settings.ModelVersion()))
	}
	if c.Safety != nil {
		if _, ok := c.Safety.(*service.FailClosed); !ok {
			c.Safety = &service.FailClosed{Checker: c.Safety}
		}
	}
	pipeCfg, err := config.LoadPipelineConfig(settings.Pipeline.Path)
	if err != nil {
		return nil, fmt.Errorf("load pipeline: %w", err)
	}
	applySafetySettings(pipeCfg, settings.Safety)

	lastGood, err := newRetrievalCache(settings.Server.LastGoodSize, settings.Server.LastGoodTTL)
	if err != nil {
		return nil, fmt.Errorf("last-good cache: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sc := &ServingContext{
		Settings:     settings,
		Index:        c.Index,
		FeatureStore: c.FeatureStore,
		Features:     c.Features,
		Events:       c.Events,
		Posts:        c.Posts,
		Safety:       c.Safety,
		lastGood:     lastGood,
		closers:      c.Closers,
		pipeCfg:      pipeCfg,
		baseCtx:      ctx,
		cancel:       cancel,
	}
	models, err := sc.assemble(c.Tower, c.Ranker)
	if err != nil {
		cancel()
		lastGood.Close()
		return nil, err
	}
	sc.models.Store(models)
	return sc, nil
}

// applySafetySettings 把全局安全配置写入链路中的 filter.safety 节点
func applySafetySettings(cfg *pipeline.Config, s config.SafetySettings) {
	for i, n := range cfg.Pipeline.Nodes {
		if n.Type != "filter.safety" {
			continue
		}
		if n.Config == nil {
			n.Config = map[string]any{}
		}
		if s.AllowInNetworkOnFailure {
			n.Config["allow_in_network_on_failure"] = true
		}
		cfg.Pipeline.Nodes[i] = n
	}
}

// assemble 用给定模型构建链路
func (sc *ServingContext) assemble(tower *model.TwoTower, ranker model.Ranker) (*Models, error) {
	deps := pipeline.Deps{
		pipeline.DepEncoder: tower,
		pipeline.DepRanker:  ranker,
		pipeline.DepIndex:   sc.Index,
	}
	if sc.Posts != nil {
		deps[pipeline.DepPostStore] = sc.Posts
	}
	if sc.Safety != nil {
		deps[pipeline.DepSafety] = sc.Safety
	}
	p, err := config.BuildPipeline(sc.pipeCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return &Models{Tower: tower, Ranker: ranker, Pipeline: p}, nil
}

// Models 返回当前模型
func (sc *ServingContext) Models() *Models { return sc.models.Load() }

// Swap 原子替换模型并重建链路，进行中的请求继续使用旧模型
func (sc *ServingContext) Swap(tower *model.TwoTower, ranker model.Ranker) error {
	sc.reloadMu.Lock()
	defer sc.reloadMu.Unlock()
	next, err := sc.assemble(tower, ranker)
	if err != nil {
		return err
	}
	prev := sc.models.Swap(next)
	if prev != nil && prev.Ranker != ranker {
		closeRanker(prev.Ranker)
	}
	return nil
}

// Reload 从模型目录重新加载权重并替换；失败时保留当前模型
func (sc *ServingContext) Reload(ctx context.Context) error {
	tower, ranker, err := LoadModels(sc.Settings)
	if err != nil {
		return err
	}
	if err := sc.Swap(tower, ranker); err != nil {
		closeRanker(ranker)
		return err
	}
	logging.Info().Str("dir", sc.Settings.Models.Dir).Msg("models reloaded")
	if sc.Settings.Index.Path != "" {
		if err := sc.Index.Reload(); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("index reload failed, keeping current snapshot")
		}
	}
	return nil
}

// RebuildIndexAsync 在后台从当前物品塔重建索引；已有重建进行中时返回 ErrRebuildInProgress
func (sc *ServingContext) RebuildIndexAsync() error {
	if sc.Index.Rebuilding() {
		return vector.ErrRebuildInProgress
	}
	sc.bg.Add(1)
	go func() {
		defer sc.bg.Done()
		if err := sc.RebuildIndex(sc.baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("background index rebuild failed")
		}
	}()
	return nil
}

// RebuildIndex 同步重建索引
func (sc *ServingContext) RebuildIndex(ctx context.Context) error {
	return sc.Index.RebuildFromSource(ctx)
}

// ItemSource 返回当前物品塔导出的物品向量，作为索引重建的数据源
func (sc *ServingContext) ItemSource(context.Context) ([][]float32, []string, error) {
	m := sc.Models()
	if m == nil {
		return nil, nil, core.NewModelUnavailableError(core.ModuleServer, "server: models not loaded")
	}
	vectors, ids := m.Tower.ExportItemEmbeddings()
	return vectors, ids, nil
}

// Close 等待后台任务结束并释放资源
func (sc *ServingContext) Close() error {
	var errs []error
	sc.closeOnce.Do(func() {
		sc.cancel()
		sc.bg.Wait()
		if m := sc.models.Load(); m != nil {
			closeRanker(m.Ranker)
		}
		sc.Features.Close()
		sc.lastGood.Close()
		for _, c := range sc.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func closeRanker(r model.Ranker) {
	if c, ok := r.(interface{ Close() }); ok {
		c.Close()
	}
}

// LoadModels 按配置加载双塔与排序模型；Random 模式下用固定种子生成权重。
func LoadModels(s *config.Settings) (*model.TwoTower, model.Ranker, error) {
	cfg := phoenixConfig(s.Models)
	if s.Models.Random {
		items := make([]string, max(s.Models.RandomItems, 1))
		for i := range items {
			items[i] = fmt.Sprintf("N%d", i)
		}
		vocab := model.NewVocab(items)
		tcfg := model.DefaultTwoTowerConfig()
		tcfg.MaxHistory = s.Models.TowerMaxHistory
		tower := model.NewRandomTwoTower(s.Index.Seed+1, model.NewVocab(nil), vocab, tcfg)
		ranker, err := model.NewRandomPhoenix(s.Index.Seed+2, vocab, cfg)
		if err != nil {
			return nil, nil, err
		}
		return tower, ranker, nil
	}
	tower, err := model.LoadTwoTower(s.Models.Dir, s.Models.TowerMaxHistory)
	if err != nil {
		return nil, nil, err
	}
	ranker, err := model.LoadPhoenix(s.Models.Dir, tower.Items, cfg)
	if err != nil {
		return nil, nil, err
	}
	return tower, ranker, nil
}

func phoenixConfig(m config.ModelSettings) model.PhoenixConfig {
	cfg := model.DefaultPhoenixConfig()
	if m.PhoenixDim > 0 {
		cfg.Dim = m.PhoenixDim
	}
	if m.PhoenixHeads > 0 {
		cfg.Heads = m.PhoenixHeads
	}
	if m.PhoenixLayers > 0 {
		cfg.Layers = m.PhoenixLayers
	}
	cfg.MaxHistory = m.PhoenixMaxHistory
	cfg.MaxPositions = max(cfg.MaxPositions, cfg.MaxHistory+1)
	return cfg
}

// Load 按配置构建全部依赖：模型、索引（文件缺失或损坏时由物品塔重建）、特征存储、行为与帖子存储、安全检查器。
func Load(ctx context.Context, s *config.Settings) (*ServingContext, error) {
	tower, ranker, err := LoadModels(s)
	if err != nil {
		return nil, err
	}
	c := Components{Tower: tower, Ranker: ranker}
	fail := func(err error) (*ServingContext, error) {
		closeRanker(ranker)
		for _, cl := range c.Closers {
			_ = cl.Close()
		}
		return nil, err
	}

	fs, err := OpenFeatureStore(ctx, s.Features)
	if err != nil {
		return fail(err)
	}
	c.FeatureStore = fs
	c.Closers = append(c.Closers, fs)

	sources := []feature.Source{fs}
	if s.Features.Feast.Enabled {
		client, err := feast.NewClient(s.Features.Feast.Addr, s.Features.Feast.Project, feast.WithTimeout(s.Features.Feast.Timeout))
		if err != nil {
			return fail(fmt.Errorf("feast client: %w", err))
		}
		reader := feast.NewFeatureReader(client, s.Features.Feast.Reader)
		c.Closers = append(c.Closers, reader)
		sources = append(sources, reader)
	}
	opts := []feature.ServiceOption{feature.WithModelVersion(s.ModelVersion())}
	if s.Features.CacheBytes > 0 {
		cache, err := feature.NewMemoryFeatureCache(s.Features.CacheBytes, s.Features.CacheTTL)
		if err != nil {
			return fail(fmt.Errorf("feature cache: %w", err))
		}
		opts = append(opts, feature.WithCache(cache))
	}
	c.Features = feature.NewService(sources, opts...)

	events, posts, closer, err := OpenEventStores(s.Events)
	if err != nil {
		return fail(err)
	}
	c.Events, c.Posts = events, posts
	if closer != nil {
		c.Closers = append(c.Closers, closer)
	}

	if s.Safety.Enabled {
		checker, err := service.NewSafetyChecker(&s.Safety.Checker)
		if err != nil {
			return fail(err)
		}
		c.Safety = checker
	}

	family, _ := vector.ParseFamily(s.Index.Family)
	var sc *ServingContext
	c.Index = vector.NewManager(
		vector.WithPrefs(vector.Prefs{
			PreferRecall:   s.Index.PreferRecall,
			CompressMemory: s.Index.CompressMemory,
			Family:         family,
			Seed:           s.Index.Seed,
		}),
		vector.WithPersistPath(s.Index.Path),
		vector.WithSource(func(ctx context.Context) ([][]float32, []string, error) { return sc.ItemSource(ctx) }),
	)

	sc, err = NewServingContext(s, c)
	if err != nil {
		return fail(err)
	}
	if err := sc.Index.LoadOrRebuild(ctx); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("load index: %w", err)
	}
	return sc, nil
}

// OpenFeatureStore 按 backend 打开特征存储
func OpenFeatureStore(ctx context.Context, s config.FeatureSettings) (core.FeatureStore, error) {
	switch s.Backend {
	case "redis":
		return store.NewRedisFeatureStore(ctx, s.Redis)
	case "badger":
		return store.OpenBadgerFeatureStore(s.BadgerDir)
	case "", "memory":
		return store.NewMemoryFeatureStore(), nil
	}
	return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeNotSupported, "unknown feature backend "+s.Backend)
}

// OpenEventStores 按 backend 打开行为与帖子存储，sqlite 同时提供两者
func OpenEventStores(s config.EventSettings) (core.EventStore, core.PostStore, io.Closer, error) {
	switch s.Backend {
	case "sqlite":
		db, err := store.NewSQLiteStore(s.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, db, db, nil
	case "", "memory":
		return store.NewMemoryEventStore(), store.NewMemoryPostStore(), nil, nil
	}
	return nil, nil, nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeNotSupported, "unknown events backend "+s.Backend)
}

// LiveTower 委托给当前加载的双塔，模型热替换后刷新任务随之切换
type LiveTower struct {
	sc *ServingContext
}

// LiveTower 返回跟随模型替换的双塔视图
func (sc *ServingContext) LiveTower() *LiveTower { return &LiveTower{sc: sc} }

func (t *LiveTower) EncodeUsers(batch []model.UserInput) [][]float32 {
	return t.sc.Models().Tower.EncodeUsers(batch)
}

func (t *LiveTower) ExportItemEmbeddings() ([][]float32, []string) {
	return t.sc.Models().Tower.ExportItemEmbeddings()
}

func (t *LiveTower) KnownItem(itemID string) bool {
	return t.sc.Models().Tower.KnownItem(itemID)
}
