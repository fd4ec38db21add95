package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 50, cfg.Models.TowerMaxHistory)
	assert.Equal(t, 40, cfg.Models.PhoenixMaxHistory)
	assert.Equal(t, 30*24*time.Hour, cfg.Features.TTL)
	assert.Equal(t, "auto", cfg.Index.Family)
	assert.Equal(t, 800*time.Millisecond, cfg.Server.RequestTimeout)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phoenix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  rate_limit: 50
index:
  family: hnsw
  prefer_recall: true
features:
  backend: badger
  badger_dir: /tmp/fv
  ttl: 48h
safety:
  checker:
    type: keyword
    keywords: [scam]
`), 0o644))

	t.Setenv("PHOENIX_SERVER__ADDR", ":9100")
	t.Setenv("PHOENIX_REFRESH__BATCH_SIZE", "32")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr, "环境变量优先于配置文件")
	assert.Equal(t, 50, cfg.Server.RateLimit)
	assert.Equal(t, "hnsw", cfg.Index.Family)
	assert.True(t, cfg.Index.PreferRecall)
	assert.Equal(t, "badger", cfg.Features.Backend)
	assert.Equal(t, 48*time.Hour, cfg.Features.TTL)
	assert.Equal(t, []string{"scam"}, cfg.Safety.Checker.Keywords)
	assert.Equal(t, 32, cfg.Refresh.BatchSize)
	assert.Equal(t, 40, cfg.Models.PhoenixMaxHistory, "未覆盖的字段保留默认值")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"未知特征后端", func(s *Settings) { s.Features.Backend = "mongo" }},
		{"未知索引族", func(s *Settings) { s.Index.Family = "lsh" }},
		{"badger 缺目录", func(s *Settings) { s.Features.Backend = "badger"; s.Features.BadgerDir = "" }},
		{"sqlite 缺路径", func(s *Settings) { s.Events.Backend = "sqlite"; s.Events.SQLitePath = "" }},
		{"http 检查器缺地址", func(s *Settings) { s.Safety.Checker.Type = "http"; s.Safety.Checker.Endpoint = "" }},
		{"batch 为 0", func(s *Settings) { s.Refresh.BatchSize = 0 }},
		{"feast 缺地址", func(s *Settings) { s.Features.Feast.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
	assert.NoError(t, Defaults().Validate())
}

func TestModelVersion(t *testing.T) {
	t.Setenv("TWO_TOWER_MODEL_VERSION", "")
	t.Setenv("MODEL_VERSION", "")
	assert.Equal(t, "two_tower", ModelVersionFromEnv())

	t.Setenv("MODEL_VERSION", "mv")
	assert.Equal(t, "mv", ModelVersionFromEnv())

	t.Setenv("TWO_TOWER_MODEL_VERSION", "tt")
	assert.Equal(t, "tt", ModelVersionFromEnv())

	s := Defaults()
	s.Models.Version = "cfg"
	assert.Equal(t, "cfg", s.ModelVersion(), "配置优先于环境变量")
}

func TestDefaultPipelineConfig(t *testing.T) {
	cfg, err := DefaultPipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, "feed", cfg.Pipeline.Name)
	types := make([]string, 0, len(cfg.Pipeline.Nodes))
	for _, n := range cfg.Pipeline.Nodes {
		types = append(types, n.Type)
	}
	assert.Equal(t, []string{"recall.ann", "filter.safety", "rank.phoenix", "rerank.dedup", "rerank.topn"}, types)
}
