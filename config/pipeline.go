package config

import (
	_ "embed"
	"fmt"

	"github.com/rushteam/phoenix/pipeline"
)

//go:embed default_pipeline.yaml
var defaultPipelineYAML []byte

// DefaultPipelineConfig 返回内置的 feed 链路：
// recall.ann -> filter.safety -> rank.phoenix -> rerank.dedup -> rerank.topn
func DefaultPipelineConfig() (*pipeline.Config, error) {
	return pipeline.ParseYAML(defaultPipelineYAML)
}

// LoadPipelineConfig 读取 path 指定的链路配置，path 为空时返回内置链路。
func LoadPipelineConfig(path string) (*pipeline.Config, error) {
	if path == "" {
		return DefaultPipelineConfig()
	}
	return pipeline.LoadFromYAML(path)
}

// BuildPipeline 校验 node 类型均已注册后，用 DefaultFactory 构建链路。
func BuildPipeline(cfg *pipeline.Config, deps pipeline.Deps) (*pipeline.Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline config is required")
	}
	if err := ValidatePipelineConfig(cfg); err != nil {
		return nil, err
	}
	return cfg.BuildPipeline(DefaultFactory(), deps)
}
