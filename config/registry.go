package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/rushteam/phoenix/core"
	"github.com/rushteam/phoenix/pipeline"
)

// 内置 node 由 config/builders 在 init 中注册，入口处需要
// import _ "github.com/rushteam/phoenix/config/builders"。

// NodeBuilder 与 pipeline.NodeBuilder 相同
type NodeBuilder = pipeline.NodeBuilder

var registry = struct {
	sync.RWMutex
	builders map[string]NodeBuilder
}{builders: make(map[string]NodeBuilder)}

// Register 注册 node 类型。同名重复注册会 panic，只应在 init 中调用。
func Register(typeName string, builder NodeBuilder) {
	if typeName == "" || builder == nil {
		panic("config: Register with empty type or nil builder")
	}
	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.builders[typeName]; dup {
		panic(fmt.Sprintf("config: node type %q registered twice", typeName))
	}
	registry.builders[typeName] = builder
}

// SupportedTypes 返回已注册的 node 类型（升序）
func SupportedTypes() []string {
	registry.RLock()
	defer registry.RUnlock()
	return slices.Sorted(maps.Keys(registry.builders))
}

// DefaultFactory 用当前注册表生成 NodeFactory
func DefaultFactory() *pipeline.NodeFactory {
	registry.RLock()
	defer registry.RUnlock()
	f := pipeline.NewNodeFactory()
	for typeName, builder := range registry.builders {
		f.Register(typeName, builder)
	}
	return f
}

// ValidatePipelineConfig 一次性列出配置中所有未注册的 node 类型。
func ValidatePipelineConfig(cfg *pipeline.Config) error {
	if cfg == nil {
		return nil
	}
	registry.RLock()
	var unknown []string
	for _, nc := range cfg.Pipeline.Nodes {
		if _, ok := registry.builders[nc.Type]; nc.Type != "" && !ok {
			unknown = append(unknown, nc.Type)
		}
	}
	registry.RUnlock()
	if len(unknown) == 0 {
		return nil
	}
	return core.NewDomainError(core.ModuleConfig, core.ErrorCodeInvalidInput,
		fmt.Sprintf("unsupported node types [%s], supported: %v", strings.Join(unknown, ", "), SupportedTypes()))
}
