package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rushteam/phoenix/config"
	"github.com/rushteam/phoenix/logging"
	"github.com/rushteam/phoenix/refresh"
	"github.com/rushteam/phoenix/vector"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "phoenix",
	Short:         "Phoenix recommendation serving",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $PHOENIX_CONFIG or phoenix.yaml)")
}

// loadSettings 加载配置并初始化日志
func loadSettings() (*config.Settings, error) {
	s, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(s.Logging)
	return s, nil
}

// signalContext 返回在 SIGINT / SIGTERM 时取消的 context
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func refreshOptions(s *config.Settings) refresh.Options {
	return refresh.Options{
		Lookback:      s.Refresh.Lookback,
		MaxUsers:      s.Refresh.MaxUsers,
		MaxHistoryLen: s.Refresh.MaxHistory,
		BatchSize:     s.Refresh.BatchSize,
		Concurrency:   s.Refresh.Concurrency,
		RebuildIndex:  s.Refresh.RebuildIndex,
		TTL:           s.Features.TTL,
	}
}

func indexPrefs(s *config.Settings) (vector.Prefs, error) {
	family, err := vector.ParseFamily(s.Index.Family)
	if err != nil {
		return vector.Prefs{}, fmt.Errorf("index family: %w", err)
	}
	return vector.Prefs{
		PreferRecall:   s.Index.PreferRecall,
		CompressMemory: s.Index.CompressMemory,
		Family:         family,
		Seed:           s.Index.Seed,
	}, nil
}
