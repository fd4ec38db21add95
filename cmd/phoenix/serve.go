package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"

	"github.com/rushteam/phoenix/logging"
	"github.com/rushteam/phoenix/refresh"
	"github.com/rushteam/phoenix/server"
	"github.com/rushteam/phoenix/vector"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Long: `Loads models, the ANN index and feature stores, then serves
/ann/retrieve, /phoenix/predict, /vf/check and /feed/recommend.
A missing or corrupt index file is rebuilt from the item tower.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	sc, err := server.Load(ctx, s)
	if err != nil {
		return err
	}
	defer sc.Close()

	sup := suture.New("phoenix", suture.Spec{
		EventHook: func(e suture.Event) {
			logging.Warn().Str("event", e.String()).Msg("supervisor event")
		},
	})
	sup.Add(server.NewHTTPServerService(server.NewHTTPServer(sc), s.Server.ShutdownTimeout))
	if s.Index.Watch && s.Index.Path != "" {
		sup.Add(vector.NewWatcher(sc.Index, s.Index.Path, s.Index.WatchDebounce))
	}
	sup.Add(&reloadService{sc: sc})
	if s.Refresh.Interval > 0 {
		job := refresh.NewJob(sc.Events, sc.FeatureStore, sc.LiveTower(), s.ModelVersion())
		job.Index = sc.Index
		sup.Add(refresh.NewScheduler(job, refreshOptions(s), s.Refresh.Interval, false))
	}

	logging.Info().Str("addr", s.Server.Addr).Msg("phoenix serving")
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("phoenix stopped")
	return nil
}

// reloadService 收到 SIGHUP 时重新加载模型与索引文件
type reloadService struct {
	sc *server.ServingContext
}

func (r *reloadService) Serve(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hup:
			if err := r.sc.Reload(ctx); err != nil {
				logging.Error().Err(err).Msg("reload failed, keeping current models")
			}
		}
	}
}

func (r *reloadService) String() string { return "sighup-reload" }
