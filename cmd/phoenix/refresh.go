package main

import (
	"github.com/spf13/cobra"

	"github.com/rushteam/phoenix/refresh"
	"github.com/rushteam/phoenix/server"
	"github.com/rushteam/phoenix/vector"
)

var rebuildAfterRefresh bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute user embeddings for recently active users",
	Long: `Reads recent actions from the events store, re-encodes active users
with the user tower and upserts the embeddings into the feature store.
With --rebuild-index the item index file is rebuilt afterwards.`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().BoolVar(&rebuildAfterRefresh, "rebuild-index", false, "rebuild the item index after writing features")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	tower, ranker, err := server.LoadModels(s)
	if err != nil {
		return err
	}
	if c, ok := ranker.(interface{ Close() }); ok {
		c.Close()
	}
	fs, err := server.OpenFeatureStore(ctx, s.Features)
	if err != nil {
		return err
	}
	defer fs.Close()
	events, _, closer, err := server.OpenEventStores(s.Events)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	opts := refreshOptions(s)
	opts.RebuildIndex = opts.RebuildIndex || rebuildAfterRefresh
	job := refresh.NewJob(events, fs, tower, s.ModelVersion())
	if opts.RebuildIndex {
		prefs, err := indexPrefs(s)
		if err != nil {
			return err
		}
		job.Index = vector.NewManager(vector.WithPrefs(prefs), vector.WithPersistPath(s.Index.Path))
	}
	stats, err := job.Run(ctx, opts)
	if err != nil {
		return err
	}
	cmd.Printf("refreshed %d users: %d written, %d/%d batches failed, index rebuilt: %t (%s)\n",
		stats.Users, stats.Written, stats.FailedBatches, stats.Batches, stats.IndexRebuilt, stats.Took)
	return nil
}
