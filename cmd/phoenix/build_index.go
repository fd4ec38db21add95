package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rushteam/phoenix/server"
	"github.com/rushteam/phoenix/vector"
)

var (
	buildIndexOut    string
	buildIndexFamily string
	runBenchmark     bool
)

var buildIndexCmd = &cobra.Command{
	Use:   "build-index",
	Short: "Export item embeddings and write the ANN index file",
	RunE:  runBuildIndex,
}

func init() {
	buildIndexCmd.Flags().StringVarP(&buildIndexOut, "out", "o", "", "index file path (default: index.path)")
	buildIndexCmd.Flags().StringVar(&buildIndexFamily, "family", "", "force index family: flat, ivf, hnsw, ivfpq")
	buildIndexCmd.Flags().BoolVar(&runBenchmark, "benchmark", false, "run a self-recall benchmark on the built index")
	rootCmd.AddCommand(buildIndexCmd)
}

func runBuildIndex(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if buildIndexOut != "" {
		s.Index.Path = buildIndexOut
	}
	if buildIndexFamily != "" {
		s.Index.Family = buildIndexFamily
	}
	if s.Index.Path == "" {
		return fmt.Errorf("index path is required")
	}
	prefs, err := indexPrefs(s)
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
	vectors, ids := tower.ExportItemEmbeddings()
	mapping, err := vector.NewIDMapping(ids)
	if err != nil {
		return err
	}
	m := vector.NewManager(vector.WithPrefs(prefs), vector.WithPersistPath(s.Index.Path))
	if err := m.Rebuild(ctx, vectors, mapping); err != nil {
		return err
	}
	snap := m.Current()
	cmd.Printf("wrote %s: family=%s vectors=%d dim=%d\n", s.Index.Path, snap.Spec.Family, snap.Index.Len(), snap.Index.Dim())

	if runBenchmark {
		res := vector.Benchmark(snap.Index, vectors, 10)
		cmd.Printf("benchmark: queries=%d recall@1=%.4f qps=%.0f mean=%s\n", res.Queries, res.RecallAt1, res.QPS, res.MeanLatency)
	}
	return nil
}
