package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/FrenchMajesty/tagger"
	"github.com/FrenchMajesty/tagger/internal/benchmark"
)

var (
	benchLimit      int
	benchTopK       int
	benchStrategies []string
	benchOutputDir  string
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark <dataset.csv>",
	Short: "Score each strategy against a labeled image dataset",
	Long: `Score each strategy against a labeled image dataset.

The dataset is a CSV with a header row and two columns: the image path
(relative to the CSV) and the expected tags separated by ";".

  image,tags
  images/0001.jpg,floral;dress;red

Reports precision@k, recall@k, hit rate and latency per strategy, and with
--output writes metrics_<time>_<id>.json and results_<time>_<id>.json.

Examples:
  tagger benchmark -k 5 data/labeled.csv
  tagger benchmark -s clip -s swin --output runs/ data/labeled.csv`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger := newLogger(cfg)

		dataset, err := benchmark.LoadDataset(args[0], benchLimit)
		if err != nil {
			return err
		}

		var strategies []tagger.StrategyID
		for _, name := range benchStrategies {
			id, ok := tagger.ParseStrategy(name)
			if !ok {
				return fmt.Errorf("unknown strategy %q", name)
			}
			strategies = append(strategies, id)
		}

		b, err := buildBackends(cfg, logger)
		if err != nil {
			return err
		}
		startupCtx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.Inference.StartupSeconds)*time.Second)
		err = b.waitReady(startupCtx)
		cancel()
		if err != nil {
			return err
		}

		tg, err := buildTagger(cfg, b, logger, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		if len(strategies) == 0 {
			strategies = tg.Available()
		}

		metrics, results, err := benchmark.Run(cmd.Context(), tg, dataset, strategies, benchTopK, logger)
		if err != nil {
			return err
		}

		if benchOutputDir != "" {
			path, err := benchmark.SaveMetricsToFile(benchOutputDir, metrics)
			if err != nil {
				return fmt.Errorf("failed to save metrics: %w", err)
			}
			logger.WithField("path", path).Info("saved metrics")
			if path, err = benchmark.SaveResultsToFile(benchOutputDir, results); err != nil {
				return fmt.Errorf("failed to save results: %w", err)
			}
			logger.WithField("path", path).Info("saved results")
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), metrics)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%d images, k=%d, %s\n", metrics.TotalImages, metrics.TopK, metrics.TotalDuration.Round(time.Millisecond))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STRATEGY\tP@K\tR@K\tHIT\tERRORS\tFALLBACKS\tMEAN\tMAX")
		for _, m := range metrics.Strategies {
			fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%d\t%d\t%s\t%s\n",
				m.Strategy, m.PrecisionAtK, m.RecallAtK, m.HitRate, m.Errors, m.Fallbacks,
				m.MeanLatency.Round(time.Microsecond), m.MaxLatency.Round(time.Microsecond))
		}
		return tw.Flush()
	},
}

func init() {
	benchmarkCmd.Flags().IntVar(&benchLimit, "limit", benchmark.MAX_DATASET_SIZE, "maximum number of images")
	benchmarkCmd.Flags().IntVarP(&benchTopK, "k", "k", 10, "tags per prediction")
	benchmarkCmd.Flags().StringSliceVarP(&benchStrategies, "strategy", "s", nil, "strategies to run, defaults to every loaded one")
	benchmarkCmd.Flags().StringVarP(&benchOutputDir, "output", "o", "", "directory for metrics and results JSON")

	rootCmd.AddCommand(benchmarkCmd)
}
