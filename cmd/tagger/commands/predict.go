package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
)

var (
	predictModel string
	predictTopK  int
)

var predictCmd = &cobra.Command{
	Use:   "predict <image>",
	Short: "Tag a single image file",
	Long: `Tag a single image file without starting the server.

The model flag accepts a strategy name or the aliases clip, blip and swin.
An empty or unknown model selects embedding similarity.

Examples:
  tagger predict dress.jpg
  tagger predict -m blip -k 5 dress.jpg
  tagger predict --json -m swin dress.png`,
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

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		img, err := imageio.Decode(data)
		if err != nil {
			return err
		}

		b, err := buildBackends(cfg, logger)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		startupCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Inference.StartupSeconds)*time.Second)
		err = b.waitReady(startupCtx)
		cancel()
		if err != nil {
			return err
		}

		tg, err := buildTagger(cfg, b, logger, prometheus.NewRegistry())
		if err != nil {
			return err
		}

		resp := tg.Predict(ctx, img, predictTopK, predictModel)
		if err := printResponse(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("prediction failed: %s", resp.Error)
		}
		return nil
	},
}

func init() {
	predictCmd.Flags().StringVarP(&predictModel, "model", "m", "", "strategy name or alias (clip, blip, swin)")
	predictCmd.Flags().IntVarP(&predictTopK, "k", "k", 0, "number of tags, 0 uses TAGGER_TOP_K")

	rootCmd.AddCommand(predictCmd)
}
