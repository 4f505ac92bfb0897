package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/FrenchMajesty/tagger/internal/config"
)

var (
	// Global flags
	verbose    bool
	jsonOutput bool

	globalConfig  *config.Config
	configLoadErr error
)

var rootCmd = &cobra.Command{
	Use:   "tagger",
	Short: "Image tag prediction service",
	Long: `tagger - predicts descriptive tags for product images.

Three strategies rank tags from a closed vocabulary:
  embedding-similarity  (clip)  image/text embedding similarity
  caption-matching      (blip)  vocabulary words found in a generated caption
  prototype-similarity  (swin)  image features against precomputed tag prototypes

Model backends are provided by the inference sidecar (TAGGER_INFERENCE_URL)
or, with TAGGER_BACKEND=mock, by deterministic in-process stand-ins.

Examples:
  # Run the service
  tagger serve

  # Tag one image with the caption strategy
  tagger predict -m blip -k 5 shirt.jpg

  # Build the prototype artifact for the current vocabulary
  tagger prototypes generate -o prototypes.msgpack`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

func initConfig() {
	globalConfig, configLoadErr = config.Load()
}

// GetConfig returns the configuration loaded for this invocation.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := cfg.NewLogger()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
