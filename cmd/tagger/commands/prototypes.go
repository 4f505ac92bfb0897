package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/FrenchMajesty/tagger/adapters"
	"github.com/FrenchMajesty/tagger/adapters/inference"
	"github.com/FrenchMajesty/tagger/adapters/mock"
	"github.com/FrenchMajesty/tagger/internal/config"
	"github.com/FrenchMajesty/tagger/pkg/generator"
	"github.com/FrenchMajesty/tagger/pkg/prototypes"
)

const (
	embedderSidecar = "sidecar"
	embedderVoyage  = "voyage"
	embedderMock    = "mock"
)

var (
	protoEmbedder   string
	protoOutput     string
	protoTemplate   string
	protoModel      string
	protoBatchSize  int
	protoProjection string
	protoPublish    bool

	searchTopK     int
	searchPinecone bool
)

var prototypesCmd = &cobra.Command{
	Use:   "prototypes",
	Short: "Manage the prototype artifact",
	Long: `Manage the prototype artifact used by prototype similarity.

The artifact holds one unit-norm text embedding per vocabulary tag, in
vocabulary order, plus the optional projection head that maps image features
into the same space. It must be regenerated whenever the vocabulary changes.`,
}

var prototypesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Embed every vocabulary tag and write the artifact",
	Long: `Embed "a photo of {tag}" for every vocabulary tag and write the artifact.

Embedders:
  sidecar  CLIP text encoder of the inference sidecar (default)
  voyage   Voyage AI text embeddings (VOYAGEAI_API_KEY)
  mock     deterministic hash vectors, for tests and local runs

The projection file is YAML with in, out, weight (row-major, out x in) and
optional bias. Its out size must equal the embedding size.

Examples:
  tagger prototypes generate -o prototypes.msgpack
  tagger prototypes generate --embedder voyage --projection head.yaml
  tagger prototypes generate --publish   # also upsert into Pinecone`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		vocab, err := loadVocabulary(cfg.Engine.VocabularyPath)
		if err != nil {
			return err
		}

		embedder, model, err := textEmbedder(cmd.Context(), cfg, protoEmbedder, logger)
		if err != nil {
			return err
		}
		if protoModel != "" {
			model = protoModel
		}

		output := protoOutput
		if output == "" {
			output = cfg.Engine.PrototypesPath
		}

		gcfg := generator.Config{
			Template:    protoTemplate,
			Model:       model,
			BatchSize:   protoBatchSize,
			Persistence: prototypes.NewFilePersistence(output),
			Logger:      logger,
		}
		if protoProjection != "" {
			if gcfg.Projection, err = loadProjection(protoProjection); err != nil {
				return err
			}
		}
		if protoPublish {
			publisher, err := pineconeAdapter(cfg)
			if err != nil {
				return err
			}
			defer publisher.Close()
			gcfg.Publisher = publisher
		}

		gen, err := generator.New(embedder, gcfg)
		if err != nil {
			return err
		}

		set, err := gen.Run(cmd.Context(), vocab)
		if err != nil {
			return err
		}

		summary := artifactSummary(output, set, nil)
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), summary)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d prototypes (dim %d) to %s\n", set.Len(), set.Dim, output)
		return nil
	},
}

var prototypesInspectCmd = &cobra.Command{
	Use:   "inspect [path]",
	Short: "Print the artifact summary and vocabulary match status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}

		path := cfg.Engine.PrototypesPath
		if len(args) == 1 {
			path = args[0]
		}

		set, err := prototypes.NewFilePersistence(path).Load()
		if err != nil {
			return err
		}
		vocab, err := loadVocabulary(cfg.Engine.VocabularyPath)
		if err != nil {
			return err
		}

		summary := artifactSummary(path, set, set.CheckTags(vocab.AllTags()))
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), summary)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "path\t%s\n", summary.Path)
		fmt.Fprintf(tw, "tags\t%d\n", summary.Tags)
		fmt.Fprintf(tw, "dim\t%d\n", summary.Dim)
		fmt.Fprintf(tw, "model\t%s\n", summary.Model)
		fmt.Fprintf(tw, "template\t%s\n", summary.Template)
		fmt.Fprintf(tw, "projection\t%s\n", summary.Projection)
		fmt.Fprintf(tw, "vocabulary\t%s\n", summary.Vocabulary)
		return tw.Flush()
	},
}

var prototypesSearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Find the tags whose prototypes are closest to a text query",
	Long: `Embed a text query and rank the prototypes by cosine similarity.

By default the local artifact is searched. With --pinecone the query runs
against the index the prototypes were published to.

Examples:
  tagger prototypes search "a photo of a floral summer dress"
  tagger prototypes search --pinecone -k 5 "leather jacket"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		embedder, _, err := textEmbedder(cmd.Context(), cfg, protoEmbedder, logger)
		if err != nil {
			return err
		}
		vectors, err := embedder.EmbedTexts(cmd.Context(), []string{args[0]})
		if err != nil {
			return err
		}
		if len(vectors) != 1 {
			return fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
		}
		query, err := prototypes.Normalize(vectors[0])
		if err != nil {
			return err
		}

		var hits []searchHit
		if searchPinecone {
			hits, err = searchIndex(cmd.Context(), cfg, query, searchTopK)
		} else {
			hits, err = searchArtifact(cfg.Engine.PrototypesPath, query, searchTopK)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), hits)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tTAG\tSCORE")
		for i, h := range hits {
			fmt.Fprintf(tw, "%d\t%s\t%.4f\n", i+1, h.Tag, h.Score)
		}
		return tw.Flush()
	},
}

type summary struct {
	Path       string `json:"path"`
	Tags       int    `json:"tags"`
	Dim        int    `json:"dim"`
	Model      string `json:"model"`
	Template   string `json:"template"`
	Projection string `json:"projection"`
	Vocabulary string `json:"vocabulary"`
}

func artifactSummary(path string, set *prototypes.Set, mismatch error) summary {
	s := summary{
		Path:       path,
		Tags:       set.Len(),
		Dim:        set.Dim,
		Model:      set.Model,
		Template:   set.Template,
		Projection: "identity",
		Vocabulary: "match",
	}
	if set.Projection != nil {
		s.Projection = fmt.Sprintf("%d -> %d", set.Projection.In, set.Projection.Out)
	}
	if mismatch != nil {
		s.Vocabulary = mismatch.Error()
	}
	return s
}

type searchHit struct {
	Tag   string  `json:"tag"`
	Score float32 `json:"score"`
	ID    string  `json:"id,omitempty"`
}

func searchArtifact(path string, query []float32, topK int) ([]searchHit, error) {
	set, err := prototypes.NewFilePersistence(path).Load()
	if err != nil {
		return nil, err
	}
	scores, err := set.Similarities(query)
	if err != nil {
		return nil, err
	}

	hits := make([]searchHit, len(scores))
	for i, s := range scores {
		hits[i] = searchHit{Tag: set.Tags[i], Score: s}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

func searchIndex(ctx context.Context, cfg *config.Config, query []float32, topK int) ([]searchHit, error) {
	index, err := pineconeAdapter(cfg)
	if err != nil {
		return nil, err
	}
	defer index.Close()

	matches, err := index.Search(ctx, query, max(topK, 1))
	if err != nil {
		return nil, fmt.Errorf("pinecone search failed: %w", err)
	}

	hits := make([]searchHit, len(matches))
	for i, m := range matches {
		hits[i] = searchHit{Tag: m.Tag(), Score: m.Score, ID: m.ID}
	}
	return hits, nil
}

// textEmbedder returns the embedder for kind and the model name recorded in
// the artifact
func textEmbedder(ctx context.Context, cfg *config.Config, kind string, logger logrus.FieldLogger) (generator.Embedder, string, error) {
	switch kind {
	case embedderMock:
		return mock.New(cfg.Inference.MockDim), "mock", nil
	case embedderVoyage:
		var key *string
		if cfg.Voyage.APIKey != "" {
			key = &cfg.Voyage.APIKey
		}
		svc, err := adapters.NewVoyageTextEmbedder(key)
		if err != nil {
			return nil, "", err
		}
		svc.SetModel(cfg.Voyage.Model)
		return svc, svc.Model(), nil
	case embedderSidecar, "":
		client := inference.New(cfg.Inference.ClipURL, logger)
		startupCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Inference.StartupSeconds)*time.Second)
		defer cancel()
		if err := client.WaitForStartup(startupCtx, readyPollInterval); err != nil {
			return nil, "", err
		}
		return client, "clip", nil
	default:
		return nil, "", fmt.Errorf("unknown embedder %q, want %s, %s or %s", kind, embedderSidecar, embedderVoyage, embedderMock)
	}
}

func pineconeAdapter(cfg *config.Config) (*adapters.PineconeVectorAdapter, error) {
	var key, host *string
	if cfg.Pinecone.APIKey != "" {
		key = &cfg.Pinecone.APIKey
	}
	if cfg.Pinecone.Host != "" {
		host = &cfg.Pinecone.Host
	}
	return adapters.NewPineconeVectorAdapter(key, host, cfg.Pinecone.Namespace)
}

type projectionFile struct {
	In     int       `yaml:"in"`
	Out    int       `yaml:"out"`
	Weight []float64 `yaml:"weight"`
	Bias   []float64 `yaml:"bias"`
}

func loadProjection(path string) (*prototypes.Projection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read projection: %w", err)
	}

	var pf projectionFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse projection %s: %w", path, err)
	}
	if pf.In == 0 && pf.Out == 0 {
		return nil, errors.New("projection file must set in and out")
	}
	return prototypes.NewProjection(pf.In, pf.Out, pf.Weight, pf.Bias)
}

func init() {
	prototypesCmd.PersistentFlags().StringVar(&protoEmbedder, "embedder", embedderSidecar, "text embedder: sidecar, voyage or mock")

	prototypesGenerateCmd.Flags().StringVarP(&protoOutput, "output", "o", "", "artifact path, defaults to TAGGER_PROTOTYPES_PATH")
	prototypesGenerateCmd.Flags().StringVar(&protoTemplate, "template", generator.DefaultTemplate, "phrase template, must contain {tag}")
	prototypesGenerateCmd.Flags().StringVar(&protoModel, "model", "", "model name recorded in the artifact")
	prototypesGenerateCmd.Flags().IntVar(&protoBatchSize, "batch", generator.DefaultBatchSize, "phrases per embedding call")
	prototypesGenerateCmd.Flags().StringVar(&protoProjection, "projection", "", "YAML projection head to store with the prototypes")
	prototypesGenerateCmd.Flags().BoolVar(&protoPublish, "publish", false, "upsert prototypes into Pinecone after saving")

	prototypesSearchCmd.Flags().IntVarP(&searchTopK, "k", "k", 10, "number of results")
	prototypesSearchCmd.Flags().BoolVar(&searchPinecone, "pinecone", false, "search the Pinecone index instead of the local artifact")

	prototypesCmd.AddCommand(prototypesGenerateCmd)
	prototypesCmd.AddCommand(prototypesInspectCmd)
	prototypesCmd.AddCommand(prototypesSearchCmd)
	rootCmd.AddCommand(prototypesCmd)
}
