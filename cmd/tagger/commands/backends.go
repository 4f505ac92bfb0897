package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/FrenchMajesty/tagger"
	"github.com/FrenchMajesty/tagger/adapters"
	"github.com/FrenchMajesty/tagger/adapters/inference"
	"github.com/FrenchMajesty/tagger/adapters/mock"
	"github.com/FrenchMajesty/tagger/adapters/openai"
	"github.com/FrenchMajesty/tagger/internal/config"
	"github.com/FrenchMajesty/tagger/pkg/prototypes"
	"github.com/FrenchMajesty/tagger/pkg/vocabulary"
)

const readyPollInterval = time.Second

// backends holds one implementation per model role. Sidecar clients are
// shared between roles served by the same origin.
type backends struct {
	images   tagger.ImageEmbedder
	texts    tagger.TextEmbedder
	captions tagger.Captioner
	features tagger.FeatureExtractor
	sidecars []*inference.Client
}

func buildBackends(cfg *config.Config, logger logrus.FieldLogger) (*backends, error) {
	if cfg.Inference.Backend == config.BackendMock {
		m := mock.New(cfg.Inference.MockDim)
		logger.WithField("dim", m.Dim).Warn("using mock backends, predictions are not meaningful")
		return &backends{images: m, texts: m, captions: m, features: m}, nil
	}

	b := &backends{}
	clients := make(map[string]*inference.Client)
	sidecar := func(origin string) *inference.Client {
		if c, ok := clients[origin]; ok {
			return c
		}
		c := inference.New(origin, logger)
		clients[origin] = c
		b.sidecars = append(b.sidecars, c)
		return c
	}

	clip := sidecar(cfg.Inference.ClipURL)
	b.images, b.texts = clip, clip
	b.features = sidecar(cfg.Inference.SwinURL)

	switch cfg.Inference.Captioner {
	case config.CaptionOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.OpenAI.Model), openai.WithLogger(logger)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		captioner, err := adapters.NewOpenAICaptioner(&cfg.OpenAI.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai captioner: %w", err)
		}
		b.captions = captioner
	default:
		b.captions = sidecar(cfg.Inference.BlipURL)
	}

	return b, nil
}

// waitReady blocks until every sidecar answers its readiness check
func (b *backends) waitReady(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, c := range b.sidecars {
		eg.Go(func() error {
			if err := c.WaitForStartup(ctx, readyPollInterval); err != nil {
				return fmt.Errorf("inference service %s: %w", c.Origin(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}

func loadVocabulary(path string) (*vocabulary.Vocabulary, error) {
	if path == "" {
		return vocabulary.Default(), nil
	}
	return vocabulary.LoadFile(path)
}

func buildTagger(cfg *config.Config, b *backends, logger logrus.FieldLogger, reg prometheus.Registerer) (*tagger.Tagger, error) {
	vocab, err := loadVocabulary(cfg.Engine.VocabularyPath)
	if err != nil {
		return nil, err
	}

	tcfg := tagger.Config{
		Vocabulary:        vocab,
		ImageEmbedder:     b.images,
		TextEmbedder:      b.texts,
		Captioner:         b.captions,
		FeatureExtractor:  b.features,
		RequirePrototypes: cfg.Engine.RequirePrototypes,
		SerializeBackends: cfg.Engine.SerializeBackends,
		DefaultTopK:       cfg.Engine.TopK,
		Logger:            logger,
		Registerer:        reg,
	}
	if cfg.Engine.PrototypesPath != "" {
		tcfg.Prototypes = prototypes.NewFilePersistence(cfg.Engine.PrototypesPath)
	}

	return tagger.New(tcfg)
}
