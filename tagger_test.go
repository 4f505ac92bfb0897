package tagger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
	"github.com/FrenchMajesty/tagger/pkg/prototypes"
	mocks "github.com/FrenchMajesty/tagger/pkg/testutil"
)

func newTestTagger(t *testing.T, tags []string, mutate func(*Config)) *Tagger {
	t.Helper()
	dim := len(tags) + 1

	vectors := make([][]float32, len(tags))
	for i := range tags {
		vectors[i] = mocks.UnitVector(dim, i)
	}
	set, err := prototypes.NewSet(tags, vectors)
	require.NoError(t, err)

	cfg := Config{
		Vocabulary:       testVocab(t, tags...),
		ImageEmbedder:    &mocks.MockImageEmbedder{Dim: len(tags)},
		TextEmbedder:     basisTextEmbedder(tags),
		Captioner:        &mocks.MockCaptioner{Text: "a photo of " + tags[0]},
		FeatureExtractor: &mocks.MockFeatureExtractor{Dim: dim},
		Prototypes:       staticPersistence(set),
		Logger:           testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	tg, err := New(cfg)
	require.NoError(t, err)
	return tg
}

func TestNew_LoadsAllStrategies(t *testing.T) {
	tg := newTestTagger(t, []string{"red", "blue", "floral"}, nil)
	assert.Equal(t, Strategies(), tg.Available())
	assert.Empty(t, tg.Unavailable())
}

func TestPredict_EmbeddingScenario(t *testing.T) {
	tags := []string{"red", "blue", "floral"}
	tg := newTestTagger(t, tags, func(c *Config) {
		c.ImageEmbedder = fixedImageEmbedder([]float32{0.9, 0.1, 0.3})
	})

	resp := tg.Predict(context.Background(), testImage(t), 2, "clip")
	require.Empty(t, resp.Error)
	assert.Equal(t, []string{"red", "floral"}, resp.Tags)
	assert.Equal(t, StrategyEmbeddingSimilarity, resp.Strategy)
	assert.Len(t, resp.Scores, 2)
}

func TestPredict_CaptionScenario(t *testing.T) {
	tg := newTestTagger(t, []string{"floral", "red", "dress"}, func(c *Config) {
		c.Captioner = &mocks.MockCaptioner{Text: "a woman wearing a red dress"}
	})

	resp := tg.Predict(context.Background(), testImage(t), 5, "blip")
	require.Empty(t, resp.Error)
	assert.Equal(t, []string{"red", "dress"}, resp.Tags)
	assert.Equal(t, "a woman wearing a red dress", resp.Caption)
}

func TestPredict_PrototypeScenarios(t *testing.T) {
	tags := []string{"floral", "denim", "lace"}

	t.Run("low confidence", func(t *testing.T) {
		tg := newTestTagger(t, tags, func(c *Config) {
			c.FeatureExtractor = fixedFeatures(queryWithSimilarities(0.05, 0.04, 0.03))
		})

		resp := tg.Predict(context.Background(), testImage(t), 3, "swin")
		require.Empty(t, resp.Error)
		assert.Equal(t, tags, resp.Tags)
		assert.False(t, resp.Fallback)
	})

	t.Run("extractor failure", func(t *testing.T) {
		tg := newTestTagger(t, tags, func(c *Config) {
			c.FeatureExtractor = &mocks.MockFeatureExtractor{
				ExtractFeaturesFunc: func(ctx context.Context, img *imageio.Image) ([]float32, error) {
					return nil, errors.New("boom")
				},
			}
		})

		resp := tg.Predict(context.Background(), testImage(t), 3, "prototype-similarity")
		require.Empty(t, resp.Error)
		assert.Equal(t, []string{"texture", "pattern", "material"}, resp.Tags)
		assert.True(t, resp.Fallback)
	})
}

func TestPredict_UnknownStrategyUsesDefault(t *testing.T) {
	tg := newTestTagger(t, []string{"red", "blue"}, nil)

	for _, name := range []string{"", "resnet", "CLIP"} {
		resp := tg.Predict(context.Background(), testImage(t), 1, name)
		require.Empty(t, resp.Error)
		assert.Equal(t, StrategyEmbeddingSimilarity, resp.Strategy, name)
	}
}

func TestPredict_NonPositiveTopKUsesDefault(t *testing.T) {
	tags := make([]string, 15)
	for i := range tags {
		tags[i] = string(rune('a'+i)) + "tag"
	}
	tg := newTestTagger(t, tags, nil)

	for _, k := range []int{0, -3} {
		resp := tg.Predict(context.Background(), testImage(t), k, "clip")
		require.Empty(t, resp.Error)
		assert.Len(t, resp.Tags, DefaultTopK)
	}
}

func TestPredict_TopKLargerThanVocabulary(t *testing.T) {
	tg := newTestTagger(t, []string{"red", "blue", "floral"}, nil)

	resp := tg.Predict(context.Background(), testImage(t), 50, "clip")
	require.Empty(t, resp.Error)
	assert.Len(t, resp.Tags, 3)
}

func TestPredict_InferenceFailureIsReported(t *testing.T) {
	tg := newTestTagger(t, []string{"red", "blue"}, func(c *Config) {
		c.Captioner = &mocks.MockCaptioner{
			CaptionFunc: func(ctx context.Context, img *imageio.Image) (string, error) {
				return "", errors.New("model crashed")
			},
		}
	})

	resp := tg.Predict(context.Background(), testImage(t), 3, "blip")
	assert.Contains(t, resp.Error, "model crashed")
	assert.NotNil(t, resp.Tags)
	assert.Empty(t, resp.Tags)
	assert.Equal(t, StrategyCaptionMatching, resp.Strategy)
}

func TestPredict_NoImage(t *testing.T) {
	tg := newTestTagger(t, []string{"red"}, nil)

	resp := tg.Predict(context.Background(), nil, 3, "clip")
	assert.Equal(t, ErrNoImage.Error(), resp.Error)
}

func TestPredict_PanicIsContained(t *testing.T) {
	tg := newTestTagger(t, []string{"red", "blue"}, func(c *Config) {
		c.ImageEmbedder = &mocks.MockImageEmbedder{
			EmbedImageFunc: func(ctx context.Context, img *imageio.Image) ([]float32, error) {
				panic("nil tensor")
			},
		}
	})

	var resp Response
	require.NotPanics(t, func() {
		resp = tg.Predict(context.Background(), testImage(t), 3, "clip")
	})
	assert.Contains(t, resp.Error, "nil tensor")
}

func TestNew_DisablesUnconfiguredStrategies(t *testing.T) {
	tg := newTestTagger(t, []string{"red", "blue"}, func(c *Config) {
		c.Captioner = nil
		c.Prototypes = nil
	})

	assert.Equal(t, []StrategyID{StrategyEmbeddingSimilarity}, tg.Available())
	assert.Contains(t, tg.Unavailable(), StrategyCaptionMatching)

	resp := tg.Predict(context.Background(), testImage(t), 3, "blip")
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, StrategyCaptionMatching, resp.Strategy)

	_, err := tg.PredictWith(context.Background(), StrategyCaptionMatching, testImage(t), 3)
	assert.ErrorIs(t, err, ErrStrategyUnavailable)
	assert.ErrorIs(t, err, ErrLoadFailure)
}

func TestNew_VocabularyMismatch(t *testing.T) {
	stale := basisPrototypes(t, 3, "blue", "red")
	mutate := func(c *Config) { c.Prototypes = staticPersistence(stale) }

	tg := newTestTagger(t, []string{"red", "blue"}, mutate)
	err := tg.Unavailable()[StrategyPrototypeSimilarity]
	assert.ErrorIs(t, err, prototypes.ErrVocabularyMismatch)
	assert.ErrorIs(t, err, ErrLoadFailure)

	cfg := Config{
		Vocabulary:        testVocab(t, "red", "blue"),
		FeatureExtractor:  &mocks.MockFeatureExtractor{},
		Prototypes:        staticPersistence(stale),
		RequirePrototypes: true,
		Captioner:         &mocks.MockCaptioner{},
		Logger:            testLogger(),
	}
	_, err = New(cfg)
	assert.ErrorIs(t, err, prototypes.ErrVocabularyMismatch)
}

func TestNew_FailsWithoutAnyStrategy(t *testing.T) {
	_, err := New(Config{Vocabulary: testVocab(t, "red"), Logger: testLogger()})
	assert.ErrorIs(t, err, ErrLoadFailure)
}

func TestNew_DefaultVocabulary(t *testing.T) {
	tg, err := New(Config{Captioner: &mocks.MockCaptioner{}, Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, 234, tg.Vocabulary().Len())
}

// concurrencyTracker records the peak number of overlapping calls. Each call
// lingers until a second call joins it or a short wait passes, so unguarded
// backends reliably overlap.
type concurrencyTracker struct {
	mu   sync.Mutex
	cur  int
	peak int
}

func (c *concurrencyTracker) track() {
	c.mu.Lock()
	c.cur++
	c.peak = max(c.peak, c.cur)
	c.mu.Unlock()

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		overlapping := c.cur >= 2
		c.mu.Unlock()
		if overlapping {
			break
		}
		time.Sleep(time.Millisecond)
	}

	c.mu.Lock()
	c.cur--
	c.mu.Unlock()
}

func (c *concurrencyTracker) peakCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

func TestNew_SerializeBackends(t *testing.T) {
	tags := []string{"red", "blue"}

	tests := []struct {
		name      string
		serialize bool
	}{
		{name: "serialized backends never overlap", serialize: true},
		{name: "unguarded backends overlap", serialize: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			images, captions, features := &concurrencyTracker{}, &concurrencyTracker{}, &concurrencyTracker{}

			tg := newTestTagger(t, tags, func(c *Config) {
				c.SerializeBackends = tt.serialize
				c.ImageEmbedder = &mocks.MockImageEmbedder{
					EmbedImageFunc: func(ctx context.Context, img *imageio.Image) ([]float32, error) {
						images.track()
						return mocks.UnitVector(len(tags), 0), nil
					},
				}
				c.Captioner = &mocks.MockCaptioner{
					CaptionFunc: func(ctx context.Context, img *imageio.Image) (string, error) {
						captions.track()
						return "a red scarf", nil
					},
				}
				c.FeatureExtractor = &mocks.MockFeatureExtractor{
					ExtractFeaturesFunc: func(ctx context.Context, img *imageio.Image) ([]float32, error) {
						features.track()
						return mocks.UnitVector(len(tags)+1, 0), nil
					},
				}
			})
			require.NoError(t, tg.Warm(context.Background()))
			img := testImage(t)

			var wg sync.WaitGroup
			for _, strategy := range []string{"clip", "blip", "swin"} {
				for i := 0; i < 4; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						resp := tg.Predict(context.Background(), img, 1, strategy)
						assert.Empty(t, resp.Error)
					}()
				}
			}
			wg.Wait()

			for name, tracker := range map[string]*concurrencyTracker{"image": images, "caption": captions, "features": features} {
				if tt.serialize {
					assert.Equal(t, 1, tracker.peakCalls(), "%s backend calls overlapped", name)
				} else {
					assert.GreaterOrEqual(t, tracker.peakCalls(), 2, "%s backend calls never overlapped", name)
				}
			}
		})
	}
}

func TestPredict_RepeatedCallsAreIdentical(t *testing.T) {
	tags := []string{"floral", "denim", "lace", "red"}
	tg := newTestTagger(t, tags, func(c *Config) {
		c.Captioner = &mocks.MockCaptioner{Text: "a red floral dress with lace trim"}
		c.FeatureExtractor = fixedFeatures(queryWithSimilarities(0.5, 0.3, 0.2, 0.1))
	})
	img := testImage(t)

	for _, strategy := range []string{"clip", "blip", "swin"} {
		t.Run(strategy, func(t *testing.T) {
			first := tg.Predict(context.Background(), img, 3, strategy)
			require.Empty(t, first.Error)
			require.NotEmpty(t, first.Tags)

			for i := 0; i < 3; i++ {
				again := tg.Predict(context.Background(), img, 3, strategy)
				assert.Equal(t, first.Tags, again.Tags)
				assert.Equal(t, first.Scores, again.Scores)
				assert.Equal(t, first.Fallback, again.Fallback)
			}
		})
	}
}

func TestWarm_EmbedsOnce(t *testing.T) {
	texts := &mocks.MockTextEmbedder{Dim: 2}
	tg := newTestTagger(t, []string{"red", "blue"}, func(c *Config) { c.TextEmbedder = texts })

	require.NoError(t, tg.Warm(context.Background()))
	tg.Predict(context.Background(), testImage(t), 1, "clip")
	assert.Equal(t, 1, texts.CallCount)
}

func TestPredict_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tg := newTestTagger(t, []string{"floral", "denim", "lace"}, func(c *Config) {
		c.Registerer = reg
		c.FeatureExtractor = fixedFeatures([]float32{1})
	})

	tg.Predict(context.Background(), testImage(t), 3, "clip")
	tg.Predict(context.Background(), testImage(t), 3, "swin")
	tg.Predict(context.Background(), nil, 3, "blip")

	assert.Equal(t, 1.0, testutil.ToFloat64(tg.metrics.predictions.WithLabelValues("embedding-similarity", outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tg.metrics.predictions.WithLabelValues("prototype-similarity", outcomeFallback)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tg.metrics.predictions.WithLabelValues("caption-matching", outcomeError)))

	// a second tagger on the same registry shares the collectors
	newTestTagger(t, []string{"floral"}, func(c *Config) { c.Registerer = reg })
}
