package tagger

import (
	"context"
	"image"
	"math"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
	"github.com/FrenchMajesty/tagger/pkg/prototypes"
	"github.com/FrenchMajesty/tagger/pkg/testutil"
	"github.com/FrenchMajesty/tagger/pkg/vocabulary"
)

func testImage(t *testing.T) *imageio.Image {
	t.Helper()
	img, err := imageio.FromRaster(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	return img
}

func testVocab(t *testing.T, tags ...string) *vocabulary.Vocabulary {
	t.Helper()
	v, err := vocabulary.FromTags(tags...)
	require.NoError(t, err)
	return v
}

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

// basisTextEmbedder maps "a photo of <tag>" to the basis vector of the
// tag's position in tags
func basisTextEmbedder(tags []string) *testutil.MockTextEmbedder {
	return &testutil.MockTextEmbedder{
		EmbedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i, text := range texts {
				tag := strings.TrimPrefix(text, "a photo of ")
				for j, candidate := range tags {
					if candidate == tag {
						out[i] = testutil.UnitVector(len(tags), j)
					}
				}
			}
			return out, nil
		},
	}
}

func fixedImageEmbedder(v []float32) *testutil.MockImageEmbedder {
	return &testutil.MockImageEmbedder{
		EmbedImageFunc: func(ctx context.Context, img *imageio.Image) ([]float32, error) {
			return v, nil
		},
	}
}

func fixedFeatures(v []float32) *testutil.MockFeatureExtractor {
	return &testutil.MockFeatureExtractor{
		ExtractFeaturesFunc: func(ctx context.Context, img *imageio.Image) ([]float32, error) {
			return v, nil
		},
	}
}

// basisPrototypes returns a set whose i-th prototype is the i-th basis
// vector of dimension dim
func basisPrototypes(t *testing.T, dim int, tags ...string) *prototypes.Set {
	t.Helper()
	vectors := make([][]float32, len(tags))
	for i := range tags {
		vectors[i] = testutil.UnitVector(dim, i)
	}
	set, err := prototypes.NewSet(tags, vectors)
	require.NoError(t, err)
	return set
}

// queryWithSimilarities returns a unit vector of dimension len(sims)+1 whose
// first coordinates are sims, padded in the last coordinate
func queryWithSimilarities(sims ...float64) []float32 {
	var sum float64
	out := make([]float32, len(sims)+1)
	for i, s := range sims {
		out[i] = float32(s)
		sum += s * s
	}
	out[len(sims)] = float32(math.Sqrt(1 - sum))
	return out
}

func staticPersistence(set *prototypes.Set) *testutil.MockPrototypePersistence {
	return &testutil.MockPrototypePersistence{
		LoadFunc: func() (*prototypes.Set, error) { return set, nil },
	}
}
