package generator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FrenchMajesty/tagger/pkg/prototypes"
	"github.com/FrenchMajesty/tagger/pkg/testutil"
	"github.com/FrenchMajesty/tagger/pkg/vocabulary"
)

func testVocab(t *testing.T) *vocabulary.Vocabulary {
	t.Helper()
	v, err := vocabulary.New([]vocabulary.Group{
		{Category: "color", Tags: []string{"red", "blue"}},
		{Category: "garment", Tags: []string{"dress"}},
	})
	require.NoError(t, err)
	return v
}

func TestGenerate_OrderAndNorm(t *testing.T) {
	embedder := &testutil.MockTextEmbedder{Dim: 16}
	g, err := New(embedder, Config{Model: "test-model", BatchSize: 2})
	require.NoError(t, err)

	set, err := g.Generate(context.Background(), testVocab(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"red", "blue", "dress"}, set.Tags)
	assert.Equal(t, 16, set.Dim)
	assert.Equal(t, "test-model", set.Model)
	assert.Equal(t, DefaultTemplate, set.Template)
	for _, v := range set.Vectors {
		assert.InDelta(t, 1.0, prototypes.Norm(v), 1e-5)
	}

	// batch size 2 over 3 tags
	assert.Equal(t, 2, embedder.CallCount)
	assert.Equal(t, []string{"a photo of dress"}, embedder.LastTexts)
}

func TestGenerate_Deterministic(t *testing.T) {
	g, err := New(&testutil.MockTextEmbedder{}, Config{})
	require.NoError(t, err)

	first, err := g.Generate(context.Background(), testVocab(t))
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), testVocab(t))
	require.NoError(t, err)

	assert.Equal(t, first.Vectors, second.Vectors)
}

func TestGenerate_FailsLoudly(t *testing.T) {
	tests := []struct {
		name  string
		embed func(ctx context.Context, texts []string) ([][]float32, error)
	}{
		{"embedder error", func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, errors.New("model not loaded")
		}},
		{"short result", func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{{1, 0}}, nil
		}},
		{"zero vector", func(ctx context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i := range out {
				out[i] = []float32{0, 0}
			}
			return out, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(&testutil.MockTextEmbedder{EmbedTextsFunc: tt.embed}, Config{})
			require.NoError(t, err)

			set, err := g.Generate(context.Background(), testVocab(t))
			assert.Error(t, err)
			assert.Nil(t, set)
		})
	}
}

func TestGenerate_ProjectionMustMatchDim(t *testing.T) {
	g, err := New(&testutil.MockTextEmbedder{Dim: 4}, Config{Projection: prototypes.IdentityProjection(3)})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), testVocab(t))
	assert.ErrorIs(t, err, prototypes.ErrDimensionMismatch)
}

func TestNew_RejectsTemplateWithoutPlaceholder(t *testing.T) {
	_, err := New(&testutil.MockTextEmbedder{}, Config{Template: "a photo"})
	assert.Error(t, err)

	_, err = New(nil, Config{})
	assert.Error(t, err)
}

func TestRun_SavesThenPublishes(t *testing.T) {
	persist := prototypes.NewFilePersistence(filepath.Join(t.TempDir(), "prototypes.msgpack"))
	index := testutil.NewMockVectorClient()

	g, err := New(&testutil.MockTextEmbedder{}, Config{
		Model:       "clip",
		Persistence: persist,
		Publisher:   index,
	})
	require.NoError(t, err)

	set, err := g.Run(context.Background(), testVocab(t))
	require.NoError(t, err)

	loaded, err := persist.Load()
	require.NoError(t, err)
	assert.Equal(t, set.Tags, loaded.Tags)

	assert.Equal(t, 3, index.UpsertCount)
	stored, ok := index.Storage[PrototypeID("clip", "dress")]
	require.True(t, ok)
	assert.Equal(t, "dress", stored.Metadata["tag"])
	assert.Equal(t, "garment", stored.Metadata["category"])
}

func TestRun_PurgesPrototypesDroppedFromVocabulary(t *testing.T) {
	persist := prototypes.NewFilePersistence(filepath.Join(t.TempDir(), "prototypes.msgpack"))
	index := testutil.NewMockVectorClient()

	g, err := New(&testutil.MockTextEmbedder{}, Config{Model: "clip", Persistence: persist, Publisher: index})
	require.NoError(t, err)

	_, err = g.Run(context.Background(), testVocab(t))
	require.NoError(t, err)
	assert.Zero(t, index.DeleteCount)

	smaller, err := vocabulary.FromTags("red", "dress")
	require.NoError(t, err)
	_, err = g.Run(context.Background(), smaller)
	require.NoError(t, err)

	assert.Equal(t, 1, index.DeleteCount)
	assert.Len(t, index.Storage, 2)
	assert.NotContains(t, index.Storage, PrototypeID("clip", "blue"))
	assert.Contains(t, index.Storage, PrototypeID("clip", "red"))
}

func TestStaleIDs(t *testing.T) {
	previous := &prototypes.Set{Model: "clip", Tags: []string{"red", "blue"}}

	t.Run("dropped tags", func(t *testing.T) {
		next := &prototypes.Set{Model: "clip", Tags: []string{"red", "green"}}
		assert.Equal(t, []string{PrototypeID("clip", "blue")}, StaleIDs(previous, next))
	})

	t.Run("model change", func(t *testing.T) {
		next := &prototypes.Set{Model: "siglip", Tags: []string{"red", "blue"}}
		assert.Equal(t, []string{PrototypeID("clip", "red"), PrototypeID("clip", "blue")}, StaleIDs(previous, next))
	})

	t.Run("unchanged", func(t *testing.T) {
		assert.Empty(t, StaleIDs(previous, previous))
	})
}

func TestRun_SaveFailureSkipsPublish(t *testing.T) {
	persist := &testutil.MockPrototypePersistence{
		SaveFunc: func(set *prototypes.Set) error { return errors.New("disk full") },
	}
	index := testutil.NewMockVectorClient()

	g, err := New(&testutil.MockTextEmbedder{}, Config{Persistence: persist, Publisher: index})
	require.NoError(t, err)

	_, err = g.Run(context.Background(), testVocab(t))
	assert.ErrorContains(t, err, "disk full")
	assert.Zero(t, index.UpsertCount)
}

func TestRun_RequiresPersistence(t *testing.T) {
	g, err := New(&testutil.MockTextEmbedder{}, Config{})
	require.NoError(t, err)

	_, err = g.Run(context.Background(), testVocab(t))
	assert.Error(t, err)
}

func TestPrototypeID_Stable(t *testing.T) {
	assert.Equal(t, PrototypeID("clip", "red"), PrototypeID("clip", "red"))
	assert.NotEqual(t, PrototypeID("clip", "red"), PrototypeID("clip", "blue"))
	assert.NotEqual(t, PrototypeID("clip", "red"), PrototypeID("siglip", "red"))
}

func TestPhrase(t *testing.T) {
	assert.Equal(t, "a photo of tie-dye", Phrase(DefaultTemplate, "tie-dye"))
}
