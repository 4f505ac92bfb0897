package commands

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FrenchMajesty/tagger"
	"github.com/FrenchMajesty/tagger/internal/benchmark"
	"github.com/FrenchMajesty/tagger/pkg/generator"
	"github.com/FrenchMajesty/tagger/pkg/prototypes"
	"github.com/FrenchMajesty/tagger/pkg/vocabulary"
)

// run executes the command tree with flag variables reset, since cobra keeps
// parsed values between executions
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	verbose, jsonOutput = false, false
	predictModel, predictTopK = "", 0
	protoEmbedder, protoOutput, protoTemplate, protoModel = embedderSidecar, "", generator.DefaultTemplate, ""
	protoBatchSize, protoProjection, protoPublish = generator.DefaultBatchSize, "", false
	searchTopK, searchPinecone = 10, false
	benchLimit, benchTopK, benchStrategies, benchOutputDir = benchmark.MAX_DATASET_SIZE, 10, nil, ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func mockEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TAGGER_BACKEND", "mock")
	t.Setenv("TAGGER_CAPTIONER", "sidecar")
	t.Setenv("TAGGER_MOCK_DIM", "32")
	t.Setenv("TAGGER_LOG_LEVEL", "error")
	t.Setenv("TAGGER_VOCABULARY_PATH", "")
	t.Setenv("TAGGER_PROTOTYPES_PATH", filepath.Join(dir, "prototypes.msgpack"))
	return dir
}

func writePNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: 90, B: uint8(y * 16), A: 255})
		}
	}
	path := filepath.Join(dir, "item.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestPrototypesGenerateAndInspect(t *testing.T) {
	dir := mockEnv(t)
	artifact := filepath.Join(dir, "prototypes.msgpack")

	out, err := run(t, "prototypes", "generate", "--embedder", "mock")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 234 prototypes (dim 32)")

	set, err := prototypes.NewFilePersistence(artifact).Load()
	require.NoError(t, err)
	assert.Equal(t, vocabulary.Default().AllTags(), set.Tags)
	assert.Equal(t, "mock", set.Model)

	out, err = run(t, "--json", "prototypes", "inspect", artifact)
	require.NoError(t, err)

	var s summary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 234, s.Tags)
	assert.Equal(t, 32, s.Dim)
	assert.Equal(t, "identity", s.Projection)
	assert.Equal(t, "match", s.Vocabulary)
}

func TestPrototypesInspect_ReportsVocabularyMismatch(t *testing.T) {
	dir := mockEnv(t)
	vocabPath := filepath.Join(dir, "vocab.yaml")
	require.NoError(t, os.WriteFile(vocabPath, []byte("categories:\n  - name: color\n    tags: [red, blue]\n"), 0644))

	_, err := run(t, "prototypes", "generate", "--embedder", "mock")
	require.NoError(t, err)

	t.Setenv("TAGGER_VOCABULARY_PATH", vocabPath)
	out, err := run(t, "prototypes", "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "does not match vocabulary")
}

func TestPrototypesGenerate_WithProjection(t *testing.T) {
	dir := mockEnv(t)
	projPath := filepath.Join(dir, "head.yaml")

	// 2 inputs projected to the 32 dim prototype space
	weight := make([]string, 64)
	for i := range weight {
		weight[i] = "0.5"
	}
	require.NoError(t, os.WriteFile(projPath, []byte("in: 2\nout: 32\nweight: ["+strings.Join(weight, ", ")+"]\n"), 0644))

	out, err := run(t, "--json", "prototypes", "generate", "--embedder", "mock", "--projection", projPath)
	require.NoError(t, err)

	var s summary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, "2 -> 32", s.Projection)
}

func TestPrototypesGenerate_UnknownEmbedder(t *testing.T) {
	mockEnv(t)
	_, err := run(t, "prototypes", "generate", "--embedder", "word2vec")
	assert.ErrorContains(t, err, "unknown embedder")
}

func TestPrototypesSearch_Local(t *testing.T) {
	mockEnv(t)
	_, err := run(t, "prototypes", "generate", "--embedder", "mock")
	require.NoError(t, err)

	// the mock embedder is deterministic, so the exact phrase ranks its tag first
	out, err := run(t, "--json", "prototypes", "search", "--embedder", "mock", "-k", "3", "a photo of floral")
	require.NoError(t, err)

	var hits []searchHit
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.Len(t, hits, 3)
	assert.Equal(t, "floral", hits[0].Tag)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestPredict_MockBackends(t *testing.T) {
	dir := mockEnv(t)
	imagePath := writePNG(t, dir)

	_, err := run(t, "prototypes", "generate", "--embedder", "mock")
	require.NoError(t, err)

	for _, model := range []string{"clip", "blip", "swin"} {
		t.Run(model, func(t *testing.T) {
			out, err := run(t, "--json", "predict", "-m", model, "-k", "5", imagePath)
			require.NoError(t, err)

			var resp tagger.Response
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Empty(t, resp.Error)
			assert.NotEmpty(t, resp.Tags)
			assert.LessOrEqual(t, len(resp.Tags), 5)
		})
	}
}

func TestPredict_TextOutput(t *testing.T) {
	dir := mockEnv(t)
	imagePath := writePNG(t, dir)

	out, err := run(t, "predict", "-m", "clip", "-k", "2", imagePath)
	require.NoError(t, err)
	assert.Contains(t, out, "strategy: embedding-similarity")
	assert.Contains(t, out, "RANK")
}

func TestPredict_MissingPrototypesReportsError(t *testing.T) {
	dir := mockEnv(t)
	imagePath := writePNG(t, dir)

	out, err := run(t, "predict", "-m", "swin", imagePath)
	assert.ErrorContains(t, err, "prediction failed")
	assert.Contains(t, out, "error:")
}

func TestPredict_InvalidImage(t *testing.T) {
	dir := mockEnv(t)
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0644))

	_, err := run(t, "predict", path)
	assert.Error(t, err)
}

func TestBenchmark_MockBackends(t *testing.T) {
	dir := mockEnv(t)
	writePNG(t, dir)
	csvPath := filepath.Join(dir, "dataset.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("image,tags\nitem.png,red;floral\n"), 0644))

	outDir := filepath.Join(dir, "runs")
	require.NoError(t, os.Mkdir(outDir, 0755))

	out, err := run(t, "--json", "benchmark", "-k", "3", "-s", "clip", "-s", "blip", "-o", outDir, csvPath)
	require.NoError(t, err)

	var metrics benchmark.BenchmarkMetrics
	require.NoError(t, json.Unmarshal([]byte(out), &metrics))
	assert.Equal(t, 1, metrics.TotalImages)
	require.Len(t, metrics.Strategies, 2)
	assert.Equal(t, tagger.StrategyEmbeddingSimilarity, metrics.Strategies[0].Strategy)
	assert.Zero(t, metrics.Strategies[0].Errors)

	files, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestBenchmark_UnknownStrategy(t *testing.T) {
	dir := mockEnv(t)
	csvPath := filepath.Join(dir, "dataset.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("image,tags\nitem.png,red\n"), 0644))

	_, err := run(t, "benchmark", "-s", "resnet", csvPath)
	assert.ErrorContains(t, err, "unknown strategy")
}
