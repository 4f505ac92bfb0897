package testutil

import (
	"context"
	"hash/fnv"
	"os"
	"sync"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
	"github.com/FrenchMajesty/tagger/pkg/prototypes"
	"github.com/FrenchMajesty/tagger/pkg/types"
)

// DefaultDim is the vector length mocks produce when none is configured
const DefaultDim = 8

// HashVector returns a deterministic, non-zero vector derived from text
func HashVector(text string, dim int) []float32 {
	if dim <= 0 {
		dim = DefaultDim
	}
	out := make([]float32, dim)
	for i := range out {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		out[i] = float32(h.Sum32()%2000)/1000.0 - 1.0
	}
	out[0] += 2 // keeps the vector away from zero
	return out
}

// UnitVector returns a dim-length vector with a single 1 at index hot
func UnitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1
	return v
}

// MockImageEmbedder is a mock implementation of ImageEmbedder for testing
type MockImageEmbedder struct {
	EmbedImageFunc func(ctx context.Context, img *imageio.Image) ([]float32, error)
	Dim            int

	mu        sync.Mutex
	CallCount int
}

func (m *MockImageEmbedder) EmbedImage(ctx context.Context, img *imageio.Image) ([]float32, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()

	if m.EmbedImageFunc != nil {
		return m.EmbedImageFunc(ctx, img)
	}

	// Default: the first basis vector
	dim := m.Dim
	if dim <= 0 {
		dim = DefaultDim
	}
	return UnitVector(dim, 0), nil
}

// MockTextEmbedder is a mock implementation of TextEmbedder for testing
type MockTextEmbedder struct {
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)
	Dim            int

	mu        sync.Mutex
	CallCount int
	LastTexts []string
}

func (m *MockTextEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastTexts = append([]string(nil), texts...)
	m.mu.Unlock()

	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}

	// Default: hash each text into a vector
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = HashVector(text, m.Dim)
	}
	return out, nil
}

// MockCaptioner is a mock implementation of Captioner for testing
type MockCaptioner struct {
	CaptionFunc func(ctx context.Context, img *imageio.Image) (string, error)
	Text        string

	mu        sync.Mutex
	CallCount int
}

func (m *MockCaptioner) Caption(ctx context.Context, img *imageio.Image) (string, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()

	if m.CaptionFunc != nil {
		return m.CaptionFunc(ctx, img)
	}
	return m.Text, nil
}

// MockFeatureExtractor is a mock implementation of FeatureExtractor for testing
type MockFeatureExtractor struct {
	ExtractFeaturesFunc func(ctx context.Context, img *imageio.Image) ([]float32, error)
	Dim                 int

	mu        sync.Mutex
	CallCount int
}

func (m *MockFeatureExtractor) ExtractFeatures(ctx context.Context, img *imageio.Image) ([]float32, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()

	if m.ExtractFeaturesFunc != nil {
		return m.ExtractFeaturesFunc(ctx, img)
	}

	dim := m.Dim
	if dim <= 0 {
		dim = DefaultDim
	}
	return UnitVector(dim, 0), nil
}

// MockVectorClient is a mock implementation of VectorClient for testing
type MockVectorClient struct {
	SearchFunc func(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error)
	UpsertFunc func(ctx context.Context, id string, vector []float32, metadata map[string]any) error
	DeleteFunc func(ctx context.Context, ids []string) error

	mu          sync.Mutex
	CallCount   int
	UpsertCount int
	DeleteCount int
	Storage     map[string]struct {
		Vector   []float32
		Metadata map[string]any
	}
}

func NewMockVectorClient() *MockVectorClient {
	return &MockVectorClient{
		Storage: make(map[string]struct {
			Vector   []float32
			Metadata map[string]any
		}),
	}
}

func (m *MockVectorClient) Search(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()

	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, vector, topK)
	}

	// Default: return empty results
	return []types.VectorMatch{}, nil
}

func (m *MockVectorClient) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	m.mu.Lock()
	m.UpsertCount++
	m.Storage[id] = struct {
		Vector   []float32
		Metadata map[string]any
	}{Vector: vector, Metadata: metadata}
	m.mu.Unlock()

	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, id, vector, metadata)
	}

	return nil
}

func (m *MockVectorClient) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	m.DeleteCount++
	for _, id := range ids {
		delete(m.Storage, id)
	}
	m.mu.Unlock()

	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, ids)
	}

	return nil
}

// MockPrototypePersistence is a mock implementation of prototypes.Persistence for testing
type MockPrototypePersistence struct {
	LoadFunc func() (*prototypes.Set, error)
	SaveFunc func(set *prototypes.Set) error

	mu        sync.Mutex
	SaveCount int
	LastSet   *prototypes.Set
}

func (m *MockPrototypePersistence) Load() (*prototypes.Set, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LastSet == nil {
		return nil, os.ErrNotExist
	}
	return m.LastSet, nil
}

func (m *MockPrototypePersistence) Save(set *prototypes.Set) error {
	m.mu.Lock()
	m.SaveCount++
	m.LastSet = set
	m.mu.Unlock()

	if m.SaveFunc != nil {
		return m.SaveFunc(set)
	}

	return nil
}
