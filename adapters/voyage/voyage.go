package voyage

import (
	"context"
	"fmt"

	"github.com/austinfhunter/voyageai"
)

const EMBEDDING_DIMENSIONS = 1024

const VOYAGEAI_EMBEDDING_MODEL = "voyage-3.5-lite"

// maxBatch is the most texts sent in one request
const maxBatch = 128

type VoyageEmbeddingType string

const (
	VoyageEmbeddingTypeDocument VoyageEmbeddingType = "document"
	VoyageEmbeddingTypeQuery    VoyageEmbeddingType = "query"
	VoyageEmbeddingTypeDefault  VoyageEmbeddingType = ""
)

// embedder is the part of the Voyage SDK client this package uses
type embedder interface {
	Embed(texts []string, model string, opts *voyageai.EmbeddingRequestOpts) (*voyageai.EmbeddingResponse, error)
}

// Service generates text embeddings with Voyage AI
type Service struct {
	client        embedder
	dimensions    int
	model         string
	embeddingType VoyageEmbeddingType
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(apiKey string) *Service {
	return &Service{
		client: voyageai.NewClient(&voyageai.VoyageClientOpts{
			Key: apiKey,
		}),
		dimensions:    EMBEDDING_DIMENSIONS,
		model:         VOYAGEAI_EMBEDDING_MODEL,
		embeddingType: VoyageEmbeddingTypeDocument,
	}
}

// SetDimensions sets the dimensions for the embedding model
func (es *Service) SetDimensions(dimensions int) {
	es.dimensions = dimensions
}

// SetModel sets the model for the embedding model
func (es *Service) SetModel(model string) {
	es.model = model
}

// SetEmbeddingType sets the input type used by EmbedTexts
func (es *Service) SetEmbeddingType(embeddingType VoyageEmbeddingType) {
	es.embeddingType = embeddingType
}

// Model returns the configured model name
func (es *Service) Model() string {
	return es.model
}

// GenerateEmbedding generates an embedding for a single text using VoyageAI
func (es *Service) GenerateEmbedding(ctx context.Context, text string, embeddingType VoyageEmbeddingType) ([]float32, error) {
	embeddings, err := es.GenerateEmbeddings(ctx, []string{text}, embeddingType)
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// GenerateEmbeddings generates embeddings for multiple texts using VoyageAI,
// splitting them into batches the API accepts
func (es *Service) GenerateEmbeddings(ctx context.Context, texts []string, embeddingType VoyageEmbeddingType) ([][]float32, error) {
	dimensions := es.GetEmbeddingDimensions()
	inputType := parseEmbeddingType(embeddingType)

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+maxBatch, len(texts))

		embeddings, err := es.client.Embed(
			texts[start:end],
			es.model,
			&voyageai.EmbeddingRequestOpts{
				InputType:       inputType,
				OutputDimension: &dimensions,
			},
		)
		if err != nil {
			return nil, fmt.Errorf("could not get embeddings: %w", err)
		}
		if len(embeddings.Data) != end-start {
			return nil, fmt.Errorf("expected %d embeddings, got %d", end-start, len(embeddings.Data))
		}

		for _, obj := range embeddings.Data {
			out = append(out, obj.Embedding)
		}
	}

	return out, nil
}

// EmbedTexts embeds texts with the configured input type
func (es *Service) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return es.GenerateEmbeddings(ctx, texts, es.embeddingType)
}

func parseEmbeddingType(embeddingType VoyageEmbeddingType) *string {
	if embeddingType != VoyageEmbeddingTypeDefault {
		value := string(embeddingType)
		return &value
	}
	return nil
}

// GetEmbeddingDimensions returns the dimension count for the embedding model
func (es *Service) GetEmbeddingDimensions() int {
	return es.dimensions
}
