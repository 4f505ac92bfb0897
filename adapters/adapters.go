package adapters

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/FrenchMajesty/tagger/adapters/inference"
	"github.com/FrenchMajesty/tagger/adapters/openai"
	"github.com/FrenchMajesty/tagger/adapters/pinecone"
	"github.com/FrenchMajesty/tagger/adapters/voyage"
	"github.com/FrenchMajesty/tagger/pkg/types"
)

// NewInferenceClient creates a sidecar client for origin, or TAGGER_INFERENCE_URL when origin is nil
func NewInferenceClient(origin *string, logger logrus.FieldLogger, opts ...inference.Option) (*inference.Client, error) {
	url, err := loadEnvVar(origin, "TAGGER_INFERENCE_URL")
	if err != nil {
		return nil, err
	}
	return inference.New(*url, logger, opts...), nil
}

// NewOpenAICaptioner creates a captioner using OPENAI_API_KEY when apiKey is nil
func NewOpenAICaptioner(apiKey *string, opts ...openai.Option) (*openai.Captioner, error) {
	key, err := loadEnvVar(apiKey, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	return openai.NewCaptioner(*key, opts...)
}

// NewVoyageTextEmbedder creates a Voyage AI text embedder using VOYAGEAI_API_KEY when apiKey is nil
func NewVoyageTextEmbedder(apiKey *string) (*voyage.Service, error) {
	key, err := loadEnvVar(apiKey, "VOYAGEAI_API_KEY")
	if err != nil {
		return nil, err
	}
	return voyage.NewEmbeddingService(*key), nil
}

// PineconeVectorAdapter adapts a Pinecone index namespace to search and upsert single vectors
type PineconeVectorAdapter struct {
	index interface {
		Search(ctx context.Context, queryVector []float32, topK int, filter map[string]any, includeMetadata bool) ([]pinecone.QueryMatch, error)
		Upsert(ctx context.Context, vectors []pinecone.Vector) error
		Delete(ctx context.Context, ids []string) error
		Close() error
	}
}

// NewPineconeVectorAdapter creates a new adapter for Pinecone
func NewPineconeVectorAdapter(apiKey *string, host *string, namespace string) (*PineconeVectorAdapter, error) {
	key, err := loadEnvVar(apiKey, "PINECONE_API_KEY")
	if err != nil {
		return nil, err
	}

	h, err := loadEnvVar(host, "PINECONE_HOST")
	if err != nil {
		return nil, err
	}

	client, err := pinecone.NewPineconeService(*key)
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone service: %w", err)
	}

	index, err := client.ForBaseIndex(*h, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pinecone index: %w", err)
	}

	return &PineconeVectorAdapter{
		index: index,
	}, nil
}

// Search returns the topK nearest vectors with their metadata
func (a *PineconeVectorAdapter) Search(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error) {
	matches, err := a.index.Search(ctx, vector, topK, nil, true)
	if err != nil {
		return nil, err
	}

	results := make([]types.VectorMatch, 0, len(matches))
	for _, match := range matches {
		if match.Vector == nil {
			continue
		}
		metadata := make(map[string]any)
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}

		results = append(results, types.VectorMatch{
			ID:       match.Vector.Id,
			Score:    match.Score,
			Metadata: metadata,
		})
	}

	return results, nil
}

// Upsert stores one vector with its metadata
func (a *PineconeVectorAdapter) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	metadataStruct, err := structpb.NewStruct(metadata)
	if err != nil {
		return err
	}

	vectors := []pinecone.Vector{
		{
			Id:     id,
			Values: vector,
			Metadata: &pinecone.Metadata{
				Fields: metadataStruct.Fields,
			},
		},
	}

	return a.index.Upsert(ctx, vectors)
}

// Delete removes vectors by ID. Unknown IDs are ignored by the index.
func (a *PineconeVectorAdapter) Delete(ctx context.Context, ids []string) error {
	return a.index.Delete(ctx, ids)
}

// Close releases the index connection
func (a *PineconeVectorAdapter) Close() error {
	return a.index.Close()
}

// loadEnvVar loads an environment variable into a pointer if no value is provided
func loadEnvVar(target *string, envKey string) (*string, error) {
	if target == nil {
		envVar := os.Getenv(envKey)
		if envVar == "" {
			return nil, fmt.Errorf("%s environment variable not set and no value provided", envKey)
		}
		return &envVar, nil
	}
	return target, nil
}
