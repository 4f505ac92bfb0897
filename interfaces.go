package tagger

import (
	"context"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
)

// ImageEmbedder encodes an image into a space shared with TextEmbedder
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, img *imageio.Image) ([]float32, error)
}

// TextEmbedder encodes phrases into a space shared with ImageEmbedder.
// The i-th vector corresponds to the i-th text.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Captioner describes an image in one short sentence
type Captioner interface {
	Caption(ctx context.Context, img *imageio.Image) (string, error)
}

// FeatureExtractor produces a pooled feature vector from a vision backbone
type FeatureExtractor interface {
	ExtractFeatures(ctx context.Context, img *imageio.Image) ([]float32, error)
}
