// Package mock provides deterministic stand-ins for the model backends, for
// running the service and its tests without the inference sidecar.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
)

// DefaultDim is the embedding size of the mock encoders
const DefaultDim = 64

var (
	captionColors   = []string{"red", "blue", "black", "white", "green", "beige"}
	captionMaterial = []string{"denim", "silk", "wool", "leather", "lace", "cotton"}
	captionGarments = []string{"dress", "jacket", "skirt", "shirt", "coat", "sweater"}
)

// Backend implements every backend interface. Output depends only on the
// input, so repeated calls agree.
type Backend struct {
	Dim int
}

// New returns a Backend producing dim-length vectors
func New(dim int) *Backend {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &Backend{Dim: dim}
}

// EmbedImage hashes the encoded image bytes into a vector
func (b *Backend) EmbedImage(ctx context.Context, img *imageio.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return hashVector(img.Bytes(), b.Dim), nil
}

// EmbedTexts hashes each text into a vector
func (b *Backend) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashVector([]byte(text), b.Dim)
	}
	return out, nil
}

// Caption builds a short sentence from words picked by the image hash
func (b *Backend) Caption(ctx context.Context, img *imageio.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := hash(img.Bytes())
	return fmt.Sprintf("a %s %s %s",
		captionColors[h%uint64(len(captionColors))],
		captionMaterial[(h>>8)%uint64(len(captionMaterial))],
		captionGarments[(h>>16)%uint64(len(captionGarments))],
	), nil
}

// ExtractFeatures returns the image vector, so an identity projection applies
func (b *Backend) ExtractFeatures(ctx context.Context, img *imageio.Image) ([]float32, error) {
	return b.EmbedImage(ctx, img)
}

func hash(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// hashVector spreads a seeded hash over dim values in [-1, 1]
func hashVector(data []byte, dim int) []float32 {
	seed := hash(data)
	out := make([]float32, dim)
	for i := range out {
		// splitmix64 step
		seed += 0x9e3779b97f4a7c15
		z := seed
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		out[i] = float32(float64(z)/math.MaxUint64*2 - 1)
	}
	return out
}
