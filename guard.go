package tagger

import (
	"context"
	"sync"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
)

// Backends whose models hold mutable inference state are wrapped so that
// only one request at a time reaches each of them. Each backend gets its
// own lock; requests for different models still run in parallel.

type lockedImageEmbedder struct {
	mu   sync.Mutex
	next ImageEmbedder
}

func (l *lockedImageEmbedder) EmbedImage(ctx context.Context, img *imageio.Image) ([]float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next.EmbedImage(ctx, img)
}

type lockedTextEmbedder struct {
	mu   sync.Mutex
	next TextEmbedder
}

func (l *lockedTextEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next.EmbedTexts(ctx, texts)
}

type lockedCaptioner struct {
	mu   sync.Mutex
	next Captioner
}

func (l *lockedCaptioner) Caption(ctx context.Context, img *imageio.Image) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next.Caption(ctx, img)
}

type lockedFeatureExtractor struct {
	mu   sync.Mutex
	next FeatureExtractor
}

func (l *lockedFeatureExtractor) ExtractFeatures(ctx context.Context, img *imageio.Image) ([]float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next.ExtractFeatures(ctx, img)
}

// serialize wraps every non-nil backend in cfg with its own lock
func (c *Config) serialize() {
	if c.ImageEmbedder != nil {
		c.ImageEmbedder = &lockedImageEmbedder{next: c.ImageEmbedder}
	}
	if c.TextEmbedder != nil {
		c.TextEmbedder = &lockedTextEmbedder{next: c.TextEmbedder}
	}
	if c.Captioner != nil {
		c.Captioner = &lockedCaptioner{next: c.Captioner}
	}
	if c.FeatureExtractor != nil {
		c.FeatureExtractor = &lockedFeatureExtractor{next: c.FeatureExtractor}
	}
}
