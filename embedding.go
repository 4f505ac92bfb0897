package tagger

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
	"github.com/FrenchMajesty/tagger/pkg/prototypes"
	"github.com/FrenchMajesty/tagger/pkg/vocabulary"
)

// EmbeddingSimilarity scores every vocabulary tag by the similarity between
// the image embedding and the embedding of the tag's phrase, then turns the
// scaled similarities into a probability distribution with a softmax.
type EmbeddingSimilarity struct {
	vocab      *vocabulary.Vocabulary
	images     ImageEmbedder
	texts      TextEmbedder
	template   string
	logitScale float32
	logger     logrus.FieldLogger

	// unit-normalized phrase vectors in vocabulary order
	tagVectors Lazy[[][]float32]
}

// NewEmbeddingSimilarity wires the strategy. Tag phrases are embedded on first use.
func NewEmbeddingSimilarity(vocab *vocabulary.Vocabulary, images ImageEmbedder, texts TextEmbedder, template string, logitScale float32, logger logrus.FieldLogger) (*EmbeddingSimilarity, error) {
	if vocab == nil || vocab.Len() == 0 {
		return nil, loadError("embedding similarity", vocabulary.ErrEmpty)
	}
	if images == nil || texts == nil {
		return nil, loadError("embedding similarity", fmt.Errorf("image and text embedders are required"))
	}
	if !strings.Contains(template, "{tag}") {
		return nil, loadError("embedding similarity", fmt.Errorf("phrase template %q has no {tag} placeholder", template))
	}
	if logitScale <= 0 {
		logitScale = DefaultLogitScale
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &EmbeddingSimilarity{
		vocab:      vocab,
		images:     images,
		texts:      texts,
		template:   template,
		logitScale: logitScale,
		logger:     logger.WithField("strategy", StrategyEmbeddingSimilarity.String()),
	}, nil
}

func (e *EmbeddingSimilarity) ID() StrategyID { return StrategyEmbeddingSimilarity }

func (e *EmbeddingSimilarity) sealed() {}

// Warm embeds the tag phrases ahead of the first request
func (e *EmbeddingSimilarity) Warm(ctx context.Context) error {
	_, err := e.tagVectors.Get(ctx, e.embedTags)
	return err
}

// Predict returns the topK tags by softmax probability
func (e *EmbeddingSimilarity) Predict(ctx context.Context, img *imageio.Image, topK int) (*Result, error) {
	tagVecs, err := e.tagVectors.Get(ctx, e.embedTags)
	if err != nil {
		return nil, err
	}

	raw, err := e.images.EmbedImage(ctx, img)
	if err != nil {
		return nil, inferenceError(e.ID(), "embed image", err)
	}
	imgVec, err := prototypes.Normalize(raw)
	if err != nil {
		return nil, inferenceError(e.ID(), "embed image", err)
	}

	logits := make([]float64, len(tagVecs))
	for i, tv := range tagVecs {
		if len(tv) != len(imgVec) {
			return nil, inferenceError(e.ID(), "score",
				fmt.Errorf("%w: image %d, tag %d", prototypes.ErrDimensionMismatch, len(imgVec), len(tv)))
		}
		logits[i] = float64(e.logitScale) * float64(prototypes.Dot(imgVec, tv))
	}

	probs, err := softmax(logits)
	if err != nil {
		return nil, inferenceError(e.ID(), "score", err)
	}

	return &Result{
		Strategy: e.ID(),
		Tags:     rankByScore(e.vocab.AllTags(), probs, topK, SourceVocabulary),
	}, nil
}

func (e *EmbeddingSimilarity) embedTags(ctx context.Context) ([][]float32, error) {
	tags := e.vocab.AllTags()
	phrases := make([]string, len(tags))
	for i, tag := range tags {
		phrases[i] = Phrase(e.template, tag)
	}

	vectors, err := e.texts.EmbedTexts(ctx, phrases)
	if err != nil {
		return nil, inferenceError(e.ID(), "embed tags", err)
	}
	if len(vectors) != len(tags) {
		return nil, inferenceError(e.ID(), "embed tags",
			fmt.Errorf("got %d vectors for %d tags", len(vectors), len(tags)))
	}

	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		n, err := prototypes.Normalize(v)
		if err != nil {
			return nil, inferenceError(e.ID(), "embed tags", fmt.Errorf("tag %q: %w", tags[i], err))
		}
		normalized[i] = n
	}

	e.logger.WithField("tags", len(tags)).Debug("embedded vocabulary phrases")
	return normalized, nil
}

// Phrase fills a template's {tag} placeholder
func Phrase(template, tag string) string {
	return strings.ReplaceAll(template, "{tag}", tag)
}

// softmax is computed with the max logit subtracted so large scales do not overflow
func softmax(logits []float64) ([]float32, error) {
	if len(logits) == 0 {
		return nil, nil
	}

	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if math.IsNaN(l) {
			return nil, fmt.Errorf("logit is NaN")
		}
		if l > maxLogit {
			maxLogit = l
		}
	}

	var sum float64
	exps := make([]float64, len(logits))
	for i, l := range logits {
		exps[i] = math.Exp(l - maxLogit)
		sum += exps[i]
	}
	if sum == 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return nil, fmt.Errorf("softmax normalizer is %v", sum)
	}

	probs := make([]float32, len(logits))
	for i := range exps {
		probs[i] = float32(exps[i] / sum)
	}
	return probs, nil
}
