package tagger

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
	"github.com/FrenchMajesty/tagger/pkg/prototypes"
)

// PrototypeSimilarity projects backbone features into prototype space and
// ranks tags by cosine similarity. Any failure produces the generic fallback
// tags rather than an error.
type PrototypeSimilarity struct {
	set          *prototypes.Set
	features     FeatureExtractor
	projection   *prototypes.Projection
	floor        float32
	minConfident int
	logger       logrus.FieldLogger
}

// NewPrototypeSimilarity wires the strategy. When set carries no projection,
// backbone features must already have the prototype dimension.
func NewPrototypeSimilarity(set *prototypes.Set, features FeatureExtractor, floor float32, minConfident int, logger logrus.FieldLogger) (*PrototypeSimilarity, error) {
	if set == nil {
		return nil, loadError("prototype similarity", fmt.Errorf("prototype set is required"))
	}
	if err := set.Validate(); err != nil {
		return nil, loadError("prototype similarity", err)
	}
	if features == nil {
		return nil, loadError("prototype similarity", fmt.Errorf("feature extractor is required"))
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	projection := set.Projection
	if projection == nil {
		projection = prototypes.IdentityProjection(set.Dim)
	}

	return &PrototypeSimilarity{
		set:          set,
		features:     features,
		projection:   projection,
		floor:        floor,
		minConfident: minConfident,
		logger:       logger.WithField("strategy", StrategyPrototypeSimilarity.String()),
	}, nil
}

func (p *PrototypeSimilarity) ID() StrategyID { return StrategyPrototypeSimilarity }

func (p *PrototypeSimilarity) sealed() {}

// Predict never returns an error. On failure it logs and returns the generic
// fallback tags.
func (p *PrototypeSimilarity) Predict(ctx context.Context, img *imageio.Image, topK int) (*Result, error) {
	res, err := p.predict(ctx, img, topK)
	if err != nil {
		p.logger.WithError(err).Warn("prototype similarity failed, using generic fallback")
		return genericFallback(p.ID(), topK), nil
	}
	return res, nil
}

func (p *PrototypeSimilarity) predict(ctx context.Context, img *imageio.Image, topK int) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, inferenceError(p.ID(), "predict", fmt.Errorf("panic: %v", r))
		}
	}()

	raw, err := p.features.ExtractFeatures(ctx, img)
	if err != nil {
		return nil, inferenceError(p.ID(), "extract features", err)
	}
	if len(raw) != p.projection.In {
		return nil, inferenceError(p.ID(), "project",
			fmt.Errorf("%w: features have %d values, projection expects %d", prototypes.ErrDimensionMismatch, len(raw), p.projection.In))
	}

	projected, err := p.projection.Apply(raw)
	if err != nil {
		return nil, inferenceError(p.ID(), "project", err)
	}
	query, err := prototypes.Normalize(projected)
	if err != nil {
		return nil, inferenceError(p.ID(), "project", err)
	}

	sims, err := p.set.Similarities(query)
	if err != nil {
		return nil, inferenceError(p.ID(), "score", err)
	}

	top := rankByScore(p.set.Tags, sims, topK, SourceVocabulary)

	// top is sorted, so the confident matches are a prefix of it
	confident := 0
	for confident < len(top) && top[confident].Score > p.floor {
		confident++
	}
	if confident >= p.minConfident {
		top = top[:confident]
	}

	return &Result{Strategy: p.ID(), Tags: top}, nil
}
