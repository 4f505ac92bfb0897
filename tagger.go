// Package tagger predicts descriptive tags for an image from a closed
// vocabulary, using one of three interchangeable strategies.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
	"github.com/FrenchMajesty/tagger/pkg/vocabulary"
)

var errNotConfigured = errors.New("backend not configured")

// Tagger dispatches prediction requests to the selected strategy
type Tagger struct {
	vocab       *vocabulary.Vocabulary
	strategies  map[StrategyID]Strategy
	unavailable map[StrategyID]error
	defaultTopK int
	logger      logrus.FieldLogger
	metrics     *metrics
}

// New builds every strategy whose backends are configured. A strategy that
// fails to load is disabled and reported by Unavailable; requests for it get
// an error response. New fails only when no strategy is usable, or when
// RequirePrototypes is set and prototype similarity cannot load.
func New(cfg Config) (*Tagger, error) {
	cfg.applyDefaults()
	if cfg.SerializeBackends {
		cfg.serialize()
	}

	t := &Tagger{
		vocab:       cfg.Vocabulary,
		strategies:  make(map[StrategyID]Strategy),
		unavailable: make(map[StrategyID]error),
		defaultTopK: cfg.DefaultTopK,
		logger:      cfg.Logger,
		metrics:     newMetrics(cfg.Registerer),
	}

	if cfg.ImageEmbedder == nil || cfg.TextEmbedder == nil {
		t.disable(StrategyEmbeddingSimilarity, loadError("embedding similarity", errNotConfigured))
	} else if s, err := NewEmbeddingSimilarity(cfg.Vocabulary, cfg.ImageEmbedder, cfg.TextEmbedder, cfg.PhraseTemplate, cfg.LogitScale, cfg.Logger); err != nil {
		t.disable(StrategyEmbeddingSimilarity, err)
	} else {
		t.strategies[s.ID()] = s
	}

	if cfg.Captioner == nil {
		t.disable(StrategyCaptionMatching, loadError("caption matching", errNotConfigured))
	} else if s, err := NewCaptionMatching(cfg.Vocabulary, cfg.Captioner, cfg.Logger); err != nil {
		t.disable(StrategyCaptionMatching, err)
	} else {
		t.strategies[s.ID()] = s
	}

	if s, err := loadPrototypeStrategy(cfg); err != nil {
		if cfg.RequirePrototypes {
			return nil, err
		}
		t.disable(StrategyPrototypeSimilarity, err)
	} else {
		t.strategies[s.ID()] = s
	}

	if len(t.strategies) == 0 {
		return nil, fmt.Errorf("no strategy could be loaded: %w", errors.Join(t.unavailableErrors()...))
	}

	t.logger.WithField("available", t.Available()).Info("tagger ready")
	return t, nil
}

func loadPrototypeStrategy(cfg Config) (*PrototypeSimilarity, error) {
	if cfg.Prototypes == nil || cfg.FeatureExtractor == nil {
		return nil, loadError("prototype similarity", errNotConfigured)
	}

	set, err := cfg.Prototypes.Load()
	if err != nil {
		return nil, loadError("prototypes", err)
	}
	if err := set.CheckTags(cfg.Vocabulary.AllTags()); err != nil {
		return nil, loadError("prototypes", err)
	}

	return NewPrototypeSimilarity(set, cfg.FeatureExtractor, cfg.ConfidenceFloor, cfg.MinConfident, cfg.Logger)
}

func (t *Tagger) disable(id StrategyID, err error) {
	t.unavailable[id] = err
	t.logger.WithField("strategy", id.String()).WithError(err).Warn("strategy disabled")
}

func (t *Tagger) unavailableErrors() []error {
	errs := make([]error, 0, len(t.unavailable))
	for _, id := range Strategies() {
		if err, ok := t.unavailable[id]; ok {
			errs = append(errs, err)
		}
	}
	return errs
}

// Vocabulary returns the tag set every strategy ranks
func (t *Tagger) Vocabulary() *vocabulary.Vocabulary {
	return t.vocab
}

// Available lists the loaded strategies in declaration order
func (t *Tagger) Available() []StrategyID {
	ids := make([]StrategyID, 0, len(t.strategies))
	for id := range t.strategies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Unavailable returns the load error of each disabled strategy
func (t *Tagger) Unavailable() map[StrategyID]error {
	out := make(map[StrategyID]error, len(t.unavailable))
	for id, err := range t.unavailable {
		out[id] = err
	}
	return out
}

// Warm embeds the vocabulary phrases for embedding similarity, if loaded
func (t *Tagger) Warm(ctx context.Context) error {
	s, ok := t.strategies[StrategyEmbeddingSimilarity].(*EmbeddingSimilarity)
	if !ok {
		return nil
	}
	return s.Warm(ctx)
}

// NormalizeTopK replaces non-positive counts with def
func NormalizeTopK(topK, def int) int {
	if topK <= 0 {
		return def
	}
	return topK
}

// PredictWith runs one strategy directly
func (t *Tagger) PredictWith(ctx context.Context, id StrategyID, img *imageio.Image, topK int) (*Result, error) {
	if img == nil {
		return nil, ErrNoImage
	}
	s, ok := t.strategies[id]
	if !ok {
		if err, known := t.unavailable[id]; known {
			return nil, fmt.Errorf("%w: %s: %w", ErrStrategyUnavailable, id, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrStrategyUnavailable, id)
	}
	return s.Predict(ctx, img, NormalizeTopK(topK, t.defaultTopK))
}

// Predict resolves strategy (absent or unknown selects the default), runs it
// and converts the outcome into a Response. It never panics and never
// returns an error value; failures are reported in Response.Error.
func (t *Tagger) Predict(ctx context.Context, img *imageio.Image, topK int, strategy string) (resp Response) {
	id := ResolveStrategy(strategy)
	start := time.Now()
	log := t.logger.WithFields(logrus.Fields{
		"strategy": id.String(),
		"top_k":    topK,
	})

	defer func() {
		if r := recover(); r != nil {
			resp = errorResponse(id, inferenceError(id, "predict", fmt.Errorf("panic: %v", r)))
		}

		outcome := outcomeOK
		switch {
		case resp.Error != "":
			outcome = outcomeError
			log.WithField("error", resp.Error).Warn("prediction failed")
		case resp.Fallback:
			outcome = outcomeFallback
		}
		t.metrics.observe(id, outcome, time.Since(start))
	}()

	res, err := t.PredictWith(ctx, id, img, topK)
	if err != nil {
		return errorResponse(id, err)
	}

	log.WithFields(logrus.Fields{
		"tags":     len(res.Tags),
		"fallback": res.Fallback,
		"elapsed":  time.Since(start),
	}).Debug("prediction complete")

	return newResponse(res)
}
