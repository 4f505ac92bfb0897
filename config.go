package tagger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/FrenchMajesty/tagger/pkg/prototypes"
	"github.com/FrenchMajesty/tagger/pkg/vocabulary"
)

const (
	// DefaultTopK is used when a request asks for zero or fewer tags
	DefaultTopK = 10

	// DefaultPhraseTemplate turns a tag into the text that gets embedded
	DefaultPhraseTemplate = "a photo of {tag}"

	// DefaultLogitScale multiplies cosine similarities before the softmax
	DefaultLogitScale = 100.0

	// DefaultConfidenceFloor is the similarity a prototype match must exceed to count as confident
	DefaultConfidenceFloor = 0.1

	// DefaultMinConfident is how many confident prototype matches are needed to drop the rest
	DefaultMinConfident = 3
)

// Config holds configuration for the Tagger
type Config struct {
	// Vocabulary is the closed tag set. If nil, uses the built-in fashion vocabulary.
	Vocabulary *vocabulary.Vocabulary

	// ImageEmbedder and TextEmbedder back embedding similarity. If either is nil the strategy is unavailable.
	ImageEmbedder ImageEmbedder
	TextEmbedder  TextEmbedder

	// Captioner backs caption matching. If nil the strategy is unavailable.
	Captioner Captioner

	// FeatureExtractor and Prototypes back prototype similarity. If either is nil the strategy is unavailable.
	FeatureExtractor FeatureExtractor
	Prototypes       prototypes.Persistence

	// RequirePrototypes makes a missing or mismatched prototype artifact fatal instead of disabling the strategy
	RequirePrototypes bool

	// SerializeBackends guards each backend with its own mutex, for models that are not safe for concurrent use
	SerializeBackends bool

	// PhraseTemplate must contain "{tag}". If empty, uses DefaultPhraseTemplate.
	PhraseTemplate string

	// LogitScale for embedding similarity. If 0, uses DefaultLogitScale.
	LogitScale float32

	// ConfidenceFloor for prototype similarity. If 0, uses DefaultConfidenceFloor.
	ConfidenceFloor float32

	// MinConfident for prototype similarity. If 0, uses DefaultMinConfident.
	MinConfident int

	// DefaultTopK replaces non-positive request counts. If 0, uses DefaultTopK.
	DefaultTopK int

	// Logger defaults to the logrus standard logger
	Logger logrus.FieldLogger

	// Registerer receives the prediction metrics. If nil, metrics are kept but not registered.
	Registerer prometheus.Registerer
}

// applyDefaults fills in default values for unset config fields
func (c *Config) applyDefaults() {
	if c.Vocabulary == nil {
		c.Vocabulary = vocabulary.Default()
	}

	if c.PhraseTemplate == "" {
		c.PhraseTemplate = DefaultPhraseTemplate
	}

	if c.LogitScale == 0 {
		c.LogitScale = DefaultLogitScale
	}

	if c.ConfidenceFloor == 0 {
		c.ConfidenceFloor = DefaultConfidenceFloor
	}

	if c.MinConfident == 0 {
		c.MinConfident = DefaultMinConfident
	}

	if c.DefaultTopK <= 0 {
		c.DefaultTopK = DefaultTopK
	}

	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}
