// Package generator builds the prototype artifact: one unit-norm text
// embedding per vocabulary tag, in vocabulary order.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/FrenchMajesty/tagger/pkg/prototypes"
	"github.com/FrenchMajesty/tagger/pkg/types"
	"github.com/FrenchMajesty/tagger/pkg/vocabulary"
)

const (
	// DefaultTemplate is the phrase each tag is embedded in
	DefaultTemplate = "a photo of {tag}"

	// DefaultBatchSize is how many phrases are embedded per call
	DefaultBatchSize = 64

	// DefaultPublishConcurrency bounds parallel upserts to the vector index
	DefaultPublishConcurrency = 8
)

// prototypeNamespace scopes prototype IDs so the same model and tag always
// map to the same vector ID
var prototypeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tagger/prototypes"))

// Embedder encodes phrases into text embeddings
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Publisher mirrors prototypes into a vector index
type Publisher interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error
	Delete(ctx context.Context, ids []string) error
}

// Config holds configuration for the Generator
type Config struct {
	// Template must contain "{tag}". If empty, uses DefaultTemplate.
	Template string

	// Model names the text encoder, recorded in the artifact
	Model string

	// BatchSize for embedding calls. If 0, uses DefaultBatchSize.
	BatchSize int

	// Projection is stored with the artifact for the prototype strategy. Its output size must match the embedding size.
	Projection *prototypes.Projection

	// Persistence receives the artifact in Run. Required for Run.
	Persistence prototypes.Persistence

	// Publisher optionally mirrors every prototype in Run
	Publisher Publisher

	// PublishConcurrency bounds parallel upserts. If 0, uses DefaultPublishConcurrency.
	PublishConcurrency int

	Logger logrus.FieldLogger
}

// applyDefaults fills in default values for unset config fields
func (c *Config) applyDefaults() {
	if c.Template == "" {
		c.Template = DefaultTemplate
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PublishConcurrency <= 0 {
		c.PublishConcurrency = DefaultPublishConcurrency
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

// Generator turns a vocabulary into a prototype set
type Generator struct {
	embedder Embedder
	cfg      Config
}

// New returns a Generator using embedder for the tag phrases
func New(embedder Embedder, cfg Config) (*Generator, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	cfg.applyDefaults()
	if !strings.Contains(cfg.Template, "{tag}") {
		return nil, fmt.Errorf("template %q has no {tag} placeholder", cfg.Template)
	}
	return &Generator{embedder: embedder, cfg: cfg}, nil
}

// Phrase fills the template for one tag
func Phrase(template, tag string) string {
	return strings.ReplaceAll(template, "{tag}", tag)
}

// PrototypeID is the stable vector ID of a tag's prototype for a model
func PrototypeID(model, tag string) string {
	return uuid.NewSHA1(prototypeNamespace, []byte(model+"\x00"+tag)).String()
}

// Generate embeds every tag phrase and returns the validated set. Any
// failure aborts the whole run; a partial set is never returned.
func (g *Generator) Generate(ctx context.Context, vocab *vocabulary.Vocabulary) (*prototypes.Set, error) {
	if vocab == nil || vocab.Len() == 0 {
		return nil, vocabulary.ErrEmpty
	}

	tags := vocab.AllTags()
	log := g.cfg.Logger.WithFields(logrus.Fields{
		"tags":     len(tags),
		"model":    g.cfg.Model,
		"template": g.cfg.Template,
	})
	log.Info("generating prototypes")

	vectors := make([][]float32, 0, len(tags))
	for start := 0; start < len(tags); start += g.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+g.cfg.BatchSize, len(tags))
		batch := tags[start:end]
		phrases := make([]string, len(batch))
		for i, tag := range batch {
			phrases[i] = Phrase(g.cfg.Template, tag)
		}

		embedded, err := g.embedder.EmbedTexts(ctx, phrases)
		if err != nil {
			return nil, fmt.Errorf("failed to embed tags %d-%d: %w", start, end-1, err)
		}
		if len(embedded) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d phrases", len(embedded), len(batch))
		}

		for i, v := range embedded {
			unit, err := prototypes.Normalize(v)
			if err != nil {
				return nil, fmt.Errorf("tag %q: %w", batch[i], err)
			}
			vectors = append(vectors, unit)
		}

		log.WithField("done", end).Debug("embedded batch")
	}

	set, err := prototypes.NewSet(tags, vectors)
	if err != nil {
		return nil, err
	}
	set.Model = g.cfg.Model
	set.Template = g.cfg.Template
	set.Projection = g.cfg.Projection
	if err := set.Validate(); err != nil {
		return nil, err
	}

	log.WithField("dim", set.Dim).Info("prototypes generated")
	return set, nil
}

// Run generates the set, saves it and then publishes it. The artifact is
// saved before publishing, so a failed publish never leaves the index ahead
// of the file.
func (g *Generator) Run(ctx context.Context, vocab *vocabulary.Vocabulary) (*prototypes.Set, error) {
	if g.cfg.Persistence == nil {
		return nil, fmt.Errorf("persistence is required to run the generator")
	}

	set, err := g.Generate(ctx, vocab)
	if err != nil {
		return nil, err
	}

	// The artifact being replaced names the IDs that may still be in the index
	previous, err := g.cfg.Persistence.Load()
	if err != nil {
		previous = nil
	}

	if err := g.cfg.Persistence.Save(set); err != nil {
		return nil, fmt.Errorf("failed to save prototypes: %w", err)
	}

	if g.cfg.Publisher != nil {
		if err := g.Publish(ctx, vocab, set); err != nil {
			return set, err
		}
		if previous != nil {
			if err := g.Purge(ctx, StaleIDs(previous, set)); err != nil {
				return set, err
			}
		}
	}

	return set, nil
}

// StaleIDs returns the index IDs of prototypes in previous that next no
// longer publishes: tags dropped from the vocabulary, or every tag when the
// model changed.
func StaleIDs(previous, next *prototypes.Set) []string {
	current := make(map[string]struct{}, len(next.Tags))
	for _, tag := range next.Tags {
		current[PrototypeID(next.Model, tag)] = struct{}{}
	}

	var stale []string
	for _, tag := range previous.Tags {
		id := PrototypeID(previous.Model, tag)
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}

// Purge deletes the given prototype IDs from the vector index
func (g *Generator) Purge(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if g.cfg.Publisher == nil {
		return fmt.Errorf("no publisher configured")
	}
	if err := g.cfg.Publisher.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to purge %d stale prototypes: %w", len(ids), err)
	}
	g.cfg.Logger.WithField("count", len(ids)).Info("stale prototypes purged")
	return nil
}

// Publish upserts every prototype into the configured vector index
func (g *Generator) Publish(ctx context.Context, vocab *vocabulary.Vocabulary, set *prototypes.Set) error {
	if g.cfg.Publisher == nil {
		return fmt.Errorf("no publisher configured")
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.PublishConcurrency)

	for i, tag := range set.Tags {
		metadata := map[string]any{
			types.MetadataTag:      tag,
			types.MetadataTemplate: set.Template,
			types.MetadataModel:    set.Model,
		}
		if category, ok := vocab.CategoryOf(tag); ok {
			metadata[types.MetadataCategory] = string(category)
		}
		vector := set.Vectors[i]

		eg.Go(func() error {
			if err := g.cfg.Publisher.Upsert(ctx, PrototypeID(set.Model, tag), vector, metadata); err != nil {
				return fmt.Errorf("failed to publish prototype %q: %w", tag, err)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	g.cfg.Logger.WithField("count", len(set.Tags)).Info("prototypes published")
	return nil
}
