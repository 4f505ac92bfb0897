package tagger

import (
	"context"
	"fmt"
	"strings"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
)

// StrategyID identifies one of the three tag prediction strategies
type StrategyID int

const (
	// StrategyEmbeddingSimilarity scores tags by image-text embedding similarity
	StrategyEmbeddingSimilarity StrategyID = iota
	// StrategyCaptionMatching matches tags against a generated caption
	StrategyCaptionMatching
	// StrategyPrototypeSimilarity ranks tags by cosine similarity to precomputed prototypes
	StrategyPrototypeSimilarity
)

// DefaultStrategy is used for absent or unrecognized identifiers
const DefaultStrategy = StrategyEmbeddingSimilarity

var strategyNames = [...]string{
	StrategyEmbeddingSimilarity: "embedding-similarity",
	StrategyCaptionMatching:     "caption-matching",
	StrategyPrototypeSimilarity: "prototype-similarity",
}

// model names the web client sends
var strategyAliases = map[string]StrategyID{
	"clip": StrategyEmbeddingSimilarity,
	"blip": StrategyCaptionMatching,
	"swin": StrategyPrototypeSimilarity,
}

// Strategies lists every strategy in declaration order
func Strategies() []StrategyID {
	return []StrategyID{StrategyEmbeddingSimilarity, StrategyCaptionMatching, StrategyPrototypeSimilarity}
}

func (s StrategyID) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// MarshalText implements encoding.TextMarshaler
func (s StrategyID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *StrategyID) UnmarshalText(text []byte) error {
	id, ok := ParseStrategy(string(text))
	if !ok {
		return fmt.Errorf("unknown strategy %q", text)
	}
	*s = id
	return nil
}

// ParseStrategy resolves a case-insensitive identifier or alias
func ParseStrategy(name string) (StrategyID, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range strategyNames {
		if n == name {
			return StrategyID(i), true
		}
	}
	id, ok := strategyAliases[name]
	return id, ok
}

// ResolveStrategy is ParseStrategy with the default applied
func ResolveStrategy(name string) StrategyID {
	if id, ok := ParseStrategy(name); ok {
		return id
	}
	return DefaultStrategy
}

// Strategy predicts ranked tags for one image. The set of implementations
// is closed: EmbeddingSimilarity, CaptionMatching and PrototypeSimilarity.
type Strategy interface {
	ID() StrategyID
	Predict(ctx context.Context, img *imageio.Image, topK int) (*Result, error)

	sealed()
}

var (
	_ Strategy = (*EmbeddingSimilarity)(nil)
	_ Strategy = (*CaptionMatching)(nil)
	_ Strategy = (*PrototypeSimilarity)(nil)
)
