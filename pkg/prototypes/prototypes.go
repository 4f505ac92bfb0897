// Package prototypes holds the precomputed per-tag embedding vectors used by
// prototype similarity tagging, and the artifact they are persisted in.
package prototypes

import (
	"errors"
	"fmt"
	"math"
)

// UnitNormTolerance is how far a prototype norm may drift from 1
const UnitNormTolerance = 1e-3

var (
	// ErrVocabularyMismatch is returned when the prototype tags diverge from the live vocabulary
	ErrVocabularyMismatch = errors.New("prototype set does not match vocabulary")

	// ErrDimensionMismatch is returned when vectors of different lengths are compared
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrZeroVector is returned when normalizing a vector with no magnitude
	ErrZeroVector = errors.New("cannot normalize zero vector")
)

// Set maps each tag to a unit-norm vector of dimension Dim. Tags and Vectors
// are parallel. A Set is read-only once built.
type Set struct {
	Tags       []string
	Vectors    [][]float32
	Dim        int
	Model      string
	Template   string
	Projection *Projection
}

// NewSet validates tags and vectors and returns a Set
func NewSet(tags []string, vectors [][]float32) (*Set, error) {
	s := &Set{Tags: tags, Vectors: vectors}
	if len(vectors) > 0 {
		s.Dim = len(vectors[0])
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the structural invariants of the set
func (s *Set) Validate() error {
	if len(s.Tags) == 0 {
		return fmt.Errorf("prototype set has no tags")
	}
	if len(s.Tags) != len(s.Vectors) {
		return fmt.Errorf("prototype set has %d tags but %d vectors", len(s.Tags), len(s.Vectors))
	}
	if s.Dim <= 0 {
		return fmt.Errorf("prototype set has invalid dimension %d", s.Dim)
	}

	seen := make(map[string]struct{}, len(s.Tags))
	for i, tag := range s.Tags {
		if _, ok := seen[tag]; ok {
			return fmt.Errorf("prototype set lists tag %q twice", tag)
		}
		seen[tag] = struct{}{}

		if len(s.Vectors[i]) != s.Dim {
			return fmt.Errorf("%w: prototype %q has %d values, want %d",
				ErrDimensionMismatch, tag, len(s.Vectors[i]), s.Dim)
		}
		if n := Norm(s.Vectors[i]); math.Abs(n-1) > UnitNormTolerance {
			return fmt.Errorf("prototype %q is not unit norm (%.4f)", tag, n)
		}
	}

	if s.Projection != nil && s.Projection.Out != s.Dim {
		return fmt.Errorf("%w: projection outputs %d values, prototypes have %d",
			ErrDimensionMismatch, s.Projection.Out, s.Dim)
	}

	return nil
}

// CheckTags verifies that the set was generated for exactly the given tag
// list, in the same order.
func (s *Set) CheckTags(tags []string) error {
	if len(tags) != len(s.Tags) {
		return fmt.Errorf("%w: %d prototypes for %d vocabulary tags",
			ErrVocabularyMismatch, len(s.Tags), len(tags))
	}
	for i := range tags {
		if tags[i] != s.Tags[i] {
			return fmt.Errorf("%w: position %d is %q in prototypes but %q in vocabulary",
				ErrVocabularyMismatch, i, s.Tags[i], tags[i])
		}
	}
	return nil
}

// Len returns the number of prototypes
func (s *Set) Len() int {
	return len(s.Tags)
}

// Similarities returns the cosine similarity between query and every
// prototype. query must already be unit norm.
func (s *Set) Similarities(query []float32) ([]float32, error) {
	if len(query) != s.Dim {
		return nil, fmt.Errorf("%w: query has %d values, prototypes have %d",
			ErrDimensionMismatch, len(query), s.Dim)
	}

	out := make([]float32, len(s.Vectors))
	for i, v := range s.Vectors {
		out[i] = Dot(query, v)
	}
	return out, nil
}

// Dot returns the inner product of two equal-length vectors
func Dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// Norm returns the euclidean length of v
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-norm copy of v
func Normalize(v []float32) ([]float32, error) {
	n := Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, ErrZeroVector
	}

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}
