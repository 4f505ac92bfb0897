// Package vocabulary holds the fixed, ordered set of tags an image can be
// labelled with.
package vocabulary

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed fashion.yaml
var defaultVocabulary []byte

var (
	// ErrDuplicateTag is returned when the same tag is listed more than once
	ErrDuplicateTag = errors.New("duplicate vocabulary tag")

	// ErrEmpty is returned for a vocabulary without any tags
	ErrEmpty = errors.New("vocabulary is empty")
)

// Category is a cosmetic grouping of tags. Ranking never looks at it.
type Category string

// Group lists the tags of one category in their canonical order
type Group struct {
	Category Category `yaml:"name"`
	Tags     []string `yaml:"tags"`
}

type file struct {
	Categories []Group `yaml:"categories"`
}

// Vocabulary is an immutable, ordered, duplicate-free list of tags
type Vocabulary struct {
	tags       []string
	categories []Category
	index      map[string]int
}

// New builds a vocabulary from category groups, keeping the order in which
// tags appear. Tags are trimmed and lower-cased before the duplicate check.
func New(groups []Group) (*Vocabulary, error) {
	v := &Vocabulary{index: make(map[string]int)}

	for _, g := range groups {
		for _, raw := range g.Tags {
			tag := strings.ToLower(strings.TrimSpace(raw))
			if tag == "" {
				return nil, fmt.Errorf("empty tag in category %q", g.Category)
			}
			if prev, ok := v.index[tag]; ok {
				return nil, fmt.Errorf("%w: %q in category %q (first seen in %q)",
					ErrDuplicateTag, tag, g.Category, v.categories[prev])
			}
			v.index[tag] = len(v.tags)
			v.tags = append(v.tags, tag)
			v.categories = append(v.categories, g.Category)
		}
	}

	if len(v.tags) == 0 {
		return nil, ErrEmpty
	}

	return v, nil
}

// FromTags builds an uncategorized vocabulary
func FromTags(tags ...string) (*Vocabulary, error) {
	return New([]Group{{Tags: tags}})
}

// Parse reads a YAML vocabulary document
func Parse(data []byte) (*Vocabulary, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
	}
	return New(f.Categories)
}

// LoadFile reads a YAML vocabulary from disk
func LoadFile(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary file %s: %w", path, err)
	}

	v, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Default returns the built-in sewing and fashion vocabulary
func Default() *Vocabulary {
	v, err := Parse(defaultVocabulary)
	if err != nil {
		panic("invalid embedded vocabulary: " + err.Error())
	}
	return v
}

// AllTags returns a copy of the tags in canonical order
func (v *Vocabulary) AllTags() []string {
	out := make([]string, len(v.tags))
	copy(out, v.tags)
	return out
}

// Len returns the number of tags
func (v *Vocabulary) Len() int {
	return len(v.tags)
}

// Tag returns the tag at position i
func (v *Vocabulary) Tag(i int) string {
	return v.tags[i]
}

// Index returns the canonical position of tag
func (v *Vocabulary) Index(tag string) (int, bool) {
	i, ok := v.index[tag]
	return i, ok
}

// Contains reports whether tag belongs to the vocabulary
func (v *Vocabulary) Contains(tag string) bool {
	_, ok := v.index[tag]
	return ok
}

// CategoryOf returns the category tag was declared under
func (v *Vocabulary) CategoryOf(tag string) (Category, bool) {
	i, ok := v.index[tag]
	if !ok {
		return "", false
	}
	return v.categories[i], true
}

