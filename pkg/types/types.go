// Package types holds values shared between the vector index adapter and its
// callers.
package types

// Metadata keys stored with each published prototype
const (
	MetadataTag      = "tag"
	MetadataCategory = "category"
	MetadataTemplate = "template"
	MetadataModel    = "model"
)

// VectorMatch is one prototype returned by a vector index query
type VectorMatch struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Tag returns the vocabulary tag recorded with the match, or "" when the
// vector was stored without one.
func (m VectorMatch) Tag() string {
	tag, _ := m.Metadata[MetadataTag].(string)
	return tag
}
