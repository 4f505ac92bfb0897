package tagger

import (
	"github.com/FrenchMajesty/tagger/pkg/imageio"
)

// GenericFallbackTags are returned when a strategy has nothing better
var GenericFallbackTags = []string{"texture", "pattern", "material", "style", "design"}

// TagSource tells where a predicted tag came from
type TagSource string

const (
	// SourceVocabulary tags are members of the vocabulary
	SourceVocabulary TagSource = "vocabulary"
	// SourceCaption tags are free-text words taken from a generated caption
	SourceCaption TagSource = "caption"
	// SourceFallback tags are the fixed generic fallback set
	SourceFallback TagSource = "fallback"
)

// TagScore is one ranked tag
type TagScore struct {
	Tag    string    `json:"tag"`
	Score  float32   `json:"score"`
	Source TagSource `json:"source"`
}

// Result is the ranked output of a single strategy
type Result struct {
	// Strategy is the strategy that produced the tags
	Strategy StrategyID

	// Tags are ordered by descending score, at most the requested count
	Tags []TagScore

	// Caption is the generated caption, set by caption matching only
	Caption string

	// Fallback is true when the tags did not come from the primary scoring path
	Fallback bool
}

// Labels returns the tag strings in rank order
func (r *Result) Labels() []string {
	out := make([]string, len(r.Tags))
	for i, t := range r.Tags {
		out[i] = t.Tag
	}
	return out
}

// Request is one inference request as received from the serving layer
type Request struct {
	Image    *imageio.Image
	TopK     int
	Strategy string
}

// Response is what the serving layer sends back. Error is set instead of
// returning a Go error, so callers never need strategy-specific handling.
type Response struct {
	Tags     []string    `json:"tags"`
	Scores   []float32   `json:"scores,omitempty"`
	Sources  []TagSource `json:"sources,omitempty"`
	Strategy StrategyID  `json:"model"`
	Caption  string      `json:"caption,omitempty"`
	Fallback bool        `json:"fallback,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func newResponse(res *Result) Response {
	resp := Response{
		Tags:     make([]string, len(res.Tags)),
		Scores:   make([]float32, len(res.Tags)),
		Sources:  make([]TagSource, len(res.Tags)),
		Strategy: res.Strategy,
		Caption:  res.Caption,
		Fallback: res.Fallback,
	}
	for i, t := range res.Tags {
		resp.Tags[i] = t.Tag
		resp.Scores[i] = t.Score
		resp.Sources[i] = t.Source
	}
	return resp
}

func errorResponse(id StrategyID, err error) Response {
	return Response{
		Tags:     []string{},
		Strategy: id,
		Error:    err.Error(),
	}
}

// genericFallback returns the fixed fallback tags truncated to topK
func genericFallback(id StrategyID, topK int) *Result {
	n := min(max(topK, 1), len(GenericFallbackTags))
	tags := make([]TagScore, n)
	for i := range tags {
		tags[i] = TagScore{Tag: GenericFallbackTags[i], Source: SourceFallback}
	}
	return &Result{Strategy: id, Tags: tags, Fallback: true}
}
