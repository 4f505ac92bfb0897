package tagger

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
	"github.com/FrenchMajesty/tagger/pkg/vocabulary"
)

// minKeywordLen is the shortest caption word kept as a free-text tag
const minKeywordLen = 3

// stopWords never become free-text tags. "arafed" and friends are tokens
// captioning models emit for people they cannot describe.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "of": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "from": {}, "with": {}, "without": {}, "by": {}, "into": {},
	"onto": {}, "over": {}, "under": {}, "near": {}, "next": {}, "is": {}, "are": {}, "was": {},
	"were": {}, "be": {}, "been": {}, "being": {}, "has": {}, "have": {}, "had": {}, "this": {},
	"that": {}, "these": {}, "those": {}, "there": {}, "here": {}, "it": {}, "its": {}, "his": {},
	"her": {}, "hers": {}, "their": {}, "they": {}, "them": {}, "she": {}, "him": {}, "some": {},
	"very": {}, "who": {}, "which": {}, "what": {}, "while": {}, "up": {}, "down": {}, "out": {},
	"off": {}, "one": {}, "two": {}, "image": {}, "photo": {}, "picture": {}, "close": {},
	"closeup": {}, "view": {}, "top": {}, "side": {}, "front": {}, "back": {}, "arafed": {},
	"araffe": {}, "arafe": {}, "someone": {}, "person": {}, "man": {}, "woman": {}, "wearing": {},
	"holding": {}, "sitting": {}, "standing": {}, "looking": {}, "made": {},
}

// CaptionMatching generates a caption and matches vocabulary tags against it.
// When no tag matches it falls back to caption keywords, then to the generic
// fallback tags.
type CaptionMatching struct {
	vocab     *vocabulary.Vocabulary
	captioner Captioner
	logger    logrus.FieldLogger
}

// NewCaptionMatching wires the strategy
func NewCaptionMatching(vocab *vocabulary.Vocabulary, captioner Captioner, logger logrus.FieldLogger) (*CaptionMatching, error) {
	if vocab == nil || vocab.Len() == 0 {
		return nil, loadError("caption matching", vocabulary.ErrEmpty)
	}
	if captioner == nil {
		return nil, loadError("caption matching", fmt.Errorf("captioner is required"))
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &CaptionMatching{
		vocab:     vocab,
		captioner: captioner,
		logger:    logger.WithField("strategy", StrategyCaptionMatching.String()),
	}, nil
}

func (c *CaptionMatching) ID() StrategyID { return StrategyCaptionMatching }

func (c *CaptionMatching) sealed() {}

// Predict captions the image and matches tags in vocabulary order
func (c *CaptionMatching) Predict(ctx context.Context, img *imageio.Image, topK int) (*Result, error) {
	caption, err := c.captioner.Caption(ctx, img)
	if err != nil {
		return nil, inferenceError(c.ID(), "caption", err)
	}
	caption = strings.ToLower(strings.TrimSpace(caption))
	topK = max(topK, 1)

	log := c.logger.WithField("caption", caption)

	if matched := MatchVocabulary(caption, c.vocab.AllTags()); len(matched) > 0 {
		matched = matched[:min(topK, len(matched))]
		tags := make([]TagScore, len(matched))
		for i, t := range matched {
			tags[i] = TagScore{Tag: t, Score: 1, Source: SourceVocabulary}
		}
		log.WithField("matched", len(matched)).Debug("caption matched vocabulary")
		return &Result{Strategy: c.ID(), Tags: tags, Caption: caption}, nil
	}

	if words := Keywords(caption); len(words) > 0 {
		words = words[:min(topK, len(words))]
		tags := make([]TagScore, len(words))
		for i, w := range words {
			tags[i] = TagScore{Tag: w, Source: SourceCaption}
		}
		log.Debug("no vocabulary match, using caption keywords")
		return &Result{Strategy: c.ID(), Tags: tags, Caption: caption, Fallback: true}, nil
	}

	log.Debug("no usable caption words, using generic fallback")
	res := genericFallback(c.ID(), topK)
	res.Caption = caption
	return res, nil
}

// MatchVocabulary returns the tags that occur in caption as whole words or
// phrases, in vocabulary order. Punctuation in the caption counts as a word
// boundary, so a tag at the start or end of the caption also matches.
//
// Prefix and suffix hits without a boundary are deliberately rejected:
// "redwood table" does not yield red, nor does "necklace" yield lace.
func MatchVocabulary(caption string, tags []string) []string {
	padded := " " + normalizeCaption(caption) + " "
	if strings.TrimSpace(padded) == "" {
		return nil
	}

	var matched []string
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if strings.Contains(padded, " "+tag+" ") {
			matched = append(matched, tag)
		}
	}
	return matched
}

// Keywords splits caption into words, strips punctuation and drops stop
// words, words shorter than three letters and repeats. Order is preserved.
func Keywords(caption string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, field := range strings.Fields(strings.ToLower(caption)) {
		word := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, field)

		if utf8.RuneCountInString(word) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
	}
	return out
}

// normalizeCaption lower-cases, turns punctuation other than in-word hyphens
// into spaces and collapses whitespace
func normalizeCaption(caption string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			return unicode.ToLower(r)
		}
		return ' '
	}, caption)

	var words []string
	for _, f := range strings.Fields(mapped) {
		if f = strings.Trim(f, "-"); f != "" {
			words = append(words, f)
		}
	}
	return strings.Join(words, " ")
}
