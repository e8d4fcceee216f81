package trim

import (
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// MinChunkSize is the floor, in characters, below which text is
	// hard-truncated instead of split further.
	MinChunkSize = 140

	// charsPerToken is the average used to convert a token overflow
	// into a character budget.
	charsPerToken = 3

	// tokenizerModel selects the tiktoken encoding used for counting.
	tokenizerModel = "gpt-4"
)

// CountFunc reports the token count of text.
type CountFunc func(text string) int

// Trimmer bounds arbitrary text to a token budget. Oversized text is cut
// at paragraph, sentence or word boundaries where possible, so the result
// is a contiguous prefix of the input.
type Trimmer struct {
	count CountFunc
}

// New returns a Trimmer backed by the tiktoken-based counter from langchaingo.
func New() *Trimmer {
	return NewWithCounter(func(text string) int {
		return llms.CountTokens(tokenizerModel, text)
	})
}

// NewWithCounter returns a Trimmer using a custom token counter.
func NewWithCounter(count CountFunc) *Trimmer {
	return &Trimmer{count: count}
}

// Trim returns a prefix of text whose token count is at most maxTokens.
// Text already within budget is returned unchanged. Each recursion step
// strictly shrinks the text, so Trim terminates even for a single
// unsplittable token.
func (t *Trimmer) Trim(text string, maxTokens int) string {
	if text == "" {
		return ""
	}

	tokens := t.count(text)
	if tokens <= maxTokens {
		return text
	}

	runes := []rune(text)
	budget := len(runes) - (tokens-maxTokens)*charsPerToken
	if budget < MinChunkSize {
		return slice(runes, MinChunkSize)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(budget),
		textsplitter.WithChunkOverlap(0),
	)

	trimmed := ""
	if chunks, err := splitter.SplitText(text); err == nil && len(chunks) > 0 {
		trimmed = chunks[0]
	} else {
		trimmed = slice(runes, budget)
	}

	// The splitter made no progress (one giant unsplittable token). Force
	// progress with a raw slice so the recursion cannot loop forever.
	if len(trimmed) == len(text) {
		return t.Trim(slice(runes, budget), maxTokens)
	}

	return t.Trim(trimmed, maxTokens)
}

func slice(runes []rune, n int) string {
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n])
}
