package research

import (
	"context"

	"github.com/mikeboe/deep-research/pkg/research/tools"
)

// Config holds runtime configuration for a research engine.
type Config struct {
	GoogleApiKey string
	Model        string
	FirecrawlKey string
	FirecrawlURL string

	// Concurrency bounds how many query branches run at once. The default
	// of 1 runs branches sequentially to accommodate provider rate limits;
	// the fan-out itself is safe at higher values.
	Concurrency int
	SearchLimit int
	ContextSize int
}

// Query is one generated SERP query together with the goal it should
// advance and the directions it could be deepened in.
type Query struct {
	Query        string `json:"query" jsonschema_description:"The SERP query."`
	ResearchGoal string `json:"researchGoal" jsonschema_description:"The goal this query is meant to advance, plus directions for deepening the research once results are in."`
}

// Source ties a visited URL to a short human-readable summary. Summary is
// never empty; when nothing usable is available it holds a placeholder.
type Source struct {
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// Extraction is what the model distills from a batch of page contents.
type Extraction struct {
	Learnings         []string `json:"learnings" jsonschema_description:"Dense, self-contained facts extracted from the contents."`
	FollowUpQuestions []string `json:"followUpQuestions" jsonschema_description:"Follow-up questions to deepen the research."`
}

// Result aggregates everything a research run discovered. Each recursion
// level owns its own Result; branch results are merged by value so
// concurrent branches never share an accumulator.
type Result struct {
	Learnings []string `json:"learnings"`
	Sources   []Source `json:"visitedUrls"`
}

// Searcher is the engine's view of the web search provider.
type Searcher interface {
	Search(ctx context.Context, query string, opts tools.SearchOptions) ([]tools.SearchResult, error)
}

// Generation is the engine's view of the structured generation gateway.
// Implementations fail with *GenerationError and never retry internally.
type Generation interface {
	ProposeQueries(ctx context.Context, topic string, priorLearnings []string, maxCount int) ([]Query, error)
	ExtractLearnings(ctx context.Context, query string, contents []string, maxLearnings, maxFollowUps int) (*Extraction, error)
	Summarize(ctx context.Context, content string) (string, error)
	Report(ctx context.Context, prompt, learningsBlock string) (string, error)
	Answer(ctx context.Context, prompt, learningsBlock string) (string, error)
}
