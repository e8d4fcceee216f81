package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

const (
	// searchTimeout bounds one search call. Expiry is isolated to the
	// branch that made the call.
	searchTimeout = 15 * time.Second

	// maxLearningsPerQuery caps how many learnings one branch extracts.
	maxLearningsPerQuery = 3

	// noSummary is the placeholder for sources where every step of the
	// summary selection chain came up empty. Source summaries are never
	// empty strings.
	noSummary = "No summary available"

	summaryMaxLen = 150
)

// Engine drives recursive breadth/depth research: generate queries, search
// the web for each, extract learnings, then follow the most promising
// directions one level deeper until the depth budget runs out.
type Engine struct {
	Config     Config
	Gen        Generation
	Search     Searcher
	Logger     *slog.Logger
	OnProgress func(Progress)
}

func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	llm, err := clients.GoogleAi(ctx, cfg.GoogleApiKey, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to init LLM: %w", err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 5
	}

	gen := NewGenerator(llm)
	if cfg.ContextSize > 0 {
		gen.ContextSize = cfg.ContextSize
	}

	return &Engine{
		Config: cfg,
		Gen:    gen,
		Search: tools.NewFirecrawl(cfg.FirecrawlKey, cfg.FirecrawlURL),
		Logger: slog.Default(),
	}, nil
}

// Run performs a full research pass over the prompt within the given
// breadth and depth budgets and returns the aggregate result. It fails
// only when the initial query generation fails; everything downstream is
// isolated per branch and degrades to a smaller aggregate.
func (e *Engine) Run(ctx context.Context, prompt string, breadth, depth int) (*Result, error) {
	tracker := NewTracker(breadth, depth, e.OnProgress)
	e.Logger.Info("Starting research", "prompt", prompt, "breadth", breadth, "depth", depth)
	return e.research(ctx, prompt, breadth, depth, nil, nil, tracker)
}

// research is one recursion level: propose up to breadth queries, run each
// as an isolated branch under the concurrency gate, and merge whatever the
// branches produced. Depth strictly decreases per level, so the recursion
// terminates within the initial depth bound regardless of breadth.
func (e *Engine) research(ctx context.Context, prompt string, breadth, depth int, learnings []string, sources []Source, tracker *Tracker) (*Result, error) {
	queries, err := e.Gen.ProposeQueries(ctx, prompt, learnings, breadth)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		e.Logger.Warn("No queries proposed", "prompt", prompt, "depth", depth)
		return &Result{Learnings: learnings, Sources: sources}, nil
	}
	tracker.QueriesPlanned(len(queries), queries[0].Query)
	e.Logger.Info("Generated queries", "count", len(queries), "depth", depth)

	gate := make(chan struct{}, e.Config.Concurrency)
	results := make([]*Result, len(queries))
	var wg sync.WaitGroup

	for i, q := range queries {
		wg.Add(1)
		go func(i int, q Query) {
			defer wg.Done()
			gate <- struct{}{}
			defer func() { <-gate }()

			res, err := e.runBranch(ctx, q, breadth, depth, learnings, sources, tracker)
			if err != nil {
				// A failed branch yields nothing but never aborts its
				// siblings or the parent level.
				e.Logger.Error("Research branch failed",
					"query", q.Query, "depth", depth, "timeout", isTimeout(err), "error", err)
				results[i] = &Result{}
				return
			}
			results[i] = res
		}(i, q)
	}
	wg.Wait()

	return mergeResults(results), nil
}

// runBranch executes one query's pipeline: search, derive sources, extract
// learnings, then either recurse deeper or return the branch-local
// accumulators. The caller treats any returned error as a branch failure.
func (e *Engine) runBranch(ctx context.Context, q Query, breadth, depth int, learnings []string, sources []Source, tracker *Tracker) (*Result, error) {
	hits, err := e.Search.Search(ctx, q.Query, tools.SearchOptions{
		Timeout: searchTimeout,
		Limit:   e.Config.SearchLimit,
		Formats: []string{"markdown"},
	})
	if err != nil {
		return nil, err
	}

	visited := e.collectSources(ctx, hits)

	var contents []string
	for _, hit := range hits {
		if strings.TrimSpace(hit.Markdown) != "" {
			contents = append(contents, hit.Markdown)
		}
	}

	newBreadth := (breadth + 1) / 2
	newDepth := depth - 1

	extraction, err := e.Gen.ExtractLearnings(ctx, q.Query, contents, maxLearningsPerQuery, newBreadth)
	if err != nil {
		return nil, err
	}
	e.Logger.Info("Extracted learnings",
		"query", q.Query, "learnings", len(extraction.Learnings), "followups", len(extraction.FollowUpQuestions))

	// Branch-local copies; the parent's accumulators are never mutated.
	allLearnings := append(append([]string{}, learnings...), extraction.Learnings...)
	allSources := append(append([]Source{}, sources...), visited...)

	if newDepth > 0 {
		tracker.Descend(q.Query, newDepth, newBreadth)

		next := fmt.Sprintf("Previous research goal: %s\nFollow-up research directions:\n- %s",
			q.ResearchGoal, strings.Join(extraction.FollowUpQuestions, "\n- "))

		// Depth-first: the deeper result already carries this branch's
		// learnings as inputs, so it fully replaces the branch result.
		return e.research(ctx, next, newBreadth, newDepth, allLearnings, allSources, tracker)
	}

	tracker.QueryDone(q.Query)
	return &Result{Learnings: allLearnings, Sources: allSources}, nil
}

// collectSources derives a Source for every hit that has a URL, running
// the summary selection chain for each concurrently. Hits without a URL
// are dropped before any summarization is attempted.
func (e *Engine) collectSources(ctx context.Context, hits []tools.SearchResult) []Source {
	slots := make([]*Source, len(hits))
	var wg sync.WaitGroup

	for i, hit := range hits {
		if hit.URL == "" {
			continue
		}
		wg.Add(1)
		go func(i int, hit tools.SearchResult) {
			defer wg.Done()
			slots[i] = &Source{URL: hit.URL, Summary: e.summaryFor(ctx, hit)}
		}(i, hit)
	}
	wg.Wait()

	var out []Source
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// summaryFor picks a summary by fixed priority: page title, truncated
// description, AI summary of the markdown (with naive truncation as its
// own fallback), then the placeholder. The result is never empty.
func (e *Engine) summaryFor(ctx context.Context, hit tools.SearchResult) string {
	if hit.Metadata != nil {
		if title := strings.TrimSpace(hit.Metadata.Title); title != "" {
			return title
		}
		if desc := strings.TrimSpace(hit.Metadata.Description); desc != "" {
			return truncate(desc, summaryMaxLen)
		}
	}

	markdown := strings.TrimSpace(hit.Markdown)
	if markdown == "" {
		return noSummary
	}

	summary, err := e.Gen.Summarize(ctx, markdown)
	if err != nil {
		e.Logger.Warn("Summary generation failed, truncating content", "url", hit.URL, "error", err)
	} else if s := strings.TrimSpace(summary); s != "" {
		return s
	}

	if flat := strings.Join(strings.Fields(markdown), " "); flat != "" {
		return truncate(flat, summaryMaxLen)
	}
	return noSummary
}

// mergeResults combines branch results, deduplicating learnings by exact
// string match and sources by URL (first occurrence wins).
func mergeResults(results []*Result) *Result {
	merged := &Result{}
	seenLearnings := make(map[string]bool)
	seenURLs := make(map[string]bool)

	for _, res := range results {
		if res == nil {
			continue
		}
		for _, l := range res.Learnings {
			if !seenLearnings[l] {
				seenLearnings[l] = true
				merged.Learnings = append(merged.Learnings, l)
			}
		}
		for _, s := range res.Sources {
			if !seenURLs[s.URL] {
				seenURLs[s.URL] = true
				merged.Sources = append(merged.Sources, s)
			}
		}
	}
	return merged
}

func isTimeout(err error) bool {
	var se *tools.SearchError
	if errors.As(err, &se) {
		return se.Timeout
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Timeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
