package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/mikeboe/deep-research/pkg/research/tools"
)

type fakeGen struct {
	mu           sync.Mutex
	proposeCalls int
	propose      func(topic string, maxCount int) ([]Query, error)
	extract      func(query string) (*Extraction, error)
	summarize    func(content string) (string, error)
}

func (f *fakeGen) ProposeQueries(ctx context.Context, topic string, prior []string, maxCount int) ([]Query, error) {
	f.mu.Lock()
	f.proposeCalls++
	f.mu.Unlock()
	return f.propose(topic, maxCount)
}

func (f *fakeGen) ExtractLearnings(ctx context.Context, query string, contents []string, maxLearnings, maxFollowUps int) (*Extraction, error) {
	if f.extract != nil {
		return f.extract(query)
	}
	return &Extraction{}, nil
}

func (f *fakeGen) Summarize(ctx context.Context, content string) (string, error) {
	if f.summarize != nil {
		return f.summarize(content)
	}
	return "", errors.New("summarize not configured")
}

func (f *fakeGen) Report(ctx context.Context, prompt, learningsBlock string) (string, error) {
	return "# Report\n\ncovering: " + learningsBlock, nil
}

func (f *fakeGen) Answer(ctx context.Context, prompt, learningsBlock string) (string, error) {
	return "42", nil
}

type fakeSearch struct {
	mu      sync.Mutex
	calls   int
	queries []string
	search  func(query string) ([]tools.SearchResult, error)
}

func (f *fakeSearch) Search(ctx context.Context, query string, opts tools.SearchOptions) ([]tools.SearchResult, error) {
	f.mu.Lock()
	f.calls++
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.search(query)
}

func testEngine(gen Generation, search Searcher, onProgress func(Progress)) *Engine {
	return &Engine{
		Config:     Config{Concurrency: 1, SearchLimit: 5},
		Gen:        gen,
		Search:     search,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnProgress: onProgress,
	}
}

func TestRunBreadthTwoDepthOne(t *testing.T) {
	gen := &fakeGen{
		propose: func(topic string, maxCount int) ([]Query, error) {
			return []Query{
				{Query: "q1", ResearchGoal: "goal 1"},
				{Query: "q2", ResearchGoal: "goal 2"},
			}, nil
		},
		extract: func(query string) (*Extraction, error) {
			return &Extraction{Learnings: []string{"fact from " + query}}, nil
		},
	}
	search := &fakeSearch{
		search: func(query string) ([]tools.SearchResult, error) {
			return []tools.SearchResult{{
				URL:      "https://example.com/" + query,
				Markdown: "# page",
				Metadata: &tools.Metadata{Title: "Example"},
			}}, nil
		},
	}

	var mu sync.Mutex
	var last Progress
	eng := testEngine(gen, search, func(p Progress) {
		mu.Lock()
		last = p
		mu.Unlock()
	})

	res, err := eng.Run(context.Background(), "topic", 2, 1)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(res.Sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(res.Sources))
	}
	for _, s := range res.Sources {
		if s.Summary != "Example" {
			t.Errorf("source summary = %q, want %q", s.Summary, "Example")
		}
	}
	if len(res.Learnings) != 2 {
		t.Errorf("got %d learnings, want 2", len(res.Learnings))
	}
	if last.CompletedQueries != 2 {
		t.Errorf("completedQueries = %d, want 2", last.CompletedQueries)
	}
	if last.CurrentDepth != 0 {
		t.Errorf("currentDepth = %d, want 0", last.CurrentDepth)
	}
}

func TestBranchIsolation(t *testing.T) {
	gen := &fakeGen{
		propose: func(topic string, maxCount int) ([]Query, error) {
			return []Query{
				{Query: "healthy", ResearchGoal: "g"},
				{Query: "broken", ResearchGoal: "g"},
			}, nil
		},
		extract: func(query string) (*Extraction, error) {
			return &Extraction{Learnings: []string{"learning from " + query}}, nil
		},
	}
	search := &fakeSearch{
		search: func(query string) ([]tools.SearchResult, error) {
			if query == "broken" {
				return nil, &tools.SearchError{Query: query, Timeout: true, Err: context.DeadlineExceeded}
			}
			return []tools.SearchResult{{
				URL:      "https://example.com/ok",
				Metadata: &tools.Metadata{Title: "OK"},
			}}, nil
		},
	}

	eng := testEngine(gen, search, nil)
	res, err := eng.Run(context.Background(), "topic", 2, 1)
	if err != nil {
		t.Fatalf("Run() error = %v, want branch failure to be absorbed", err)
	}

	if len(res.Learnings) != 1 || res.Learnings[0] != "learning from healthy" {
		t.Errorf("learnings = %v, want only the surviving branch", res.Learnings)
	}
	if len(res.Sources) != 1 || res.Sources[0].URL != "https://example.com/ok" {
		t.Errorf("sources = %v, want only the surviving branch", res.Sources)
	}
}

func TestDepthTermination(t *testing.T) {
	gen := &fakeGen{
		extract: func(query string) (*Extraction, error) {
			return &Extraction{
				Learnings:         []string{"learning for " + query},
				FollowUpQuestions: []string{"what next about " + query},
			}, nil
		},
	}
	// Always propose the full allowance so only depth bounds the recursion.
	n := 0
	var mu sync.Mutex
	gen.propose = func(topic string, maxCount int) ([]Query, error) {
		mu.Lock()
		n++
		id := n
		mu.Unlock()
		queries := make([]Query, maxCount)
		for i := range queries {
			queries[i] = Query{Query: fmt.Sprintf("q%d-%d", id, i), ResearchGoal: "g"}
		}
		return queries, nil
	}
	search := &fakeSearch{
		search: func(query string) ([]tools.SearchResult, error) {
			return []tools.SearchResult{{URL: "https://example.com/" + query, Metadata: &tools.Metadata{Title: "T"}}}, nil
		},
	}

	eng := testEngine(gen, search, nil)
	res, err := eng.Run(context.Background(), "topic", 1, 3)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// breadth 1 keeps one branch per level, so exactly depth levels run.
	if gen.proposeCalls != 3 {
		t.Errorf("propose calls = %d, want 3 (one per level)", gen.proposeCalls)
	}
	if search.calls != 3 {
		t.Errorf("search calls = %d, want 3", search.calls)
	}
	if len(res.Learnings) != 3 {
		t.Errorf("got %d learnings, want 3 (carried through levels)", len(res.Learnings))
	}
}

func TestRootProposeFailurePropagates(t *testing.T) {
	gen := &fakeGen{
		propose: func(topic string, maxCount int) ([]Query, error) {
			return nil, &GenerationError{Op: "propose_queries", Err: errors.New("provider down")}
		},
	}
	eng := testEngine(gen, &fakeSearch{search: func(string) ([]tools.SearchResult, error) { return nil, nil }}, nil)

	if _, err := eng.Run(context.Background(), "topic", 2, 1); err == nil {
		t.Fatal("Run() error = nil, want root generation failure to propagate")
	}
}

func TestNoQueriesProposed(t *testing.T) {
	gen := &fakeGen{
		propose: func(topic string, maxCount int) ([]Query, error) {
			return nil, nil
		},
	}
	search := &fakeSearch{search: func(query string) ([]tools.SearchResult, error) {
		return nil, nil
	}}

	engine := testEngine(gen, search, nil)
	res, err := engine.Run(context.Background(), "anything", 2, 2)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Learnings) != 0 || len(res.Sources) != 0 {
		t.Errorf("got %d learnings and %d sources, want empty result", len(res.Learnings), len(res.Sources))
	}
	if search.calls != 0 {
		t.Errorf("search called %d times with no queries", search.calls)
	}
}

func TestSummarySelectionChain(t *testing.T) {
	longDesc := strings.Repeat("d", 200)
	longMarkdown := "line one\nline two " + strings.Repeat("m", 200)

	tests := []struct {
		name      string
		hit       tools.SearchResult
		summarize func(string) (string, error)
		want      string
	}{
		{
			name: "title wins over everything",
			hit: tools.SearchResult{
				URL:      "u",
				Markdown: "# content",
				Metadata: &tools.Metadata{Title: "The Title", Description: "desc"},
			},
			summarize: func(string) (string, error) {
				panic("summarize must not run when a title exists")
			},
			want: "The Title",
		},
		{
			name: "description truncated with ellipsis",
			hit: tools.SearchResult{
				URL:      "u",
				Metadata: &tools.Metadata{Description: longDesc},
			},
			want: strings.Repeat("d", 150) + "...",
		},
		{
			name: "ai summary of markdown",
			hit:  tools.SearchResult{URL: "u", Markdown: "# some page"},
			summarize: func(string) (string, error) {
				return "An AI summary.", nil
			},
			want: "An AI summary.",
		},
		{
			name: "markdown truncation when summarization fails",
			hit:  tools.SearchResult{URL: "u", Markdown: longMarkdown},
			summarize: func(string) (string, error) {
				return "", &GenerationError{Op: "summarize", Err: errors.New("boom")}
			},
			want: truncate(strings.Join(strings.Fields(longMarkdown), " "), 150),
		},
		{
			name: "placeholder when nothing usable",
			hit:  tools.SearchResult{URL: "u", Metadata: &tools.Metadata{Title: "  "}},
			want: noSummary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := testEngine(&fakeGen{summarize: tt.summarize}, nil, nil)
			got := eng.summaryFor(context.Background(), tt.hit)
			if got != tt.want {
				t.Errorf("summaryFor() = %q, want %q", got, tt.want)
			}
			if got == "" {
				t.Error("summaryFor() returned an empty summary")
			}
			if !strings.Contains(tt.want, "\n") && strings.Contains(got, "\n") {
				t.Error("summaryFor() kept raw newlines")
			}
		})
	}
}

func TestCollectSourcesDropsMissingURL(t *testing.T) {
	eng := testEngine(&fakeGen{
		summarize: func(string) (string, error) {
			t.Error("summarize called for a result without a URL")
			return "", nil
		},
	}, nil, nil)

	got := eng.collectSources(context.Background(), []tools.SearchResult{
		{Markdown: "# orphan content"},
		{URL: "https://example.com", Metadata: &tools.Metadata{Title: "Kept"}},
	})

	if len(got) != 1 || got[0].URL != "https://example.com" {
		t.Errorf("collectSources() = %v, want only the result with a URL", got)
	}
}

func TestMergeResults(t *testing.T) {
	merged := mergeResults([]*Result{
		{
			Learnings: []string{"a", "b"},
			Sources:   []Source{{URL: "u1", Summary: "first"}},
		},
		nil,
		{
			Learnings: []string{"b", "c"},
			Sources: []Source{
				{URL: "u1", Summary: "different summary, same url"},
				{URL: "u2", Summary: "second"},
			},
		},
	})

	if len(merged.Learnings) != 3 {
		t.Errorf("learnings = %v, want 3 unique", merged.Learnings)
	}
	if len(merged.Sources) != 2 {
		t.Fatalf("sources = %v, want 2 unique URLs", merged.Sources)
	}
	if merged.Sources[0].Summary != "first" {
		t.Errorf("dedup kept %q, want the first occurrence per URL", merged.Sources[0].Summary)
	}
}

func TestConcurrentFanOut(t *testing.T) {
	gen := &fakeGen{
		propose: func(topic string, maxCount int) ([]Query, error) {
			return []Query{{Query: "a"}, {Query: "b"}, {Query: "c"}, {Query: "d"}}, nil
		},
		extract: func(query string) (*Extraction, error) {
			return &Extraction{Learnings: []string{query}}, nil
		},
	}
	search := &fakeSearch{
		search: func(query string) ([]tools.SearchResult, error) {
			return []tools.SearchResult{{URL: "https://example.com/" + query, Metadata: &tools.Metadata{Title: query}}}, nil
		},
	}

	eng := testEngine(gen, search, nil)
	eng.Config.Concurrency = 4

	res, err := eng.Run(context.Background(), "topic", 4, 1)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Learnings) != 4 || len(res.Sources) != 4 {
		t.Errorf("got %d learnings / %d sources, want 4 / 4", len(res.Learnings), len(res.Sources))
	}
}
