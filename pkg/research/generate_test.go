package research

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/trim"
)

// fakeModel returns canned content and records the prompt it was given.
type fakeModel struct {
	content string
	err     error
	system  string
	human   string
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, m := range messages {
		var text string
		for _, part := range m.Parts {
			if tp, ok := part.(llms.TextContent); ok {
				text += tp.Text
			}
		}
		switch m.Role {
		case llms.ChatMessageTypeSystem:
			f.system = text
		case llms.ChatMessageTypeHuman:
			f.human = text
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.content}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return f.content, f.err
}

func testGenerator(model llms.Model) *Generator {
	return &Generator{
		LLM: model,
		Trimmer: trim.NewWithCounter(func(text string) int {
			return len([]rune(text)) / 4
		}),
	}
}

func TestProposeQueries(t *testing.T) {
	model := &fakeModel{content: `{"queries": [
		{"query": "go concurrency patterns", "researchGoal": "find idioms"},
		{"query": "go semaphore channel", "researchGoal": "find gates"},
		{"query": "extra one", "researchGoal": "over budget"}
	]}`}

	gen := testGenerator(model)
	queries, err := gen.ProposeQueries(context.Background(), "go concurrency", []string{"channels are typed"}, 2)
	if err != nil {
		t.Fatalf("ProposeQueries() error = %v", err)
	}

	if len(queries) != 2 {
		t.Fatalf("got %d queries, want slice to maxCount 2", len(queries))
	}
	if queries[0].Query != "go concurrency patterns" || queries[0].ResearchGoal != "find idioms" {
		t.Errorf("unexpected first query: %+v", queries[0])
	}
	if !strings.Contains(model.system, `"queries"`) {
		t.Error("system prompt does not declare the queries schema")
	}
	if !strings.Contains(model.human, "channels are typed") {
		t.Error("prior learnings were not included in the prompt")
	}
}

func TestProposeQueriesFailures(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
	}{
		{"provider error", &fakeModel{err: errors.New("quota exceeded")}},
		{"invalid json", &fakeModel{content: "sorry, I cannot do that"}},
		{"empty list", &fakeModel{content: `{"queries": []}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := testGenerator(tt.model)
			_, err := gen.ProposeQueries(context.Background(), "topic", nil, 3)
			if err == nil {
				t.Fatal("ProposeQueries() error = nil, want GenerationError")
			}
			var ge *GenerationError
			if !errors.As(err, &ge) {
				t.Errorf("error type = %T, want *GenerationError", err)
			}
		})
	}
}

func TestExtractLearnings(t *testing.T) {
	model := &fakeModel{content: `{
		"learnings": ["Go 1.22 shipped range-over-int", "goroutines are cheap"],
		"followUpQuestions": ["what changed in the scheduler?"]
	}`}

	gen := testGenerator(model)
	ext, err := gen.ExtractLearnings(context.Background(), "go runtime", []string{"page one", "page two"}, 3, 1)
	if err != nil {
		t.Fatalf("ExtractLearnings() error = %v", err)
	}

	if len(ext.Learnings) != 2 || len(ext.FollowUpQuestions) != 1 {
		t.Errorf("unexpected extraction: %+v", ext)
	}
	if !strings.Contains(model.human, "<query>go runtime</query>") {
		t.Error("query missing from the prompt")
	}
	if strings.Count(model.human, "<content>") != 2 {
		t.Error("expected both content items in the prompt")
	}
}

func TestExtractLearningsTrimsContents(t *testing.T) {
	model := &fakeModel{content: `{"learnings": [], "followUpQuestions": []}`}
	gen := testGenerator(model)

	huge := strings.Repeat("long paragraph about things.\n\n", 20_000)
	if _, err := gen.ExtractLearnings(context.Background(), "q", []string{huge}, 3, 1); err != nil {
		t.Fatalf("ExtractLearnings() error = %v", err)
	}
	if len(model.human) >= len(huge) {
		t.Errorf("prompt length %d not trimmed below content length %d", len(model.human), len(huge))
	}
}

func TestContextSizeCapsTrimBudget(t *testing.T) {
	// 2_500 tokens under the len/4 counter, inside the per-call content
	// budget, so only the context size cap can force a trim.
	content := strings.Repeat("short paragraph about things.\n\n", 320)

	control := &fakeModel{content: `{"learnings": [], "followUpQuestions": []}`}
	gen := testGenerator(control)
	if _, err := gen.ExtractLearnings(context.Background(), "q", []string{content}, 3, 1); err != nil {
		t.Fatalf("ExtractLearnings() error = %v", err)
	}
	if !strings.Contains(control.human, content) {
		t.Fatal("content within budget was trimmed with no context size cap")
	}

	capped := &fakeModel{content: `{"learnings": [], "followUpQuestions": []}`}
	gen = testGenerator(capped)
	gen.ContextSize = 50
	if _, err := gen.ExtractLearnings(context.Background(), "q", []string{content}, 3, 1); err != nil {
		t.Fatalf("ExtractLearnings() error = %v", err)
	}
	if strings.Contains(capped.human, content) {
		t.Error("content was not trimmed to the configured context size")
	}
	if len(capped.human) >= len(control.human) {
		t.Errorf("capped prompt length %d not below uncapped length %d", len(capped.human), len(control.human))
	}
}

func TestSummarize(t *testing.T) {
	gen := testGenerator(&fakeModel{content: `{"summary": "A page about Go."}`})
	got, err := gen.Summarize(context.Background(), "# Go\nGo is a language.")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if got != "A page about Go." {
		t.Errorf("Summarize() = %q", got)
	}

	gen = testGenerator(&fakeModel{content: `{"summary": "   "}`})
	if _, err := gen.Summarize(context.Background(), "content"); err == nil {
		t.Fatal("Summarize() with blank summary: error = nil, want GenerationError")
	}
}

func TestReportAppendsNothingItself(t *testing.T) {
	gen := testGenerator(&fakeModel{content: `{"reportMarkdown": "# Findings\n\nBody."}`})
	got, err := gen.Report(context.Background(), "prompt", "<learning>\nx\n</learning>")
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if got != "# Findings\n\nBody." {
		t.Errorf("Report() = %q, want the raw model output", got)
	}
}
