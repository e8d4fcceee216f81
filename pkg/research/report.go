package research

import (
	"context"
	"fmt"
	"strings"
)

// WriteReport renders a long-form Markdown report over the run's learnings
// and appends a sources section listing every visited URL with its
// summary, in the order the orchestrator returned them.
func (e *Engine) WriteReport(ctx context.Context, prompt string, res *Result) (string, error) {
	report, err := e.Gen.Report(ctx, prompt, learningsBlock(res.Learnings))
	if err != nil {
		return "", err
	}
	return report + sourcesSection(res.Sources), nil
}

// WriteAnswer renders a short, direct answer instead of a report. No
// sources section is appended in answer mode.
func (e *Engine) WriteAnswer(ctx context.Context, prompt string, res *Result) (string, error) {
	return e.Gen.Answer(ctx, prompt, learningsBlock(res.Learnings))
}

func learningsBlock(learnings []string) string {
	var sb strings.Builder
	for _, l := range learnings {
		fmt.Fprintf(&sb, "<learning>\n%s\n</learning>\n", l)
	}
	return sb.String()
}

func sourcesSection(sources []Source) string {
	var sb strings.Builder
	sb.WriteString("\n\n## Sources\n")
	for _, s := range sources {
		fmt.Fprintf(&sb, "\n- [%s](%s)", s.Summary, s.URL)
	}
	return sb.String()
}
