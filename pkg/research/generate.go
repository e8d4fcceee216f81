package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/trim"
)

const (
	// contentTokenBudget caps each page content item submitted for
	// learning extraction or summarization.
	contentTokenBudget = 25_000

	// reportTokenBudget caps the learnings block submitted for final
	// report or answer synthesis.
	reportTokenBudget = 150_000

	// extractTimeout bounds a single learning-extraction call. Expiry is
	// a recoverable failure at the calling branch, not fatal to the run.
	extractTimeout = 60 * time.Second

	// defaultContextSize caps every trim budget when no model context
	// size is configured.
	defaultContextSize = 128_000
)

// GenerationError wraps any failure of the generation capability: provider
// error, timeout, or a response that does not match the declared schema.
// The gateway never retries; retry policy belongs to the caller.
type GenerationError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s failed: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Generator wraps an llms.Model behind the three structured call shapes the
// orchestrator needs. Every call declares its output schema in the system
// prompt and validates the parsed response against it.
type Generator struct {
	LLM     llms.Model
	Trimmer *trim.Trimmer

	// ContextSize is the model's context window in tokens. Every trim
	// budget is capped at this value, so a model smaller than the
	// per-call budgets never receives an oversized prompt.
	ContextSize int
}

func NewGenerator(llm llms.Model) *Generator {
	return &Generator{LLM: llm, Trimmer: trim.New(), ContextSize: defaultContextSize}
}

// budget caps a trim budget at the configured context size.
func (g *Generator) budget(tokens int) int {
	if g.ContextSize > 0 && g.ContextSize < tokens {
		return g.ContextSize
	}
	return tokens
}

func systemPrompt() string {
	return fmt.Sprintf(`You are an expert researcher. Today is %s. Follow these instructions when responding:
- The user is a highly experienced analyst; be as detailed as possible and make sure your response is correct.
- Be highly organized, proactive, and anticipate the user's needs.
- Treat the user as an expert in all subject matter. Mistakes erode trust.
- Provide detailed explanations and consider new technologies and contrarian ideas, not just conventional wisdom.
- You may speculate or predict, but flag it for the user.`, time.Now().Format("2006-01-02"))
}

type queriesResponse struct {
	Queries []Query `json:"queries" jsonschema_description:"List of SERP queries."`
}

// ProposeQueries asks the model for up to maxCount search queries that
// advance the topic. The instruction to keep queries distinct is
// best-effort on the model's side; callers must not assume uniqueness
// beyond the slice to maxCount.
func (g *Generator) ProposeQueries(ctx context.Context, topic string, priorLearnings []string, maxCount int) ([]Query, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Given the following prompt from the user, generate a list of SERP queries to research the topic. Return a maximum of %d queries, but feel free to return fewer if the prompt is clear. Make sure each query is unique and not similar to the others.\n\n<prompt>%s</prompt>", maxCount, topic)
	if len(priorLearnings) > 0 {
		fmt.Fprintf(&sb, "\n\nHere are some learnings from previous research, use them to generate more specific queries:\n%s", strings.Join(priorLearnings, "\n"))
	}

	var resp queriesResponse
	err := g.generateObject(ctx, "propose_queries", sb.String(), &resp, func() error {
		if len(resp.Queries) == 0 {
			return errors.New("empty queries list")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Queries) > maxCount {
		resp.Queries = resp.Queries[:maxCount]
	}
	return resp.Queries, nil
}

// ExtractLearnings distills page contents for a query into atomic learnings
// plus follow-up questions. Each content item is trimmed to the content
// token budget before submission, and the whole call carries a fixed
// timeout so a stuck provider cannot stall the branch forever.
func (g *Generator) ExtractLearnings(ctx context.Context, query string, contents []string, maxLearnings, maxFollowUps int) (*Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Given the following contents from a SERP search for the query <query>%s</query>, generate a list of learnings from the contents. Return a maximum of %d learnings, but feel free to return fewer if the contents are clear. Make sure each learning is unique and not similar to the others. The learnings should be concise and to the point, as detailed and information dense as possible. Include any entities like people, places, companies, products, and any exact metrics, numbers, or dates. Also return a maximum of %d follow-up questions to research the topic further.\n\n<contents>", query, maxLearnings, maxFollowUps)
	for _, content := range contents {
		fmt.Fprintf(&sb, "\n<content>\n%s\n</content>", g.Trimmer.Trim(content, g.budget(contentTokenBudget)))
	}
	sb.WriteString("\n</contents>")

	var resp Extraction
	if err := g.generateObject(ctx, "extract_learnings", sb.String(), &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

type summaryResponse struct {
	Summary string `json:"summary" jsonschema_description:"A concise summary of the content, at most one or two sentences."`
}

// Summarize produces a short description of page content. Used as the
// last-resort fallback when a search result carries no usable metadata.
func (g *Generator) Summarize(ctx context.Context, content string) (string, error) {
	prompt := fmt.Sprintf("Summarize the following web page content in one or two sentences, focusing on what the page is about:\n\n<content>\n%s\n</content>", g.Trimmer.Trim(content, g.budget(contentTokenBudget)))

	var resp summaryResponse
	err := g.generateObject(ctx, "summarize", prompt, &resp, func() error {
		if strings.TrimSpace(resp.Summary) == "" {
			return errors.New("empty summary")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return resp.Summary, nil
}

type reportResponse struct {
	ReportMarkdown string `json:"reportMarkdown" jsonschema_description:"Final report on the topic in Markdown."`
}

// Report renders a long-form Markdown report from the research prompt and
// an already-formatted learnings block. The block is trimmed to the report
// token budget before submission.
func (g *Generator) Report(ctx context.Context, prompt, learningsBlock string) (string, error) {
	full := fmt.Sprintf("Given the following prompt from the user, write a final report on the topic using the learnings from research. Make it as detailed as possible, aim for 3 or more pages, include ALL the learnings from research:\n\n<prompt>%s</prompt>\n\nHere are all the learnings from previous research:\n\n<learnings>\n%s\n</learnings>", prompt, g.Trimmer.Trim(learningsBlock, g.budget(reportTokenBudget)))

	var resp reportResponse
	err := g.generateObject(ctx, "report", full, &resp, func() error {
		if strings.TrimSpace(resp.ReportMarkdown) == "" {
			return errors.New("empty report")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return resp.ReportMarkdown, nil
}

type answerResponse struct {
	ExactAnswer string `json:"exactAnswer" jsonschema_description:"The final answer, short and concise, just the answer and nothing else."`
}

// Answer renders a short, direct answer instead of a long-form report.
func (g *Generator) Answer(ctx context.Context, prompt, learningsBlock string) (string, error) {
	full := fmt.Sprintf("Given the following prompt and research learnings, answer as concisely as the prompt allows. Keep the answer short; do not include explanations unless the prompt asks for them.\n\n<prompt>%s</prompt>\n\n<learnings>\n%s\n</learnings>", prompt, g.Trimmer.Trim(learningsBlock, g.budget(reportTokenBudget)))

	var resp answerResponse
	err := g.generateObject(ctx, "answer", full, &resp, func() error {
		if strings.TrimSpace(resp.ExactAnswer) == "" {
			return errors.New("empty answer")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return resp.ExactAnswer, nil
}

// generateObject performs a single JSON-mode generation call, parses the
// response into out, and runs the optional validator. Any failure comes
// back as a *GenerationError with the timeout sub-kind set when the
// context deadline expired.
func (g *Generator) generateObject(ctx context.Context, op, prompt string, out any, validate func() error) error {
	system := systemPrompt() + "\n\n# Response Format:\n\nReturn the JSON object directly without any formatting or additional text. The object must match this schema and include all required properties:\n" + schemaFor(out)

	resp, err := g.LLM.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, llms.WithJSONMode())
	if err != nil {
		return &GenerationError{Op: op, Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded), Err: err}
	}
	if len(resp.Choices) == 0 {
		return &GenerationError{Op: op, Err: errors.New("model returned no choices")}
	}

	content := resp.Choices[0].Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return &GenerationError{Op: op, Err: fmt.Errorf("response does not match schema: %w (content: %s)", err, content)}
	}
	if validate != nil {
		if err := validate(); err != nil {
			return &GenerationError{Op: op, Err: err}
		}
	}
	return nil
}

func schemaFor(v any) string {
	r := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	b, err := json.MarshalIndent(r.Reflect(v), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
