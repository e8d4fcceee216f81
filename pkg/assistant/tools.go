package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/mikeboe/deep-research/pkg/archive"
)

// LearningsToolset exposes the research archive to the assistant agent
// (and to MCP clients through the server's JSON-RPC endpoint).
type LearningsToolset struct {
	Archive *archive.Archive
}

func NewLearningsToolset(a *archive.Archive) *LearningsToolset {
	return &LearningsToolset{Archive: a}
}

func (t *LearningsToolset) Name() string {
	return "learnings_tools"
}

func (t *LearningsToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[SearchLearningsArgs, SearchLearningsResp](
		functiontool.Config{
			Name:        "search_learnings",
			Description: "Search archived research learnings using semantic search.",
		},
		t.searchLearningsTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tool: %w", err)
	}

	byRunTool, err := functiontool.New[FindByRunArgs, FindByRunResp](
		functiontool.Config{
			Name:        "find_learnings_by_run",
			Description: "List every learning archived for a specific research run.",
		},
		t.findByRunTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create find_by_run tool: %w", err)
	}

	byFilterTool, err := functiontool.New[FindByFilterArgs, FindByFilterResp](
		functiontool.Config{
			Name:        "find_learnings_by_filter",
			Description: "Find archived learnings using logical filters on their metadata.",
		},
		t.findByFilterTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create find_by_filter tool: %w", err)
	}

	return []tool.Tool{searchTool, byRunTool, byFilterTool}, nil
}

// --- Tool Implementations ---

type SearchLearningsArgs struct {
	Query string `json:"query" description:"The search query"`
	TopK  int    `json:"topK,omitempty" description:"Number of results to return (default 5)"`
	RunID string `json:"runId,omitempty" description:"Optional research run filter"`
}

type SearchLearningsResp struct {
	Results string `json:"results"`
}

// Wrapper for the ADK tool interface
func (t *LearningsToolset) searchLearningsTool(ctx tool.Context, args SearchLearningsArgs) (SearchLearningsResp, error) {
	return t.SearchLearnings(ctx, args)
}

// SearchLearnings is the plain-context entry used by both the agent and MCP.
func (t *LearningsToolset) SearchLearnings(ctx context.Context, args SearchLearningsArgs) (SearchLearningsResp, error) {
	slog.Info("Search learnings", "query", args.Query, "topK", args.TopK, "runId", args.RunID)

	results, err := t.Archive.SearchLearnings(ctx, args.Query, args.TopK, args.RunID)
	if err != nil {
		return SearchLearningsResp{}, fmt.Errorf("failed to search learnings: %w", err)
	}

	var formatted []string
	for _, r := range results {
		formatted = append(formatted, formatRecord(r.Record))
	}
	return SearchLearningsResp{Results: strings.Join(formatted, "\n\n")}, nil
}

type FindByRunArgs struct {
	RunID string `json:"runId" description:"The research run to list learnings for"`
}

type FindByRunResp struct {
	Learnings string `json:"learnings"`
}

func (t *LearningsToolset) findByRunTool(ctx tool.Context, args FindByRunArgs) (FindByRunResp, error) {
	return t.FindByRun(ctx, args)
}

func (t *LearningsToolset) FindByRun(ctx context.Context, args FindByRunArgs) (FindByRunResp, error) {
	records, err := t.Archive.LearningsByRun(ctx, args.RunID)
	if err != nil {
		return FindByRunResp{}, fmt.Errorf("failed to find learnings: %w", err)
	}

	var formatted []string
	for _, rec := range records {
		formatted = append(formatted, rec.Learning)
	}
	return FindByRunResp{Learnings: strings.Join(formatted, "\n\n")}, nil
}

type FindByFilterArgs struct {
	Filter map[string]interface{} `json:"filter" description:"JSON filter object with logical operators ($and, $or, $not)"`
}

type FindByFilterResp struct {
	Learnings string `json:"learnings"`
}

func (t *LearningsToolset) findByFilterTool(ctx tool.Context, args FindByFilterArgs) (FindByFilterResp, error) {
	return t.FindByFilter(ctx, args)
}

func (t *LearningsToolset) FindByFilter(ctx context.Context, args FindByFilterArgs) (FindByFilterResp, error) {
	records, err := t.Archive.LearningsByFilter(ctx, args.Filter)
	if err != nil {
		return FindByFilterResp{}, fmt.Errorf("failed to find learnings: %w", err)
	}

	var formatted []string
	for _, rec := range records {
		formatted = append(formatted, formatRecord(rec))
	}
	return FindByFilterResp{Learnings: strings.Join(formatted, "\n\n")}, nil
}

func formatRecord(rec archive.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Learning]: %s", rec.Learning)
	for k, v := range rec.Metadata {
		fmt.Fprintf(&sb, "\n[%s]: %v", k, v)
	}
	return sb.String()
}
