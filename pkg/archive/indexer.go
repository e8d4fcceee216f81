package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
)

// DefaultTable is the learnings table used when none is configured.
const DefaultTable = "learnings"

// Archive indexes the learnings of finished research runs so later runs,
// the assistant, and MCP clients can search them semantically.
type Archive struct {
	DB       *database.PostgresDB
	Embedder *Embedder
	Table    string
	Logger   *slog.Logger
}

func New(db *database.PostgresDB, embedder *Embedder) *Archive {
	return &Archive{
		DB:       db,
		Embedder: embedder,
		Table:    DefaultTable,
		Logger:   slog.Default(),
	}
}

// IndexRun embeds and stores every learning of a completed run, tagged
// with the run ID and the original prompt so they can be filtered later.
func (a *Archive) IndexRun(ctx context.Context, runID, prompt string, res *research.Result) error {
	if len(res.Learnings) == 0 {
		a.Logger.Info("No learnings to archive", "run_id", runID)
		return nil
	}

	if err := a.DB.EnsureVectorExtension(ctx); err != nil {
		return fmt.Errorf("failed to ensure vector extension: %w", err)
	}
	if err := a.DB.CreateLearningsTable(ctx, a.Table, EmbeddingDim); err != nil {
		return fmt.Errorf("failed to create learnings table: %w", err)
	}

	embeddings, err := a.Embedder.EmbedTexts(ctx, res.Learnings)
	if err != nil {
		return fmt.Errorf("failed to embed learnings: %w", err)
	}

	records := make([]Record, len(res.Learnings))
	for i, learning := range res.Learnings {
		records[i] = Record{
			Learning: learning,
			Metadata: map[string]interface{}{
				"run_id": runID,
				"prompt": prompt,
			},
			Embedding: embeddings[i],
		}
	}

	store, err := NewStore(a.DB.Pool, a.Table)
	if err != nil {
		return err
	}
	if err := store.AddRecords(ctx, records); err != nil {
		return err
	}

	a.Logger.Info("Archived learnings", "run_id", runID, "count", len(records))
	return nil
}

// SearchLearnings embeds the query and returns the closest archived
// learnings, optionally restricted to one run.
func (a *Archive) SearchLearnings(ctx context.Context, query string, topK int, runFilter string) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	embedding, err := a.Embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	store, err := NewStore(a.DB.Pool, a.Table)
	if err != nil {
		return nil, err
	}
	return store.SimilaritySearch(ctx, embedding, topK, runFilter)
}

// LearningsByRun returns every archived learning for a run.
func (a *Archive) LearningsByRun(ctx context.Context, runID string) ([]Record, error) {
	store, err := NewStore(a.DB.Pool, a.Table)
	if err != nil {
		return nil, err
	}
	return store.GetByRun(ctx, runID)
}

// LearningsByFilter returns archived learnings matching a metadata filter.
func (a *Archive) LearningsByFilter(ctx context.Context, filter map[string]interface{}) ([]Record, error) {
	store, err := NewStore(a.DB.Pool, a.Table)
	if err != nil {
		return nil, err
	}
	return store.GetByFilter(ctx, filter)
}
