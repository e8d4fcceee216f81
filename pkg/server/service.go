package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mikeboe/deep-research/pkg/archive"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
)

const (
	ModeReport = "report"
	ModeAnswer = "answer"
)

type Service struct {
	DB      *database.PostgresDB
	Cfg     research.Config
	Archive *archive.Archive

	DefaultBreadth int
	DefaultDepth   int
}

func NewService(db *database.PostgresDB, cfg research.Config, arch *archive.Archive, defaultBreadth, defaultDepth int) *Service {
	return &Service{
		DB:             db,
		Cfg:            cfg,
		Archive:        arch,
		DefaultBreadth: defaultBreadth,
		DefaultDepth:   defaultDepth,
	}
}

type Job struct {
	ID        uuid.UUID       `json:"id"`
	Prompt    string          `json:"prompt"`
	Breadth   int             `json:"breadth"`
	Depth     int             `json:"depth"`
	Mode      string          `json:"mode"`
	Status    string          `json:"status"`
	Report    *string         `json:"report,omitempty"`
	Progress  json.RawMessage `json:"progress,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type CreateJobRequest struct {
	Prompt  string `json:"prompt"`
	Breadth int    `json:"breadth"`
	Depth   int    `json:"depth"`
	Mode    string `json:"mode"`
}

func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if req.Breadth <= 0 {
		req.Breadth = s.DefaultBreadth
	}
	if req.Depth <= 0 {
		req.Depth = s.DefaultDepth
	}
	if req.Mode == "" {
		req.Mode = ModeReport
	}
	if req.Mode != ModeReport && req.Mode != ModeAnswer {
		return nil, fmt.Errorf("mode must be %q or %q", ModeReport, ModeAnswer)
	}

	configJSON, _ := json.Marshal(map[string]interface{}{
		"model":        s.Cfg.Model,
		"concurrency":  s.Cfg.Concurrency,
		"search_limit": s.Cfg.SearchLimit,
	})

	jobID := uuid.New()
	query := `
		INSERT INTO research_jobs (id, prompt, breadth, depth, mode, status, config)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		RETURNING id, prompt, breadth, depth, mode, status, created_at, updated_at
	`

	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query, jobID, req.Prompt, req.Breadth, req.Depth, req.Mode, configJSON).Scan(
		&job.ID, &job.Prompt, &job.Breadth, &job.Depth, &job.Mode, &job.Status, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	go s.runWorker(job.ID, req)

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `
		SELECT id, prompt, breadth, depth, mode, status, report, progress, created_at, updated_at
		FROM research_jobs
		WHERE id = $1
	`
	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.Prompt, &job.Breadth, &job.Depth, &job.Mode, &job.Status,
		&job.Report, &job.Progress, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context) ([]Job, error) {
	query := `
		SELECT id, prompt, breadth, depth, mode, status, report, progress, created_at, updated_at
		FROM research_jobs
		ORDER BY created_at DESC
		LIMIT 50
	`
	rows, err := s.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.Prompt, &job.Breadth, &job.Depth, &job.Mode, &job.Status,
			&job.Report, &job.Progress, &job.CreatedAt, &job.UpdatedAt); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

type SourceEntry struct {
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

func (s *Service) GetJobSources(ctx context.Context, jobID uuid.UUID) ([]SourceEntry, error) {
	query := `
		SELECT url, summary
		FROM research_sources
		WHERE job_id = $1
		ORDER BY position ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	defer rows.Close()

	var sources []SourceEntry
	for rows.Next() {
		var src SourceEntry
		if err := rows.Scan(&src.URL, &src.Summary); err != nil {
			continue
		}
		sources = append(sources, src)
	}
	return sources, nil
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (s *Service) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

func (s *Service) runWorker(jobID uuid.UUID, req CreateJobRequest) {
	ctx := context.Background()

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE research_jobs SET status = 'running', updated_at = NOW() WHERE id = $1", jobID)

	dbLogger := slog.New(NewDBLogHandler(s.DB, jobID))

	engine, err := research.NewEngine(ctx, s.Cfg)
	if err != nil {
		s.failJob(ctx, jobID, fmt.Sprintf("Failed to init engine: %v", err))
		return
	}

	engine.Logger = dbLogger

	engine.OnProgress = func(p research.Progress) {
		progressJSON, err := json.Marshal(p)
		if err != nil {
			dbLogger.Error("Failed to marshal progress", "error", err)
			return
		}

		_, err = s.DB.Pool.Exec(context.Background(),
			"UPDATE research_jobs SET progress = $2, updated_at = NOW() WHERE id = $1",
			jobID, progressJSON)
		if err != nil {
			dbLogger.Error("Failed to save progress to DB", "error", err)
		}
	}

	res, err := engine.Run(ctx, req.Prompt, req.Breadth, req.Depth)
	if err != nil {
		s.failJob(ctx, jobID, fmt.Sprintf("Research failed: %v", err))
		return
	}

	var output string
	if req.Mode == ModeAnswer {
		output, err = engine.WriteAnswer(ctx, req.Prompt, res)
	} else {
		output, err = engine.WriteReport(ctx, req.Prompt, res)
	}
	if err != nil {
		s.failJob(ctx, jobID, fmt.Sprintf("Failed to write %s: %v", req.Mode, err))
		return
	}

	for i, src := range res.Sources {
		_, err := s.DB.Pool.Exec(ctx,
			"INSERT INTO research_sources (job_id, url, summary, position) VALUES ($1, $2, $3, $4)",
			jobID, src.URL, src.Summary, i)
		if err != nil {
			dbLogger.Error("Failed to save source", "url", src.URL, "error", err)
		}
	}

	_, err = s.DB.Pool.Exec(ctx,
		"UPDATE research_jobs SET status = 'completed', report = $2, updated_at = NOW() WHERE id = $1",
		jobID, output)
	if err != nil {
		dbLogger.Error("Failed to save final report to DB", "error", err)
	}

	if s.Archive != nil {
		if err := s.Archive.IndexRun(ctx, jobID.String(), req.Prompt, res); err != nil {
			dbLogger.Error("Failed to index learnings", "error", err)
		}
	}
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, reason string) {
	dbLogger := slog.New(NewDBLogHandler(s.DB, jobID))
	dbLogger.Error(reason)

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE research_jobs SET status = 'failed', updated_at = NOW() WHERE id = $1", jobID)
}
