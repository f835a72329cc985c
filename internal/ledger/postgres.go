package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spigell/jobpilot/internal/job"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	counts JSONB,
	top_matches JSONB,
	partial BOOLEAN NOT NULL DEFAULT FALSE,
	result_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS applications (
	id UUID PRIMARY KEY,
	run_id UUID NOT NULL REFERENCES runs(id),
	board TEXT,
	title TEXT,
	company TEXT,
	state TEXT NOT NULL,
	fit_score DOUBLE PRECISION,
	retries INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	detail JSONB,
	terminated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS feedback (
	run_id UUID NOT NULL,
	job_id UUID,
	outcome TEXT NOT NULL,
	note TEXT,
	received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS applications_run_idx ON applications (run_id);
CREATE INDEX IF NOT EXISTS feedback_run_idx ON feedback (run_id);
`

// Postgres is the production ledger backed by a pgx connection pool. Every
// write commits individually: the durability contract is per record, not per
// run.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to ledger database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging ledger database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring ledger schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) StartRun(ctx context.Context, summary *job.RunSummary) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO runs (id, started_at) VALUES ($1, $2)`,
		summary.ID, summary.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("registering run %s: %w", summary.ID, err)
	}
	return nil
}

func (p *Postgres) AppendRecord(ctx context.Context, rec *job.JobRecord) error {
	detail, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling job record: %w", err)
	}

	var fitScore *float64
	if rec.Fit != nil {
		fitScore = &rec.Fit.Score
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO applications (id, run_id, board, title, company, state, fit_score, retries, error, detail, terminated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.RunID, rec.Posting.Board, rec.Posting.Title, rec.Posting.Company,
		string(rec.State), fitScore, rec.Retries, nullable(rec.Error), detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending record for job %s: %w", rec.ID, err)
	}
	return nil
}

func (p *Postgres) FinalizeRun(ctx context.Context, summary *job.RunSummary) error {
	counts, err := json.Marshal(summary.Counts)
	if err != nil {
		return fmt.Errorf("marshaling counts: %w", err)
	}
	matches, err := json.Marshal(summary.TopMatches)
	if err != nil {
		return fmt.Errorf("marshaling top matches: %w", err)
	}

	_, err = p.pool.Exec(ctx,
		`UPDATE runs SET ended_at = $1, counts = $2, top_matches = $3, partial = $4, result_count = $5 WHERE id = $6`,
		summary.EndedAt, counts, matches, summary.Partial, summary.Total(), summary.ID,
	)
	if err != nil {
		return fmt.Errorf("finalizing run %s: %w", summary.ID, err)
	}
	return nil
}

func (p *Postgres) AppendFeedback(ctx context.Context, entry *job.FeedbackEntry) error {
	var jobID any
	if entry.JobID != uuid.Nil {
		jobID = entry.JobID
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO feedback (run_id, job_id, outcome, note, received_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.RunID, jobID, entry.Outcome, nullable(entry.Note), entry.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("appending feedback for run %s: %w", entry.RunID, err)
	}
	return nil
}

func (p *Postgres) RecordsByRun(ctx context.Context, runID uuid.UUID) ([]*job.JobRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT detail FROM applications WHERE run_id = $1 ORDER BY terminated_at`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying records for run %s: %w", runID, err)
	}
	defer rows.Close()

	var records []*job.JobRecord
	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			return nil, err
		}
		var rec job.JobRecord
		if err := json.Unmarshal(detail, &rec); err != nil {
			return nil, fmt.Errorf("decoding job record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (p *Postgres) FeedbackByRun(ctx context.Context, runID uuid.UUID) ([]*job.FeedbackEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT run_id, COALESCE(job_id, '00000000-0000-0000-0000-000000000000'::uuid), outcome, COALESCE(note, ''), received_at
		 FROM feedback WHERE run_id = $1 ORDER BY received_at DESC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying feedback for run %s: %w", runID, err)
	}
	defer rows.Close()

	var entries []*job.FeedbackEntry
	for rows.Next() {
		var entry job.FeedbackEntry
		if err := rows.Scan(&entry.RunID, &entry.JobID, &entry.Outcome, &entry.Note, &entry.ReceivedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (p *Postgres) RecentRuns(ctx context.Context, limit int) ([]*job.RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id, started_at, ended_at, counts, top_matches, partial FROM runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent runs: %w", err)
	}
	defer rows.Close()

	var runs []*job.RunSummary
	for rows.Next() {
		summary := &job.RunSummary{Counts: make(map[job.State]int)}
		var endedAt *time.Time
		var counts, matches []byte
		if err := rows.Scan(&summary.ID, &summary.StartedAt, &endedAt, &counts, &matches, &summary.Partial); err != nil {
			return nil, err
		}
		if endedAt != nil {
			summary.EndedAt = *endedAt
		}
		if len(counts) > 0 {
			if err := json.Unmarshal(counts, &summary.Counts); err != nil {
				return nil, fmt.Errorf("decoding run counts: %w", err)
			}
		}
		if len(matches) > 0 {
			if err := json.Unmarshal(matches, &summary.TopMatches); err != nil {
				return nil, fmt.Errorf("decoding top matches: %w", err)
			}
		}
		runs = append(runs, summary)
	}
	return runs, rows.Err()
}

// Run returns one run summary by id.
func (p *Postgres) Run(ctx context.Context, runID uuid.UUID) (*job.RunSummary, error) {
	summary := &job.RunSummary{Counts: make(map[job.State]int)}
	var endedAt *time.Time
	var counts, matches []byte

	err := p.pool.QueryRow(ctx,
		`SELECT id, started_at, ended_at, counts, top_matches, partial FROM runs WHERE id = $1`,
		runID,
	).Scan(&summary.ID, &summary.StartedAt, &endedAt, &counts, &matches, &summary.Partial)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNoRun, runID)
		}
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}

	if endedAt != nil {
		summary.EndedAt = *endedAt
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &summary.Counts); err != nil {
			return nil, fmt.Errorf("decoding run counts: %w", err)
		}
	}
	if len(matches) > 0 {
		if err := json.Unmarshal(matches, &summary.TopMatches); err != nil {
			return nil, fmt.Errorf("decoding top matches: %w", err)
		}
	}
	return summary, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ Ledger = (*Postgres)(nil)

	// ErrNoRun reports a run id the ledger has never seen.
	ErrNoRun = errors.New("run not found")
)
