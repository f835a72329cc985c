// Package ledger is the append-only record of application attempts and
// recruiter feedback. Terminal job records are written as soon as they
// terminate so partial progress survives a mid-run crash.
package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/spigell/jobpilot/internal/job"
)

// Ledger is the persistence contract consumed by the orchestrator and the
// CLI. Appends are keyed by run id and job id; records are never updated
// after their terminal write.
type Ledger interface {
	// StartRun registers a run before any pipeline work is scheduled.
	StartRun(ctx context.Context, summary *job.RunSummary) error

	// AppendRecord persists one terminal job record.
	AppendRecord(ctx context.Context, rec *job.JobRecord) error

	// FinalizeRun stamps the run's end time, counts and partial flag.
	FinalizeRun(ctx context.Context, summary *job.RunSummary) error

	AppendFeedback(ctx context.Context, entry *job.FeedbackEntry) error

	RecordsByRun(ctx context.Context, runID uuid.UUID) ([]*job.JobRecord, error)
	FeedbackByRun(ctx context.Context, runID uuid.UUID) ([]*job.FeedbackEntry, error)
	RecentRuns(ctx context.Context, limit int) ([]*job.RunSummary, error)

	Close()
}
