package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/spigell/jobpilot/internal/job"
)

// Memory keeps the ledger in process. Used by tests and by runs configured
// without persistence; terminal records then only live in the run summary.
type Memory struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*job.RunSummary
	records  map[uuid.UUID][]*job.JobRecord
	feedback map[uuid.UUID][]*job.FeedbackEntry
}

func NewMemory() *Memory {
	return &Memory{
		runs:     make(map[uuid.UUID]*job.RunSummary),
		records:  make(map[uuid.UUID][]*job.JobRecord),
		feedback: make(map[uuid.UUID][]*job.FeedbackEntry),
	}
}

func (m *Memory) StartRun(_ context.Context, summary *job.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[summary.ID] = summary
	return nil
}

func (m *Memory) AppendRecord(_ context.Context, rec *job.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.RunID] = append(m.records[rec.RunID], rec)
	return nil
}

func (m *Memory) FinalizeRun(_ context.Context, summary *job.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[summary.ID] = summary
	return nil
}

func (m *Memory) AppendFeedback(_ context.Context, entry *job.FeedbackEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback[entry.RunID] = append(m.feedback[entry.RunID], entry)
	return nil
}

func (m *Memory) RecordsByRun(_ context.Context, runID uuid.UUID) ([]*job.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]*job.JobRecord, len(m.records[runID]))
	copy(records, m.records[runID])
	return records, nil
}

func (m *Memory) FeedbackByRun(_ context.Context, runID uuid.UUID) ([]*job.FeedbackEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*job.FeedbackEntry, len(m.feedback[runID]))
	copy(entries, m.feedback[runID])
	return entries, nil
}

func (m *Memory) RecentRuns(_ context.Context, limit int) ([]*job.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]*job.RunSummary, 0, len(m.runs))
	for _, summary := range m.runs {
		runs = append(runs, summary)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *Memory) Close() {}

// RecordCount is a test helper.
func (m *Memory) RecordCount(runID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[runID])
}

var _ Ledger = (*Memory)(nil)
