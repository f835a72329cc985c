package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spigell/jobpilot/internal/job"
)

func TestHistoryAppendAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "history.jsonl")
	history := NewHistory(path)

	first := job.NewRunSummary()
	second := job.NewRunSummary()

	if err := history.Append(first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := history.Append(second); err != nil {
		t.Fatalf("append: %v", err)
	}

	runs, err := history.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != second.ID {
		t.Fatal("expected newest run first")
	}

	runs, err = history.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != second.ID {
		t.Fatalf("limit not applied: %v", runs)
	}
}

func TestHistoryRecentMissingFile(t *testing.T) {
	history := NewHistory(filepath.Join(t.TempDir(), "missing.jsonl"))
	runs, err := history.Recent(5)
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if runs != nil {
		t.Fatalf("expected no runs, got %v", runs)
	}
}

func TestHistorySkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	history := NewHistory(path)

	summary := job.NewRunSummary()
	if err := history.Append(summary); err != nil {
		t.Fatal(err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := file.WriteString(`{"id": trunc`); err != nil {
		t.Fatal(err)
	}
	file.Close()

	runs, err := history.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != summary.ID {
		t.Fatalf("expected the valid run only, got %d", len(runs))
	}
}
