package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spigell/jobpilot/internal/job"
)

// History appends finished run summaries to a local JSONL file, one summary
// per line. It complements the database ledger with a grep-able trail and
// powers the history command when no database is configured.
type History struct {
	path string
	mu   sync.Mutex
}

func NewHistory(path string) *History {
	return &History{path: path}
}

func (h *History) Append(summary *job.RunSummary) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if dir := filepath.Dir(h.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating history directory: %w", err)
		}
	}

	file, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening history file: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling run summary: %w", err)
	}
	line = append(line, '\n')

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("appending run summary: %w", err)
	}
	return nil
}

// Recent returns the last limit summaries, newest first. Lines that fail to
// parse are skipped; a partially written trailing line must not poison the
// whole history.
func (h *History) Recent(limit int) ([]*job.RunSummary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	file, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening history file: %w", err)
	}
	defer file.Close()

	var runs []*job.RunSummary
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var summary job.RunSummary
		if err := json.Unmarshal(scanner.Bytes(), &summary); err != nil {
			continue
		}
		runs = append(runs, &summary)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading history file: %w", err)
	}

	// Newest last on disk, newest first for callers.
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
