// Package agents defines the contracts between the orchestrator and its
// external collaborators: board scrapers, the resume tailor and the
// automation bots. Implementations live in subpackages and are selected at
// run configuration time.
package agents

import (
	"context"
	"errors"

	"github.com/spigell/jobpilot/internal/job"
)

var (
	// ErrSourceUnavailable marks a transient scraper failure. Fetch is
	// idempotent-safe and may be re-called.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceBlocked marks a detected anti-automation defense. Never
	// retried.
	ErrSourceBlocked = errors.New("source blocked")

	// ErrTailorUnavailable means tailoring cannot run (typically a missing
	// LLM credential). The pipeline degrades to the base resume instead of
	// failing the job.
	ErrTailorUnavailable = errors.New("tailor unavailable")
)

// Scraper produces a finite posting set for one query against one board.
type Scraper interface {
	Board() string
	Fetch(ctx context.Context, query job.Query) ([]*job.Posting, error)
}

// Tailor rewrites the base resume for one posting.
type Tailor interface {
	Rewrite(ctx context.Context, posting *job.Posting, profile *job.Profile) (*job.TailoredResume, error)
}

// ApplyRequest carries everything a bot needs for one application attempt.
// Credentials arrive already resolved; vault lookup is outside the pipeline.
type ApplyRequest struct {
	Posting     *job.Posting
	Resume      *job.TailoredResume
	Profile     *job.Profile
	Credentials map[string]string
	AutoSubmit  bool
}

// ApplyResult is the outcome of one automation attempt. An Outcome of
// OutcomeFailed is transient and retryable; OutcomeBlocked is not.
type ApplyResult struct {
	Outcome job.AutomationOutcome
	Notes   string
}

// Bot drives one applicant-tracking system.
type Bot interface {
	// CanHandle reports whether this bot understands the posting's
	// application flow, usually by URL.
	CanHandle(posting *job.Posting) bool
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResult, error)
}

// Registry holds the adapters configured for a run, keyed by board tag for
// scrapers and probed in order for bots.
type Registry struct {
	scrapers map[string]Scraper
	bots     []Bot
}

func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[string]Scraper)}
}

func (r *Registry) RegisterScraper(s Scraper) {
	r.scrapers[s.Board()] = s
}

func (r *Registry) RegisterBot(b Bot) {
	r.bots = append(r.bots, b)
}

// ScraperFor returns the scraper registered for a board tag.
func (r *Registry) ScraperFor(board string) (Scraper, bool) {
	s, ok := r.scrapers[board]
	return s, ok
}

// BotFor returns the first bot able to handle the posting, or nil when the
// posting needs a human.
func (r *Registry) BotFor(posting *job.Posting) Bot {
	for _, b := range r.bots {
		if b.CanHandle(posting) {
			return b
		}
	}
	return nil
}

func (r *Registry) Boards() []string {
	boards := make([]string, 0, len(r.scrapers))
	for board := range r.scrapers {
		boards = append(boards, board)
	}
	return boards
}
