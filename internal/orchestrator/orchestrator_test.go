package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spigell/jobpilot/internal/agents"
	"github.com/spigell/jobpilot/internal/fit"
	"github.com/spigell/jobpilot/internal/job"
	"github.com/spigell/jobpilot/internal/ledger"
	"github.com/spigell/jobpilot/internal/vault"
)

type stubScraper struct {
	board    string
	postings []*job.Posting
	failures int
	blocked  bool

	mu    sync.Mutex
	calls int
}

func (s *stubScraper) Board() string { return s.board }

func (s *stubScraper) Fetch(_ context.Context, _ job.Query) ([]*job.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.blocked {
		return nil, fmt.Errorf("%w: automation detected", agents.ErrSourceBlocked)
	}
	if s.calls <= s.failures {
		return nil, fmt.Errorf("%w: http 503", agents.ErrSourceUnavailable)
	}
	return s.postings, nil
}

type countingTailor struct {
	calls atomic.Int32
}

func (t *countingTailor) Rewrite(_ context.Context, posting *job.Posting, _ *job.Profile) (*job.TailoredResume, error) {
	t.calls.Add(1)
	return &job.TailoredResume{Content: "tailored for " + posting.Title}, nil
}

// contractBot mimics the automation contract: without auto-submit no job is
// ever submitted.
type contractBot struct {
	delay time.Duration

	calls   atomic.Int32
	current atomic.Int32
	peak    atomic.Int32
}

func (b *contractBot) CanHandle(*job.Posting) bool { return true }

func (b *contractBot) Apply(ctx context.Context, req *agents.ApplyRequest) (*agents.ApplyResult, error) {
	b.calls.Add(1)

	cur := b.current.Add(1)
	for {
		peak := b.peak.Load()
		if cur <= peak || b.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	defer b.current.Add(-1)

	if b.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.delay):
		}
	}

	if req.AutoSubmit {
		return &agents.ApplyResult{Outcome: job.OutcomeSubmitted, Notes: "submitted"}, nil
	}
	return &agents.ApplyResult{Outcome: job.OutcomeNeedsReview, Notes: "form populated, review and submit manually"}, nil
}

func testProfile() *job.Profile {
	return &job.Profile{
		Contact:    job.ContactInfo{FullName: "Jane Doe", Email: "jane@example.com"},
		BaseResume: job.Resume{Content: "golang developer building golang services"},
	}
}

// keywordOnly makes scores predictable: pure token overlap against the
// resume, normalized by posting length.
func keywordOnly(threshold float64) fit.Config {
	return fit.Config{Threshold: threshold, Weights: fit.Weights{Keywords: 1}}
}

func posting(board, id, title, description string) *job.Posting {
	return &job.Posting{Board: board, ExternalID: id, Title: title, Company: "Acme", Description: description}
}

func newTestOrchestrator(t *testing.T, cfg Config, deps Deps) *Orchestrator {
	t.Helper()
	if cfg.BoardSpacing == 0 {
		cfg.BoardSpacing = time.Nanosecond
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	o, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("building orchestrator: %v", err)
	}
	return o
}

func TestRunEndToEnd(t *testing.T) {
	// Overlap scores: 1.0, 0.0 and 0.5 against the test resume.
	scraper := &stubScraper{board: "remoteok", postings: []*job.Posting{
		posting("remoteok", "1", "Golang Developer", "golang services"),
		posting("remoteok", "2", "Dental Hygienist", "teeth cleaning clinic"),
		posting("remoteok", "3", "Golang Engineer", "golang kubernetes"),
	}}
	registry := agents.NewRegistry()
	registry.RegisterScraper(scraper)
	bot := &contractBot{}
	registry.RegisterBot(bot)

	tailor := &countingTailor{}
	mem := ledger.NewMemory()

	o := newTestOrchestrator(t, Config{
		Boards:  []string{"remoteok"},
		MaxJobs: 3,
		Fit:     keywordOnly(0.5),
	}, Deps{Registry: registry, Tailor: tailor, Ledger: mem})

	summary, err := o.Run(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Counts[job.StateRejected] != 1 {
		t.Fatalf("expected 1 rejected, got %v", summary.Counts)
	}
	if summary.Counts[job.StateNeedsReview] != 2 {
		t.Fatalf("auto_submit off must end in needs_review, got %v", summary.Counts)
	}
	if summary.Total() != 3 {
		t.Fatalf("expected 3 tracked jobs, got %d", summary.Total())
	}
	if summary.Partial {
		t.Fatal("complete run must not be partial")
	}

	// Rejected postings cost nothing: adapters only ran for accepted jobs.
	if got := tailor.calls.Load(); got != 2 {
		t.Fatalf("expected 2 tailor calls, got %d", got)
	}
	if got := bot.calls.Load(); got != 2 {
		t.Fatalf("expected 2 bot calls, got %d", got)
	}

	// Every terminal record is in the ledger and matches its final state.
	records, err := mem.RecordsByRun(context.Background(), summary.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 persisted records, got %d", len(records))
	}
	for _, rec := range records {
		if !rec.Terminated() {
			t.Fatalf("persisted record %s is not terminal: %s", rec.ID, rec.State)
		}
	}

	if len(summary.TopMatches) != 2 || summary.TopMatches[0].Score < summary.TopMatches[1].Score {
		t.Fatalf("unexpected top matches: %v", summary.TopMatches)
	}
}

func TestConcurrencyBound(t *testing.T) {
	var postings []*job.Posting
	for i := 0; i < 8; i++ {
		postings = append(postings, posting("remoteok", fmt.Sprintf("p%d", i), "Golang Developer", "golang services"))
	}
	scraper := &stubScraper{board: "remoteok", postings: postings}
	registry := agents.NewRegistry()
	registry.RegisterScraper(scraper)
	bot := &contractBot{delay: 30 * time.Millisecond}
	registry.RegisterBot(bot)

	o := newTestOrchestrator(t, Config{
		Boards:      []string{"remoteok"},
		Concurrency: 2,
		Fit:         keywordOnly(0.5),
	}, Deps{Registry: registry, Tailor: &countingTailor{}, Ledger: ledger.NewMemory()})

	summary, err := o.Run(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Total() != 8 {
		t.Fatalf("expected 8 jobs, got %d", summary.Total())
	}
	if peak := bot.peak.Load(); peak > 2 {
		t.Fatalf("concurrency bound violated: %d pipelines in flight", peak)
	}
}

func TestDiscoveryRetriesTransientFailures(t *testing.T) {
	scraper := &stubScraper{
		board:    "remoteok",
		failures: 2,
		postings: []*job.Posting{posting("remoteok", "1", "Golang Developer", "golang services")},
	}
	registry := agents.NewRegistry()
	registry.RegisterScraper(scraper)

	o := newTestOrchestrator(t, Config{
		Boards:      []string{"remoteok"},
		MaxAttempts: 3,
		Fit:         keywordOnly(0.5),
	}, Deps{Registry: registry, Tailor: &countingTailor{}, Ledger: ledger.NewMemory()})

	summary, err := o.Run(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Total() != 1 {
		t.Fatalf("expected the posting after retries, got %d jobs", summary.Total())
	}
	if scraper.calls != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", scraper.calls)
	}
}

func TestBlockedSourceIsNotRetried(t *testing.T) {
	scraper := &stubScraper{board: "remoteok", blocked: true}
	registry := agents.NewRegistry()
	registry.RegisterScraper(scraper)

	o := newTestOrchestrator(t, Config{
		Boards: []string{"remoteok"},
		Fit:    keywordOnly(0.5),
	}, Deps{Registry: registry, Tailor: &countingTailor{}, Ledger: ledger.NewMemory()})

	summary, err := o.Run(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("a blocked board must not fail the run: %v", err)
	}
	if summary.Total() != 0 {
		t.Fatalf("expected no jobs, got %d", summary.Total())
	}
	if scraper.calls != 1 {
		t.Fatalf("blocked source must not be re-called, got %d calls", scraper.calls)
	}
}

func TestDedupeAndMaxJobs(t *testing.T) {
	shared := posting("remoteok", "dup", "Golang Developer", "golang services")
	first := &stubScraper{board: "remoteok", postings: []*job.Posting{
		shared,
		posting("remoteok", "dup", "Golang Developer", "golang services"),
		posting("remoteok", "a", "Golang Developer", "golang services"),
		posting("remoteok", "b", "Golang Developer", "golang services"),
	}}
	registry := agents.NewRegistry()
	registry.RegisterScraper(first)

	o := newTestOrchestrator(t, Config{
		Boards:  []string{"remoteok"},
		MaxJobs: 2,
		Fit:     keywordOnly(0.5),
	}, Deps{Registry: registry, Tailor: &countingTailor{}, Ledger: ledger.NewMemory()})

	summary, err := o.Run(context.Background(), testProfile())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total() != 2 {
		t.Fatalf("expected max 2 jobs after dedupe, got %d", summary.Total())
	}
}

type panickingBot struct{}

func (panickingBot) CanHandle(*job.Posting) bool { return true }

func (panickingBot) Apply(context.Context, *agents.ApplyRequest) (*agents.ApplyResult, error) {
	panic("browser session lost")
}

func TestPanickingBotDoesNotAbortRun(t *testing.T) {
	registry := agents.NewRegistry()
	registry.RegisterScraper(&stubScraper{board: "remoteok", postings: []*job.Posting{
		posting("remoteok", "1", "Golang Developer", "golang services"),
		posting("remoteok", "2", "Golang Engineer", "golang kubernetes"),
	}})
	registry.RegisterBot(panickingBot{})
	mem := ledger.NewMemory()

	o := newTestOrchestrator(t, Config{
		Boards: []string{"remoteok"},
		Fit:    keywordOnly(0.5),
	}, Deps{Registry: registry, Tailor: &countingTailor{}, Ledger: mem})

	summary, err := o.Run(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("a crashing bot must not fail the run: %v", err)
	}

	if summary.Counts[job.StateFailedPermanent] != 2 {
		t.Fatalf("expected 2 failed_permanent jobs, got %v", summary.Counts)
	}

	records, err := mem.RecordsByRun(context.Background(), summary.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 persisted records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.State != job.StateFailedPermanent {
			t.Fatalf("record %s ended in %s", rec.ID, rec.State)
		}
		if !strings.Contains(rec.Error, "panic") {
			t.Fatalf("panic detail lost on record %s: %q", rec.ID, rec.Error)
		}
	}
}

type brokenVault struct{}

func (brokenVault) Resolve(string) (string, error) {
	return "", errors.New("vault backend unreachable")
}

func TestBrokenVaultIsRunFatal(t *testing.T) {
	registry := agents.NewRegistry()
	registry.RegisterScraper(&stubScraper{board: "remoteok"})
	mem := ledger.NewMemory()

	o := newTestOrchestrator(t, Config{
		Boards: []string{"remoteok"},
		Fit:    keywordOnly(0.5),
	}, Deps{Registry: registry, Tailor: &countingTailor{}, Ledger: mem, Vault: brokenVault{}})

	summary, err := o.Run(context.Background(), testProfile())
	if !errors.Is(err, ErrRunFatal) {
		t.Fatalf("expected ErrRunFatal, got %v", err)
	}
	if summary == nil || !summary.Partial {
		t.Fatal("fatal run must still return a finalized partial summary")
	}
	if summary.EndedAt.IsZero() {
		t.Fatal("fatal run summary must be finalized")
	}
}

func TestMissingCredentialsAreTolerated(t *testing.T) {
	registry := agents.NewRegistry()
	registry.RegisterScraper(&stubScraper{board: "remoteok", postings: []*job.Posting{
		posting("remoteok", "1", "Golang Developer", "golang services"),
	}})
	registry.RegisterBot(&contractBot{})

	v := vault.NewFile(t.TempDir() + "/creds.json")

	o := newTestOrchestrator(t, Config{
		Boards: []string{"remoteok"},
		Fit:    keywordOnly(0.5),
	}, Deps{Registry: registry, Tailor: &countingTailor{}, Ledger: ledger.NewMemory(), Vault: v})

	if _, err := o.Run(context.Background(), testProfile()); err != nil {
		t.Fatalf("missing credentials must not be fatal: %v", err)
	}
}

func TestCancelledRunIsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	registry := agents.NewRegistry()
	registry.RegisterScraper(&stubScraper{board: "remoteok", postings: []*job.Posting{
		posting("remoteok", "1", "Golang Developer", "golang services"),
	}})

	o := newTestOrchestrator(t, Config{
		Boards: []string{"remoteok"},
		Fit:    keywordOnly(0.5),
	}, Deps{Registry: registry, Tailor: &countingTailor{}, Ledger: ledger.NewMemory()})

	summary, err := o.Run(ctx, testProfile())
	if err == nil {
		t.Fatal("cancelled run must report an error")
	}
	if summary == nil || !summary.Partial {
		t.Fatal("cancelled run must return a partial summary")
	}
}

func TestBoardLimiterSpacing(t *testing.T) {
	limiter := newBoardLimiter(20 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.wait(context.Background(), "remoteok"); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("three calls must span at least two spacings, took %s", elapsed)
	}

	// Different boards do not share a gate.
	start = time.Now()
	if err := limiter.wait(context.Background(), "linkedin"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Fatalf("foreign board must not wait, took %s", elapsed)
	}
}

func TestBoardLimiterHonorsCancellation(t *testing.T) {
	limiter := newBoardLimiter(time.Hour)
	if err := limiter.wait(context.Background(), "remoteok"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.wait(ctx, "remoteok"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
