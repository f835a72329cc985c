// Package orchestrator coordinates scrapers, the tailor and automation bots
// into one run: a bounded worker pool of per-job pipelines with per-board
// rate limiting and immediate ledger persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/jobpilot/internal/agents"
	"github.com/spigell/jobpilot/internal/fit"
	"github.com/spigell/jobpilot/internal/job"
	"github.com/spigell/jobpilot/internal/ledger"
	"github.com/spigell/jobpilot/internal/pipeline"
	"github.com/spigell/jobpilot/internal/vault"
)

const (
	defaultConcurrency  = 4
	defaultBoardSpacing = 2 * time.Second
	defaultTopMatches   = 5
)

// ErrRunFatal marks conditions that abort scheduling for the whole run, such
// as an unreachable credential vault. Job-scoped failures never carry it.
var ErrRunFatal = errors.New("run-fatal condition")

type Config struct {
	Boards       []string
	MaxJobs      int
	Concurrency  int
	AutoSubmit   bool
	Fit          fit.Config
	MaxAttempts  int
	BackoffBase  time.Duration
	BoardSpacing time.Duration
	TopMatches   int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.BoardSpacing <= 0 {
		c.BoardSpacing = defaultBoardSpacing
	}
	if c.TopMatches <= 0 {
		c.TopMatches = defaultTopMatches
	}
	c.Fit = c.Fit.WithDefaults()
	return c
}

type Deps struct {
	Registry *agents.Registry
	Tailor   agents.Tailor
	Ledger   ledger.Ledger
	Vault    vault.Resolver
	Logger   *zap.Logger
}

type Orchestrator struct {
	cfg     Config
	deps    Deps
	limiter *boardLimiter
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, errors.New("agent registry is required")
	}
	if deps.Tailor == nil {
		return nil, errors.New("tailor adapter is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	cfg = cfg.withDefaults()
	if len(cfg.Boards) == 0 {
		cfg.Boards = deps.Registry.Boards()
	}

	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		limiter: newBoardLimiter(cfg.BoardSpacing),
	}, nil
}

// Run executes one end-to-end run for the profile. The returned summary is
// always usable, even when the error is non-nil: run-fatal conditions and
// cancellation finalize whatever terminal records exist and flag the summary
// as partial.
func (o *Orchestrator) Run(ctx context.Context, profile *job.Profile) (*job.RunSummary, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRunFatal, err)
	}

	summary := job.NewRunSummary()
	log := o.deps.Logger.With(zap.String("run_id", summary.ID.String()))

	if err := o.deps.Ledger.StartRun(ctx, summary); err != nil {
		return nil, fmt.Errorf("%w: registering run: %v", ErrRunFatal, err)
	}

	credentials, err := o.resolveCredentials()
	if err != nil {
		// Nothing scheduled yet; finalize an empty partial summary so
		// the run is still visible in the ledger.
		summary.Partial = true
		summary.Finalize(o.cfg.TopMatches)
		o.finalize(ctx, summary, log)
		return summary, fmt.Errorf("%w: resolving credentials: %v", ErrRunFatal, err)
	}

	postings := o.discover(ctx, profile.Preferences, log)
	log.Info("discovery finished", zap.Int("postings", len(postings)))

	results := make(chan *job.JobRecord, len(postings))
	workers := newPool(o.cfg.Concurrency, len(postings))
	workers.start(ctx)

	pl := pipeline.New(
		pipeline.Config{
			MaxAttempts: o.cfg.MaxAttempts,
			BackoffBase: o.cfg.BackoffBase,
			AutoSubmit:  o.cfg.AutoSubmit,
		},
		pipeline.Deps{
			Tailor:      o.deps.Tailor,
			BotFor:      o.throttledBotFor,
			Profile:     profile,
			Credentials: credentials,
			Logger:      log,
		},
	)

	inFlight := 0
	for _, posting := range postings {
		rec := job.NewRecord(summary.ID, posting)

		assessment, err := fit.Score(posting, profile, o.cfg.Fit)
		if err != nil {
			// Postings are validated during discovery; anything left
			// is dropped as a single malformed job, never retried.
			log.Warn("dropping malformed posting", zap.String("posting", posting.Key()), zap.Error(err))
			continue
		}
		rec.Fit = assessment
		if err := rec.Advance(job.StateScored); err != nil {
			log.Error("scoring transition failed", zap.Error(err))
			continue
		}

		if !assessment.Accepted {
			// The primary cost-control mechanism: no tailoring, no
			// automation, not even a pool slot.
			rec.Advance(job.StateRejected)
			o.persist(ctx, rec, log)
			summary.Track(rec)
			log.Debug("posting rejected by fit score",
				zap.String("posting", posting.Key()),
				zap.Float64("score", assessment.Score),
			)
			continue
		}

		inFlight++
		workers.submit(func(ctx context.Context) {
			terminal := pl.Run(ctx, rec)
			o.persist(ctx, terminal, log)
			results <- terminal
		})
	}

	workers.close()
	workers.wait()
	close(results)

	for rec := range results {
		summary.Track(rec)
	}

	if ctx.Err() != nil {
		summary.Partial = true
	}
	summary.Finalize(o.cfg.TopMatches)
	o.finalize(ctx, summary, log)

	log.Info("run finished",
		zap.Int("total", summary.Total()),
		zap.Int("in_flight", inFlight),
		zap.Bool("partial", summary.Partial),
	)

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run cancelled: %w", err)
	}
	return summary, nil
}

// discover fans out over the configured boards, respecting the per-board
// rate limit and retrying transient source failures. One board failing never
// fails the run.
func (o *Orchestrator) discover(ctx context.Context, query job.Query, log *zap.Logger) []*job.Posting {
	var (
		mu      sync.Mutex
		fetched []*job.Posting
	)
	g, gctx := errgroup.WithContext(ctx)

	for _, board := range o.cfg.Boards {
		scraper, ok := o.deps.Registry.ScraperFor(board)
		if !ok {
			log.Warn("no scraper registered for board", zap.String("board", board))
			continue
		}

		g.Go(func() error {
			postings, err := o.fetchWithRetry(gctx, scraper, query, log)
			if err != nil {
				log.Warn("board discovery failed",
					zap.String("board", board),
					zap.Error(err),
				)
				return nil
			}

			mu.Lock()
			fetched = append(fetched, postings...)
			mu.Unlock()

			log.Info("board discovery finished",
				zap.String("board", board),
				zap.Int("postings", len(postings)),
			)
			return nil
		})
	}
	g.Wait()

	// Dedupe across boards, drop malformed postings, cap at max jobs.
	seen := make(map[string]bool)
	var postings []*job.Posting
	for _, posting := range fetched {
		if err := posting.Validate(); err != nil {
			log.Debug("dropping invalid posting", zap.Error(err))
			continue
		}
		key := posting.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		postings = append(postings, posting)
		if o.cfg.MaxJobs > 0 && len(postings) >= o.cfg.MaxJobs {
			break
		}
	}
	return postings
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, scraper agents.Scraper, query job.Query, log *zap.Logger) ([]*job.Posting, error) {
	maxAttempts := o.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoffBase := o.cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := o.limiter.wait(ctx, scraper.Board()); err != nil {
			return nil, err
		}

		postings, err := scraper.Fetch(ctx, query)
		if err == nil {
			return postings, nil
		}
		lastErr = err

		if !errors.Is(err, agents.ErrSourceUnavailable) {
			// Blocked or unknown: re-calling will not help.
			return nil, err
		}

		log.Warn("source unavailable, retrying",
			zap.String("board", scraper.Board()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

// throttledBotFor wraps the registry lookup so every automation attempt
// waits for the posting's board slot first.
func (o *Orchestrator) throttledBotFor(posting *job.Posting) agents.Bot {
	bot := o.deps.Registry.BotFor(posting)
	if bot == nil {
		return nil
	}
	return &throttledBot{bot: bot, limiter: o.limiter}
}

type throttledBot struct {
	bot     agents.Bot
	limiter *boardLimiter
}

func (t *throttledBot) CanHandle(posting *job.Posting) bool {
	return t.bot.CanHandle(posting)
}

func (t *throttledBot) Apply(ctx context.Context, req *agents.ApplyRequest) (*agents.ApplyResult, error) {
	if err := t.limiter.wait(ctx, req.Posting.Board); err != nil {
		return nil, err
	}
	return t.bot.Apply(ctx, req)
}

// persist writes one terminal record, fail-closed: a ledger error is logged
// loudly but the record still counts into the summary.
func (o *Orchestrator) persist(ctx context.Context, rec *job.JobRecord, log *zap.Logger) {
	if err := o.deps.Ledger.AppendRecord(ctx, rec); err != nil {
		log.Error("persisting terminal record failed",
			zap.String("job_id", rec.ID.String()),
			zap.String("state", string(rec.State)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) finalize(ctx context.Context, summary *job.RunSummary, log *zap.Logger) {
	if err := o.deps.Ledger.FinalizeRun(ctx, summary); err != nil {
		log.Error("finalizing run failed", zap.Error(err))
	}
}

// resolveCredentials reads per-board credential material up front. Missing
// keys are fine (boards may need none); a broken vault is run-fatal.
func (o *Orchestrator) resolveCredentials() (map[string]string, error) {
	credentials := make(map[string]string)
	if o.deps.Vault == nil {
		return credentials, nil
	}

	for _, board := range o.cfg.Boards {
		key := "board/" + board
		value, err := o.deps.Vault.Resolve(key)
		if err != nil {
			if errors.Is(err, vault.ErrNotFound) {
				continue
			}
			return nil, err
		}
		credentials[key] = value
	}
	return credentials, nil
}
