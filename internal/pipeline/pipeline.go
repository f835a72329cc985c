// Package pipeline drives one JobRecord from scoring acceptance to a
// terminal state. A pipeline owns its record exclusively; concurrency lives
// one level up, in the orchestrator's worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/agents"
	"github.com/spigell/jobpilot/internal/job"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Second
)

type Config struct {
	// MaxAttempts bounds automation attempts per job. A transient failure
	// re-enters Automating until the budget is exhausted.
	MaxAttempts int
	// BackoffBase is doubled per retry: base, 2*base, 4*base, ...
	BackoffBase time.Duration
	AutoSubmit  bool
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	return c
}

type Deps struct {
	Tailor      agents.Tailor
	BotFor      func(*job.Posting) agents.Bot
	Profile     *job.Profile
	Credentials map[string]string
	Logger      *zap.Logger

	// After is the backoff clock. Tests swap it to avoid sleeping.
	After func(time.Duration) <-chan time.Time
}

type Pipeline struct {
	cfg  Config
	deps Deps
}

func New(cfg Config, deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.After == nil {
		deps.After = time.After
	}
	return &Pipeline{cfg: cfg.withDefaults(), deps: deps}
}

// Run takes a record in Scored(accepted) through tailoring and automation to
// a terminal state. It never returns a non-terminal record and never lets a
// panic escape: a unit's crash must not take down the orchestrator's other
// units. The return is named so the recover path still hands the terminated
// record back instead of a nil.
func (p *Pipeline) Run(ctx context.Context, rec *job.JobRecord) (out *job.JobRecord) {
	defer func() {
		if r := recover(); r != nil {
			p.deps.Logger.Error("pipeline panic",
				zap.String("job_id", rec.ID.String()),
				zap.Any("panic", r),
			)
			p.failPermanent(rec, fmt.Sprintf("panic: %v", r))
			out = rec
		}
	}()

	if rec.State != job.StateScored || rec.Fit == nil || !rec.Fit.Accepted {
		p.failPermanent(rec, fmt.Sprintf("pipeline started with unusable record in state %s", rec.State))
		return rec
	}

	if !p.tailor(ctx, rec) {
		return rec
	}
	p.automate(ctx, rec)
	return rec
}

// tailor runs the rewrite step. TailorUnavailable degrades to the base
// resume; the job still proceeds. Returns false when the record terminated.
func (p *Pipeline) tailor(ctx context.Context, rec *job.JobRecord) bool {
	if err := p.advance(rec, job.StateTailoring); err != nil {
		return false
	}

	if err := ctx.Err(); err != nil {
		p.cancel(rec, err)
		return false
	}

	resume, err := p.deps.Tailor.Rewrite(ctx, rec.Posting, p.deps.Profile)
	switch {
	case err == nil:
		rec.Resume = resume
	case errors.Is(err, agents.ErrTailorUnavailable):
		p.deps.Logger.Warn("tailor unavailable, using base resume",
			zap.String("job_id", rec.ID.String()),
			zap.Error(err),
		)
		rec.TailoringSkipped = true
		rec.Resume = &job.TailoredResume{
			Content:   p.deps.Profile.BaseResume.Content,
			CreatedAt: time.Now().UTC(),
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		p.cancel(rec, err)
		return false
	default:
		p.failPermanent(rec, fmt.Sprintf("tailoring: %v", err))
		return false
	}

	return p.advance(rec, job.StateTailored) == nil
}

// automate loops automation attempts until a terminal outcome or retry
// exhaustion.
func (p *Pipeline) automate(ctx context.Context, rec *job.JobRecord) {
	bot := p.deps.BotFor(rec.Posting)

	for {
		if err := p.advance(rec, job.StateAutomating); err != nil {
			return
		}

		if err := ctx.Err(); err != nil {
			p.cancel(rec, err)
			return
		}

		if bot == nil {
			rec.Outcome = job.OutcomeNeedsReview
			rec.Notes = "no automation bot understands this posting; apply manually"
			p.advance(rec, job.StateNeedsReview)
			return
		}

		result, err := bot.Apply(ctx, &agents.ApplyRequest{
			Posting:     rec.Posting,
			Resume:      rec.Resume,
			Profile:     p.deps.Profile,
			Credentials: p.deps.Credentials,
			AutoSubmit:  p.cfg.AutoSubmit,
		})

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				p.cancel(rec, err)
				return
			}
			if errors.Is(err, agents.ErrSourceBlocked) {
				rec.Outcome = job.OutcomeBlocked
				rec.Error = err.Error()
				p.advance(rec, job.StateBlocked)
				return
			}
			// Anything else from the bot is treated as a transient
			// attempt failure.
			result = &agents.ApplyResult{Outcome: job.OutcomeFailed, Notes: err.Error()}
		}

		rec.Outcome = result.Outcome
		rec.Notes = result.Notes

		switch result.Outcome {
		case job.OutcomeSubmitted:
			p.advance(rec, job.StateSubmitted)
			return
		case job.OutcomeNeedsReview:
			p.advance(rec, job.StateNeedsReview)
			return
		case job.OutcomeBlocked:
			p.advance(rec, job.StateBlocked)
			return
		case job.OutcomeFailed:
			rec.Retries++
			if err := p.advance(rec, job.StateFailed); err != nil {
				return
			}
			if rec.Retries >= p.cfg.MaxAttempts {
				p.failPermanent(rec, fmt.Sprintf("automation failed after %d attempts: %s", rec.Retries, result.Notes))
				return
			}

			backoff := p.cfg.BackoffBase << (rec.Retries - 1)
			p.deps.Logger.Warn("automation attempt failed, retrying",
				zap.String("job_id", rec.ID.String()),
				zap.Int("attempt", rec.Retries),
				zap.Duration("backoff", backoff),
				zap.String("notes", result.Notes),
			)
			select {
			case <-ctx.Done():
				p.cancel(rec, ctx.Err())
				return
			case <-p.deps.After(backoff):
			}
		default:
			p.failPermanent(rec, fmt.Sprintf("unknown automation outcome %q", result.Outcome))
			return
		}
	}
}

func (p *Pipeline) advance(rec *job.JobRecord, next job.State) error {
	if err := rec.Advance(next); err != nil {
		// An illegal transition is a programming error; land the record
		// on a terminal state instead of leaving it dangling.
		p.failPermanent(rec, err.Error())
		return err
	}
	p.deps.Logger.Debug("job transition",
		zap.String("job_id", rec.ID.String()),
		zap.String("state", string(next)),
	)
	return nil
}

func (p *Pipeline) cancel(rec *job.JobRecord, cause error) {
	p.failPermanent(rec, fmt.Sprintf("cancelled: %v", cause))
}

func (p *Pipeline) failPermanent(rec *job.JobRecord, detail string) {
	if rec.Terminated() {
		return
	}
	rec.Error = detail
	if err := rec.Advance(job.StateFailedPermanent); err != nil {
		// Unreachable: failed_permanent is legal from any non-terminal
		// state.
		rec.State = job.StateFailedPermanent
	}
}
