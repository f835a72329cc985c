package job

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the position of a JobRecord in its lifecycle. Transitions move
// forward only; the single exception is the automation retry loop
// (Failed -> Automating).
type State string

const (
	StateDiscovered      State = "discovered"
	StateScored          State = "scored"
	StateRejected        State = "rejected"
	StateTailoring       State = "tailoring"
	StateTailored        State = "tailored"
	StateAutomating      State = "automating"
	StateSubmitted       State = "submitted"
	StateNeedsReview     State = "needs_review"
	StateBlocked         State = "blocked"
	StateFailed          State = "failed"
	StateFailedPermanent State = "failed_permanent"
)

var transitions = map[State][]State{
	StateDiscovered: {StateScored},
	StateScored:     {StateRejected, StateTailoring},
	StateTailoring:  {StateTailored},
	StateTailored:   {StateAutomating},
	StateAutomating: {StateSubmitted, StateNeedsReview, StateBlocked, StateFailed},
	StateFailed:     {StateAutomating, StateFailedPermanent},
}

// Terminal reports whether no further automated transition happens from s.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateSubmitted, StateNeedsReview, StateBlocked, StateFailedPermanent:
		return true
	}
	return false
}

// CanTransition reports whether next is a legal successor of s.
// FailedPermanent is reachable from any non-terminal state so that crashes
// and cancellation always land on a terminal record.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailedPermanent {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AutomationOutcome is the result reported by an automation bot for a single
// application attempt.
type AutomationOutcome string

const (
	OutcomeSubmitted   AutomationOutcome = "submitted"
	OutcomeNeedsReview AutomationOutcome = "needs_review"
	OutcomeBlocked     AutomationOutcome = "blocked"
	OutcomeFailed      AutomationOutcome = "failed"
)

type SalaryRange struct {
	Min      int    `json:"min,omitempty" yaml:"min"`
	Max      int    `json:"max,omitempty" yaml:"max"`
	Currency string `json:"currency,omitempty" yaml:"currency"`
}

// Posting is a single job opening sourced from a board. Immutable once
// fetched.
type Posting struct {
	Board       string       `json:"board"`
	ExternalID  string       `json:"external_id,omitempty"`
	Title       string       `json:"title"`
	Company     string       `json:"company,omitempty"`
	Location    string       `json:"location,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Salary      *SalaryRange `json:"salary,omitempty"`
	ListedAt    time.Time    `json:"listed_at,omitempty"`
}

// Key identifies a posting across boards for dedupe purposes.
func (p *Posting) Key() string {
	id := p.ExternalID
	if id == "" {
		id = p.URL
	}
	return p.Board + "/" + id
}

// Validate checks the fields scoring and tailoring rely on. Postings failing
// validation are dropped before any pipeline work starts.
func (p *Posting) Validate() error {
	if p == nil {
		return fmt.Errorf("posting is nil")
	}
	if strings.TrimSpace(p.Board) == "" {
		return fmt.Errorf("posting has no source board")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("posting has no title")
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("posting %q has no description", p.Title)
	}
	return nil
}

// Query describes what to ask a scraper for.
type Query struct {
	Keywords        []string `mapstructure:"keywords" yaml:"keywords"`
	Locations       []string `mapstructure:"locations" yaml:"locations"`
	MinCompensation int      `mapstructure:"min-compensation" yaml:"min_compensation"`
}

// FitAssessment is the scoring verdict for one posting. Exactly one exists
// per JobRecord, computed before any tailoring work.
type FitAssessment struct {
	PostingKey string  `json:"posting_key"`
	Score      float64 `json:"score"`
	Accepted   bool    `json:"accepted"`
	Threshold  float64 `json:"threshold"`
}

// TailoredResume is the rewrite produced for one posting.
type TailoredResume struct {
	Content    string    `json:"content"`
	Highlights []string  `json:"highlights,omitempty"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Transition is one recorded state change of a JobRecord.
type Transition struct {
	To State     `json:"to"`
	At time.Time `json:"at"`
}

// JobRecord tracks one posting's progress through the pipeline. A record is
// owned by exactly one pipeline instance for its lifetime and is never
// mutated concurrently.
type JobRecord struct {
	ID               uuid.UUID         `json:"id"`
	RunID            uuid.UUID         `json:"run_id"`
	Posting          *Posting          `json:"posting"`
	Fit              *FitAssessment    `json:"fit,omitempty"`
	State            State             `json:"state"`
	Resume           *TailoredResume   `json:"resume,omitempty"`
	TailoringSkipped bool              `json:"tailoring_skipped,omitempty"`
	Outcome          AutomationOutcome `json:"outcome,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	Error            string            `json:"error,omitempty"`
	Retries          int               `json:"retries"`
	Transitions      []Transition      `json:"transitions"`
}

// NewRecord creates a record in the Discovered state.
func NewRecord(runID uuid.UUID, posting *Posting) *JobRecord {
	rec := &JobRecord{
		ID:      uuid.New(),
		RunID:   runID,
		Posting: posting,
		State:   StateDiscovered,
	}
	rec.Transitions = append(rec.Transitions, Transition{To: StateDiscovered, At: time.Now().UTC()})
	return rec
}

// Advance moves the record to next, recording the transition timestamp. It
// fails on any move the state graph does not allow.
func (r *JobRecord) Advance(next State) error {
	if !r.State.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", r.State, next, r.ID)
	}
	r.State = next
	r.Transitions = append(r.Transitions, Transition{To: next, At: time.Now().UTC()})
	return nil
}

// Terminated reports whether the record reached a terminal state.
func (r *JobRecord) Terminated() bool {
	return r.State.Terminal()
}

// TopMatch is a summary line for a high-scoring posting.
type TopMatch struct {
	PostingKey string  `json:"posting_key"`
	Title      string  `json:"title"`
	Company    string  `json:"company,omitempty"`
	Score      float64 `json:"score"`
}

// RunSummary aggregates one orchestrator run.
type RunSummary struct {
	ID         uuid.UUID     `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at,omitempty"`
	Counts     map[State]int `json:"counts"`
	JobIDs     []uuid.UUID   `json:"job_ids"`
	TopMatches []TopMatch    `json:"top_matches,omitempty"`
	Partial    bool          `json:"partial,omitempty"`
}

func NewRunSummary() *RunSummary {
	return &RunSummary{
		ID:        uuid.New(),
		StartedAt: time.Now().UTC(),
		Counts:    make(map[State]int),
	}
}

// Track counts a terminal record into the summary. The ledger write for the
// record must have happened before Track is called.
func (s *RunSummary) Track(rec *JobRecord) {
	s.Counts[rec.State]++
	s.JobIDs = append(s.JobIDs, rec.ID)
	if rec.Fit != nil && rec.Fit.Accepted {
		s.TopMatches = append(s.TopMatches, TopMatch{
			PostingKey: rec.Posting.Key(),
			Title:      rec.Posting.Title,
			Company:    rec.Posting.Company,
			Score:      rec.Fit.Score,
		})
	}
}

// Finalize stamps the end time and orders top matches by score.
func (s *RunSummary) Finalize(limit int) {
	s.EndedAt = time.Now().UTC()
	sort.Slice(s.TopMatches, func(i, j int) bool {
		return s.TopMatches[i].Score > s.TopMatches[j].Score
	})
	if limit > 0 && len(s.TopMatches) > limit {
		s.TopMatches = s.TopMatches[:limit]
	}
}

// Total returns the number of tracked records.
func (s *RunSummary) Total() int {
	return len(s.JobIDs)
}

// FeedbackEntry is an out-of-band recruiter outcome tied to a run or a
// single job. Appended long after a run completes.
type FeedbackEntry struct {
	RunID      uuid.UUID `json:"run_id"`
	JobID      uuid.UUID `json:"job_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Note       string    `json:"note,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
