// Package fit estimates how well a posting matches a profile. Scoring is
// pure and deterministic so it can run before any expensive tailoring or
// automation work.
package fit

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/spigell/jobpilot/internal/job"
)

const (
	defaultThreshold = 0.5

	defaultKeywordWeight      = 0.6
	defaultCompensationWeight = 0.2
	defaultLocationWeight     = 0.2

	// Compensation contribution when the posting does not state a salary.
	unknownCompensation = 0.5
)

// Weights tune the contribution of each signal. They are configuration, not
// constants, so operators can adjust scoring without code changes.
type Weights struct {
	Keywords     float64 `mapstructure:"keywords"`
	Compensation float64 `mapstructure:"compensation"`
	Location     float64 `mapstructure:"location"`
}

type Config struct {
	Threshold float64 `mapstructure:"threshold"`
	Weights   Weights `mapstructure:"weights"`
}

// WithDefaults fills unset values with the built-in defaults.
func (c Config) WithDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.Weights.Keywords <= 0 && c.Weights.Compensation <= 0 && c.Weights.Location <= 0 {
		c.Weights = Weights{
			Keywords:     defaultKeywordWeight,
			Compensation: defaultCompensationWeight,
			Location:     defaultLocationWeight,
		}
	}
	return c
}

// Score computes the fit of a posting for a profile. The only error
// condition is a malformed posting, which is a validation failure for the
// caller to handle, not a scoring failure.
func Score(posting *job.Posting, profile *job.Profile, cfg Config) (*job.FitAssessment, error) {
	if err := posting.Validate(); err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}

	cfg = cfg.WithDefaults()
	w := cfg.Weights

	total := w.Keywords + w.Compensation + w.Location
	score := (w.Keywords*keywordOverlap(posting, profile) +
		w.Compensation*compensationMatch(posting, profile) +
		w.Location*locationMatch(posting, profile)) / total

	if score > 1 {
		score = 1
	}

	return &job.FitAssessment{
		PostingKey: posting.Key(),
		Score:      score,
		Accepted:   score >= cfg.Threshold,
		Threshold:  cfg.Threshold,
	}, nil
}

// keywordOverlap compares the posting text against the resume plus the
// preference keywords. Shared token counts are normalized by the posting's
// token count and capped at 1.
func keywordOverlap(posting *job.Posting, profile *job.Profile) float64 {
	postingTokens := tokenize(posting.Title + " " + posting.Description)
	if len(postingTokens) == 0 {
		return 0
	}

	profileText := profile.BaseResume.Content + " " + strings.Join(profile.Preferences.Keywords, " ")
	profileCounts := countTokens(tokenize(profileText))

	postingCounts := countTokens(postingTokens)

	overlap := 0
	for token, count := range postingCounts {
		if have, ok := profileCounts[token]; ok {
			overlap += minInt(count, have)
		}
	}

	ratio := float64(overlap) / float64(len(postingTokens))
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// compensationMatch is 1 when the posting's range can meet the preferred
// minimum, 0 when it cannot, and neutral when the posting states no salary.
func compensationMatch(posting *job.Posting, profile *job.Profile) float64 {
	want := profile.Preferences.MinCompensation
	if want <= 0 {
		return 1
	}
	salary := posting.Salary
	if salary == nil || (salary.Min == 0 && salary.Max == 0) {
		return unknownCompensation
	}
	top := salary.Max
	if top == 0 {
		top = salary.Min
	}
	if top >= want {
		return 1
	}
	return 0
}

func locationMatch(posting *job.Posting, profile *job.Profile) float64 {
	prefs := profile.Preferences.Locations
	if len(prefs) == 0 {
		return 1
	}
	location := strings.ToLower(strings.TrimSpace(posting.Location))
	if location == "" || strings.Contains(location, "remote") {
		return 1
	}
	for _, pref := range prefs {
		pref = strings.ToLower(strings.TrimSpace(pref))
		if pref == "" {
			continue
		}
		if strings.Contains(location, pref) || strings.Contains(pref, location) {
			return 1
		}
	}
	return 0
}

// tokenize lowercases, strips non-alphanumerics and drops short tokens.
func tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)

	var tokens []string
	for _, token := range strings.Fields(cleaned) {
		if len(token) > 2 {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func countTokens(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	return counts
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
