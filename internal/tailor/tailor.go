// Package tailor rewrites the base resume per posting through Gemini. When
// no generator is configured the pipeline falls back to the base resume
// instead of failing the job.
package tailor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/agents"
	"github.com/spigell/jobpilot/internal/job"
	"github.com/spigell/jobpilot/internal/logger"
)

//go:embed prompt.md
var promptTemplate string

const defaultMaxLogLength = 200

type contentGenerator interface {
	GenerateContentWithCache(ctx context.Context, prompt, cacheName string) (string, error)
	EnsureProfileCache(ctx context.Context, profileID, resumePayload string) (string, error)
	Model() string
}

// Tailor is the Gemini-backed agents.Tailor implementation.
type Tailor struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

func New(generator contentGenerator, log *zap.Logger, maxLogLength int) *Tailor {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	return &Tailor{
		generator: generator,
		logger:    log,
		maxLogLen: maxLogLength,
	}
}

var _ agents.Tailor = (*Tailor)(nil)

func (t *Tailor) Rewrite(ctx context.Context, posting *job.Posting, profile *job.Profile) (*job.TailoredResume, error) {
	if t == nil || t.generator == nil {
		return nil, agents.ErrTailorUnavailable
	}
	if posting == nil {
		return nil, fmt.Errorf("posting is required")
	}
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}

	postingJSON, err := json.MarshalIndent(posting, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal posting payload: %w", err)
	}

	// The resume goes into the prompt only when caching failed; otherwise
	// it rides along as cached content.
	resumeInline := profile.BaseResume.Content
	cacheName, err := t.generator.EnsureProfileCache(ctx, profile.Contact.Email, profile.BaseResume.Content)
	if err != nil {
		t.logger.Warn("resume cache unavailable, inlining resume", zap.Error(err))
		cacheName = ""
	} else {
		resumeInline = "(provided as cached context)"
	}

	prompt := buildPrompt(resumeInline, string(postingJSON))

	t.logger.Debug("gemini tailor request",
		zap.String("posting_key", posting.Key()),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.Truncate(prompt, t.maxLogLen)),
	)

	raw, err := t.generator.GenerateContentWithCache(ctx, prompt, cacheName)
	if err != nil {
		return nil, fmt.Errorf("tailoring %s: %w", posting.Key(), err)
	}

	t.logger.Debug("gemini tailor response",
		zap.String("posting_key", posting.Key()),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.Truncate(raw, t.maxLogLen)),
	)

	resume, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	resume.Model = t.generator.Model()
	resume.CreatedAt = time.Now().UTC()
	return resume, nil
}

func buildPrompt(resume, postingJSON string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Resume:\n{{RESUME_JSON}}\n\nPosting:\n{{POSTING_JSON}}\n\nJSON Response:"
	}
	prompt := strings.ReplaceAll(template, "{{RESUME_JSON}}", resume)
	prompt = strings.ReplaceAll(prompt, "{{POSTING_JSON}}", postingJSON)
	return prompt
}

func parseResponse(raw string) (*job.TailoredResume, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse tailor response: %w", err)
	}

	content := coerceString(data["resume"])
	if content == "" {
		return nil, fmt.Errorf("tailor response contains no resume")
	}

	return &job.TailoredResume{
		Content:    content,
		Highlights: coerceStrings(data["highlights"]),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

func coerceStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s := coerceString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Unavailable is the tailor used when no LLM credential is configured; it
// always reports ErrTailorUnavailable so pipelines degrade to the base
// resume.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Rewrite(_ context.Context, _ *job.Posting, _ *job.Profile) (*job.TailoredResume, error) {
	if u.Reason != "" {
		return nil, fmt.Errorf("%w: %s", agents.ErrTailorUnavailable, u.Reason)
	}
	return nil, agents.ErrTailorUnavailable
}

var _ agents.Tailor = Unavailable{}
