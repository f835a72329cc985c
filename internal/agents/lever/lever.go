// Package lever automates Lever-hosted application forms with a headless
// browser.
package lever

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/agents"
	"github.com/spigell/jobpilot/internal/job"
)

const (
	defaultTimeout = 90 * time.Second

	// Lever forms hide CAPTCHAs in provider iframes; finding one means an
	// anti-automation wall, not a transient failure.
	captchaSelector = `iframe[src*="hcaptcha"], iframe[src*="recaptcha"], .g-recaptcha`

	submitSelector = `button[type="submit"], button[data-qa="btn-submit"]`
)

type Bot struct {
	Headless bool
	Timeout  time.Duration
	logger   *zap.Logger
}

func New(headless bool, logger *zap.Logger) *Bot {
	return &Bot{
		Headless: headless,
		Timeout:  defaultTimeout,
		logger:   logger,
	}
}

var _ agents.Bot = (*Bot)(nil)

func (b *Bot) CanHandle(posting *job.Posting) bool {
	return posting != nil && strings.Contains(strings.ToLower(posting.URL), "lever.co")
}

// Apply drives the Lever form: fill contact fields, paste the tailored
// resume, upload it as a file, then either click submit or stop for human
// review. Browser errors surface as plain errors and are treated as
// transient by the pipeline.
func (b *Bot) Apply(ctx context.Context, req *agents.ApplyRequest) (*agents.ApplyResult, error) {
	if !b.CanHandle(req.Posting) {
		return nil, fmt.Errorf("lever bot cannot handle posting %s", req.Posting.Key())
	}

	resumePath, cleanup, err := writeResumeFile(req.Resume.Content)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.Headless),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	b.logger.Info("navigating to lever form",
		zap.String("posting", req.Posting.Key()),
		zap.String("url", req.Posting.URL),
		zap.Bool("auto_submit", req.AutoSubmit),
	)

	var captcha bool
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(applyURL(req.Posting.URL)),
		chromedp.WaitVisible(`input[name="name"]`, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(`!!document.querySelector(%q)`, captchaSelector), &captcha),
	); err != nil {
		return nil, fmt.Errorf("loading lever form: %w", err)
	}

	if captcha {
		return &agents.ApplyResult{
			Outcome: job.OutcomeBlocked,
			Notes:   "captcha detected on application form",
		}, nil
	}

	if err := chromedp.Run(browserCtx, fillTasks(req)...); err != nil {
		return nil, fmt.Errorf("filling lever form: %w", err)
	}

	if err := chromedp.Run(browserCtx,
		chromedp.SetUploadFiles(`input[type="file"]`, []string{resumePath}, chromedp.ByQuery),
	); err != nil {
		// Not every posting asks for a file; the pasted summary already
		// carries the resume.
		b.logger.Debug("no resume upload field", zap.Error(err))
	}

	if !req.AutoSubmit {
		return &agents.ApplyResult{
			Outcome: job.OutcomeNeedsReview,
			Notes:   "form populated, review and submit manually",
		}, nil
	}

	if err := chromedp.Run(browserCtx,
		chromedp.Click(submitSelector, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	); err != nil {
		return nil, fmt.Errorf("submitting lever form: %w", err)
	}

	return &agents.ApplyResult{
		Outcome: job.OutcomeSubmitted,
		Notes:   "lever form submitted",
	}, nil
}

// fillTasks fills every contact field present on the form. Missing optional
// fields are skipped silently by the setIfPresent script.
func fillTasks(req *agents.ApplyRequest) []chromedp.Action {
	contact := req.Profile.Contact

	fields := map[string]string{
		`input[name="name"]`:            contact.FullName,
		`input[name="email"]`:           contact.Email,
		`input[name="phone"]`:           contact.Phone,
		`input[name="urls[LinkedIn]"]`:  contact.LinkedInURL,
		`input[name="urls[GitHub]"]`:    contact.GitHubURL,
		`input[name="urls[Portfolio]"]`: contact.PortfolioURL,
		`input[name="location"]`:        contact.Location,
	}

	var tasks []chromedp.Action
	for selector, value := range fields {
		if strings.TrimSpace(value) == "" {
			continue
		}
		tasks = append(tasks, setIfPresent(selector, value))
	}

	summary := req.Resume.Content
	if len(summary) > 5000 {
		summary = summary[:5000]
	}
	tasks = append(tasks, setIfPresent(`textarea[name="comments"]`, summary))

	return tasks
}

// setIfPresent assigns a form value through the DOM so absent fields are a
// no-op instead of a wait timeout.
func setIfPresent(selector, value string) chromedp.Action {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { return false; }
		el.value = %q;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		return true;
	})()`, selector, value)

	var ok bool
	return chromedp.Evaluate(script, &ok)
}

func applyURL(postingURL string) string {
	if strings.HasSuffix(postingURL, "/apply") {
		return postingURL
	}
	return strings.TrimSuffix(postingURL, "/") + "/apply"
}

func writeResumeFile(content string) (string, func(), error) {
	file, err := os.CreateTemp("", "resume_*.txt")
	if err != nil {
		return "", nil, fmt.Errorf("creating resume file: %w", err)
	}

	if _, err := file.WriteString(content); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", nil, fmt.Errorf("writing resume file: %w", err)
	}
	file.Close()

	return file.Name(), func() { os.Remove(file.Name()) }, nil
}
