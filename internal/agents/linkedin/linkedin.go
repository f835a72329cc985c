// Package linkedin scrapes LinkedIn's public job-search page. Only the
// listing cards are available without authentication, so postings carry the
// card text as their description.
package linkedin

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/agents"
	"github.com/spigell/jobpilot/internal/job"
)

const (
	board     = "linkedin"
	searchURL = "https://www.linkedin.com/jobs/search"

	// LinkedIn answers detected bots with status 999.
	botWallStatus = 999

	defaultMaxResults = 25
	userAgent         = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

type Scraper struct {
	SearchURL  string
	MaxResults int
	Delay      time.Duration
	logger     *zap.Logger
}

func New(logger *zap.Logger) *Scraper {
	return &Scraper{
		SearchURL:  searchURL,
		MaxResults: defaultMaxResults,
		Delay:      2 * time.Second,
		logger:     logger,
	}
}

var _ agents.Scraper = (*Scraper)(nil)

func (s *Scraper) Board() string { return board }

func (s *Scraper) Fetch(ctx context.Context, query job.Query) ([]*job.Posting, error) {
	c := colly.NewCollector(
		colly.AllowedDomains("www.linkedin.com", "linkedin.com"),
		colly.UserAgent(userAgent),
	)
	c.SetRequestTimeout(20 * time.Second)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*linkedin.com*",
		Delay:       s.Delay,
		RandomDelay: s.Delay / 2,
	}); err != nil {
		return nil, err
	}

	var (
		postings []*job.Posting
		fetchErr error
	)

	c.OnHTML("div.base-search-card", func(e *colly.HTMLElement) {
		if s.MaxResults > 0 && len(postings) >= s.MaxResults {
			return
		}

		title := strings.TrimSpace(e.ChildText("h3.base-search-card__title"))
		company := strings.TrimSpace(e.ChildText("h4.base-search-card__subtitle"))
		location := strings.TrimSpace(e.ChildText("span.job-search-card__location"))
		link := strings.TrimSpace(e.ChildAttr("a.base-card__full-link", "href"))
		if title == "" || link == "" {
			return
		}

		postings = append(postings, &job.Posting{
			Board:    board,
			Title:    title,
			Company:  company,
			Location: location,
			URL:      link,
			// The search page exposes no body text; the card line is
			// all scoring has to work with.
			Description: cardDescription(title, company, location),
		})
	})

	c.OnError(func(r *colly.Response, err error) {
		fetchErr = classifyStatus(r.StatusCode, err)
	})

	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
			fetchErr = ctx.Err()
		default:
		}
		s.logger.Debug("linkedin request", zap.String("url", r.URL.String()))
	})

	if err := c.Visit(s.buildSearchURL(query)); err != nil && fetchErr == nil {
		fetchErr = fmt.Errorf("%w: %v", agents.ErrSourceUnavailable, err)
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	return postings, nil
}

func (s *Scraper) buildSearchURL(query job.Query) string {
	params := url.Values{}
	if len(query.Keywords) > 0 {
		params.Set("keywords", strings.Join(query.Keywords, " "))
	}
	if len(query.Locations) > 0 {
		params.Set("location", query.Locations[0])
	}
	if len(params) == 0 {
		return s.SearchURL
	}
	return s.SearchURL + "?" + params.Encode()
}

func classifyStatus(status int, err error) error {
	if status == botWallStatus || status == 403 || status == 429 {
		return fmt.Errorf("%w: linkedin returned status %d", agents.ErrSourceBlocked, status)
	}
	return fmt.Errorf("%w: linkedin request failed (status %d): %v", agents.ErrSourceUnavailable, status, err)
}

func cardDescription(parts ...string) string {
	var filled []string
	for _, part := range parts {
		if part != "" {
			filled = append(filled, part)
		}
	}
	return strings.Join(filled, " / ")
}
