// Package remoteok scrapes RemoteOK's public API.
package remoteok

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/agents"
	"github.com/spigell/jobpilot/internal/job"
)

const (
	board  = "remoteok"
	apiURL = "https://remoteok.com/api"

	defaultMaxResults = 50
	userAgent         = "jobpilot/1.0 (github.com/spigell/jobpilot)"
)

type Client struct {
	HTTPClient *http.Client
	APIURL     string
	UserAgent  string
	MaxResults int
	logger     *zap.Logger
}

func New(logger *zap.Logger) *Client {
	return &Client{
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		APIURL:     apiURL,
		UserAgent:  userAgent,
		MaxResults: defaultMaxResults,
		logger:     logger,
	}
}

var _ agents.Scraper = (*Client)(nil)

func (c *Client) Board() string { return board }

// apiPosting is the subset of RemoteOK's response the pipeline cares about.
// The first array element is API metadata, recognizable by its empty
// position. The api is loosely typed (ids arrive as numbers or strings), so
// items are decoded weakly.
type apiPosting struct {
	ID          string   `mapstructure:"id"`
	Position    string   `mapstructure:"position"`
	Company     string   `mapstructure:"company"`
	Location    string   `mapstructure:"location"`
	Description string   `mapstructure:"description"`
	Tags        []string `mapstructure:"tags"`
	URL         string   `mapstructure:"url"`
	ApplyURL    string   `mapstructure:"apply_url"`
	Salary      string   `mapstructure:"salary"`
	Date        string   `mapstructure:"date"`
}

func decodePosting(item map[string]any) (*apiPosting, error) {
	var entry apiPosting
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &entry,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(item); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) Fetch(ctx context.Context, query job.Query) ([]*job.Posting, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agents.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: remoteok returned %s", agents.ErrSourceBlocked, resp.Status)
	default:
		return nil, fmt.Errorf("%w: remoteok returned %s", agents.ErrSourceUnavailable, resp.Status)
	}

	var raw []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", agents.ErrSourceUnavailable, err)
	}

	c.logger.Debug("got remoteok response", zap.Int("items", len(raw)))

	var postings []*job.Posting
	for _, rawItem := range raw {
		item, err := decodePosting(rawItem)
		if err != nil {
			c.logger.Debug("skipping undecodable item", zap.Error(err))
			continue
		}

		// Metadata element and malformed entries.
		if strings.TrimSpace(item.Position) == "" {
			continue
		}

		posting := item.toPosting()
		if !matches(posting, item.Tags, query) {
			continue
		}

		postings = append(postings, posting)
		if c.MaxResults > 0 && len(postings) >= c.MaxResults {
			break
		}
	}

	return postings, nil
}

func (a *apiPosting) toPosting() *job.Posting {
	url := a.URL
	if url == "" {
		url = a.ApplyURL
	}

	company := a.Company
	if company == "" {
		company = "Unknown"
	}

	location := strings.TrimSpace(a.Location)
	if location == "" {
		location = "Remote"
	}

	posting := &job.Posting{
		Board:       board,
		ExternalID:  strings.TrimSpace(a.ID),
		Title:       strings.TrimSpace(a.Position),
		Company:     company,
		Location:    location,
		Description: stripHTML(a.Description),
		URL:         url,
		Salary:      parseSalary(a.Salary),
	}

	if a.Date != "" {
		if listed, err := time.Parse(time.RFC3339, a.Date); err == nil {
			posting.ListedAt = listed
		}
	}
	return posting
}

func matches(posting *job.Posting, tags []string, query job.Query) bool {
	if len(query.Keywords) > 0 && !matchesKeywords(posting, tags, query.Keywords) {
		return false
	}

	if len(query.Locations) > 0 {
		location := strings.ToLower(posting.Location)
		ok := strings.Contains(location, "remote")
		for _, want := range query.Locations {
			if strings.Contains(location, strings.ToLower(strings.TrimSpace(want))) {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}

	if query.MinCompensation > 0 {
		if posting.Salary == nil {
			return false
		}
		top := posting.Salary.Max
		if top == 0 {
			top = posting.Salary.Min
		}
		if top < query.MinCompensation {
			return false
		}
	}

	return true
}

func matchesKeywords(posting *job.Posting, tags []string, keywords []string) bool {
	title := strings.ToLower(posting.Title)
	description := strings.ToLower(posting.Description)

	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(title, keyword) || strings.Contains(description, keyword) {
			return true
		}
		for _, tag := range tags {
			if strings.Contains(strings.ToLower(tag), keyword) {
				return true
			}
		}
	}
	return false
}

var salaryPattern = regexp.MustCompile(`\$?(\d[\d,]*)`)

// parseSalary extracts a range from free-form text like "$70k - $120k" or
// "$90,000".
func parseSalary(raw string) *job.SalaryRange {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	matches := salaryPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	thousands := strings.Contains(strings.ToLower(raw), "k")

	var amounts []int
	for _, m := range matches {
		amount, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		if thousands && amount < 1000 {
			amount *= 1000
		}
		amounts = append(amounts, amount)
	}
	if len(amounts) == 0 {
		return nil
	}

	salary := &job.SalaryRange{Min: amounts[0], Currency: "USD"}
	for _, amount := range amounts {
		if amount < salary.Min {
			salary.Min = amount
		}
		if amount > salary.Max {
			salary.Max = amount
		}
	}
	if len(amounts) == 1 {
		salary.Max = 0
	}
	return salary
}

// stripHTML reduces a rich-text description to plain text.
func stripHTML(raw string) string {
	if !strings.Contains(raw, "<") {
		return strings.TrimSpace(raw)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(doc.Text()), " "))
}
