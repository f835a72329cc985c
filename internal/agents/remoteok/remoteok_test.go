package remoteok

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/agents"
	"github.com/spigell/jobpilot/internal/job"
)

const fixture = `[
  {"legal": "API terms of service apply."},
  {
    "id": 101,
    "position": "Senior Golang Engineer",
    "company": "Acme",
    "location": "Remote - Worldwide",
    "description": "<p>Build <b>Go</b> services.</p>",
    "tags": ["golang", "backend"],
    "url": "https://remoteok.com/jobs/101",
    "salary": "$120k - $160k",
    "date": "2026-08-20T10:00:00+00:00"
  },
  {
    "id": 102,
    "position": "Marketing Manager",
    "company": "Globex",
    "location": "Remote",
    "description": "Run campaigns.",
    "tags": ["marketing"],
    "url": "https://remoteok.com/jobs/102",
    "salary": ""
  },
  {
    "id": 103,
    "position": "Golang Developer",
    "company": "Initech",
    "location": "Remote",
    "description": "Low pay Go work.",
    "tags": ["golang"],
    "url": "https://remoteok.com/jobs/103",
    "salary": "$40,000"
  }
]`

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := New(zap.NewNop())
	client.APIURL = server.URL
	return client
}

func TestFetchFiltersAndParses(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("user agent must be set")
		}
		w.Write([]byte(fixture))
	})

	postings, err := client.Fetch(context.Background(), job.Query{
		Keywords:        []string{"golang"},
		MinCompensation: 100000,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(postings) != 1 {
		t.Fatalf("expected 1 posting after filtering, got %d", len(postings))
	}

	p := postings[0]
	if p.ExternalID != "101" || p.Board != "remoteok" {
		t.Fatalf("unexpected identity: %s", p.Key())
	}
	if p.Description != "Build Go services." {
		t.Fatalf("html not stripped: %q", p.Description)
	}
	if p.Salary == nil || p.Salary.Min != 120000 || p.Salary.Max != 160000 {
		t.Fatalf("unexpected salary: %+v", p.Salary)
	}
	if p.ListedAt.IsZero() {
		t.Fatal("listed_at must be parsed")
	}
}

func TestFetchKeywordOnly(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(fixture))
	})

	postings, err := client.Fetch(context.Background(), job.Query{Keywords: []string{"golang"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(postings) != 2 {
		t.Fatalf("expected 2 golang postings, got %d", len(postings))
	}
}

func TestFetchBlockedStatus(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.Fetch(context.Background(), job.Query{})
	if !errors.Is(err, agents.ErrSourceBlocked) {
		t.Fatalf("expected ErrSourceBlocked, got %v", err)
	}
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Fetch(context.Background(), job.Query{})
	if !errors.Is(err, agents.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestParseSalary(t *testing.T) {
	cases := []struct {
		in       string
		min, max int
	}{
		{"$120k - $160k", 120000, 160000},
		{"$90,000", 90000, 0},
		{"70000-90000 USD", 70000, 90000},
		{"competitive", 0, 0},
		{"", 0, 0},
	}

	for _, tc := range cases {
		salary := parseSalary(tc.in)
		if tc.min == 0 && tc.max == 0 {
			if salary != nil {
				t.Fatalf("parseSalary(%q): expected nil, got %+v", tc.in, salary)
			}
			continue
		}
		if salary == nil || salary.Min != tc.min || salary.Max != tc.max {
			t.Fatalf("parseSalary(%q): expected %d-%d, got %+v", tc.in, tc.min, tc.max, salary)
		}
	}
}
