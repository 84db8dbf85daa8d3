package crawler

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

// PageKind distinguishes listing pages from item pages.
type PageKind string

// Page kinds stored in the raw capture log.
const (
	KindIndex  PageKind = "index"
	KindDetail PageKind = "detail"
)

// RawPage is the verbatim capture of one fetched page.
type RawPage struct {
	RunID       string
	URL         string
	Kind        PageKind
	PageNumber  int
	FetchedAt   time.Time
	StatusCode  int
	ContentHash string
	Content     []byte
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Discovery is the link set found on one index page.
type Discovery struct {
	// Listings are the card-level records, one per distinct detail link, in page order.
	Listings []catalog.Record
	// Next is the following index page, or "" on the terminal page.
	Next string
}

// DetailLinks returns the detail URLs of d's listings in order.
func (d Discovery) DetailLinks() []string {
	out := make([]string, 0, len(d.Listings))
	for _, l := range d.Listings {
		out = append(out, l.DetailURL())
	}
	return out
}

// Checkpoint marks where an index iteration resumes.
type Checkpoint struct {
	URL        string `json:"url"`
	PageNumber int    `json:"page_number"`
}

// CrawlStats summarizes one crawl run.
type CrawlStats struct {
	RunID       string            `json:"run_id"`
	IndexPages  int               `json:"index_pages"`
	DetailPages int               `json:"detail_pages"`
	Items       int               `json:"items"`
	Failed      map[string]string `json:"failed,omitempty"`
	Diagnostics []string          `json:"diagnostics,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Checkpoint  Checkpoint        `json:"checkpoint"`
}

// FailedURLs returns the failed URLs in sorted order.
func (s CrawlStats) FailedURLs() []string {
	out := make([]string, 0, len(s.Failed))
	for u := range s.Failed {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// statsRecorder guards CrawlStats against concurrent detail workers.
type statsRecorder struct {
	mu    sync.Mutex
	stats CrawlStats
}

func (r *statsRecorder) update(fn func(*CrawlStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.stats)
}

func (r *statsRecorder) fail(url string, err error) {
	r.update(func(s *CrawlStats) {
		if s.Failed == nil {
			s.Failed = make(map[string]string)
		}
		s.Failed[url] = err.Error()
	})
}

func (r *statsRecorder) diagnose(err error) {
	if err == nil {
		return
	}
	r.update(func(s *CrawlStats) {
		s.Diagnostics = append(s.Diagnostics, err.Error())
	})
}

func (r *statsRecorder) snapshot() CrawlStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.stats
	if r.stats.Failed != nil {
		out.Failed = make(map[string]string, len(r.stats.Failed))
		for k, v := range r.stats.Failed {
			out.Failed[k] = v
		}
	}
	out.Diagnostics = append([]string(nil), r.stats.Diagnostics...)
	return out
}
