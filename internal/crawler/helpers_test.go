package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

const testHost = "https://catalog.test"

type stubFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]int
	status   map[string]int
	calls    map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		pages:    make(map[string]string),
		failures: make(map[string]int),
		status:   make(map[string]int),
		calls:    make(map[string]int),
	}
}

// failTimes makes url answer with status for its first n requests.
func (f *stubFetcher) failTimes(url string, status, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = n
	f.status[url] = status
}

func (f *stubFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return FetchResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	if f.calls[req.URL] <= f.failures[req.URL] {
		return FetchResponse{}, &catalog.FetchError{URL: req.URL, Status: f.status[req.URL], Err: fmt.Errorf("status %d", f.status[req.URL])}
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return FetchResponse{}, &catalog.FetchError{URL: req.URL, Status: 404, Err: fmt.Errorf("not found")}
	}
	return FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *stubFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type memoryRawStore struct {
	mu    sync.Mutex
	pages []RawPage
}

func (s *memoryRawStore) SavePage(_ context.Context, page RawPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, page)
	return nil
}

func (s *memoryRawStore) count(kind PageKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pages {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

type memorySink struct {
	mu       sync.Mutex
	basic    []catalog.Record
	detailed []catalog.Record
	failWith error
}

func (s *memorySink) AddBasic(_ context.Context, rec catalog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.basic = append(s.basic, rec)
	return nil
}

func (s *memorySink) AddDetailed(_ context.Context, rec catalog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.detailed = append(s.detailed, rec)
	return nil
}

func (s *memorySink) detailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.detailed))
	for _, r := range s.detailed {
		out = append(out, r.DetailURL())
	}
	return out
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type staticHasher struct{}

func (staticHasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("len-%d", len(data)), nil
}

// instantRetry keeps the retry decisions of the exponential policy but never sleeps.
type instantRetry struct {
	*ExponentialRetryPolicy
}

func (instantRetry) Backoff(int) time.Duration { return 0 }

func indexURLFor(page int) string {
	if page == 1 {
		return testHost + "/search"
	}
	return fmt.Sprintf("%s/search?page=%d", testHost, page)
}

func detailURLFor(slug string) string {
	return testHost + "/missile/" + slug
}

// indexHTML renders one card per slug plus pagination anchors to pages.
func indexHTML(slugs []string, pages ...int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, slug := range slugs {
		fmt.Fprintf(&b, `<div class="card"><h2><a href="/missile/%s">Ракета %s</a></h2>
<div class="card-body"><div class="field-label">Стр.</div><div class="field-items"><a href="/c/1">Россия</a></div></div>
<div class="card-footer">%d км.</div></div>`, slug, slug, 100+len(slug))
	}
	b.WriteString(`<div class="pager">`)
	for _, p := range pages {
		fmt.Fprintf(&b, `<a href="/search?page=%d">%d</a>`, p, p)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func detailHTML(name string) string {
	return fmt.Sprintf(`<html><body><h1>%s</h1><div id="page-content-inner">
<div class="content-text"><p>Описание %s</p></div>
<table><tr><td>Скорость</td><td>3 М</td></tr><tr><td>Длина</td><td>12 м</td></tr></table>
<img src="/img/%s.jpg"></div></body></html>`, name, name, name)
}
