package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
	"github.com/JakeFAU/missilery-catalog/internal/clock/system"
	"github.com/JakeFAU/missilery-catalog/internal/metrics"
)

// Collector fetches pages under the politeness controller, retries transient
// failures and records every successful capture in the raw store.
type Collector struct {
	runID      string
	fetcher    Fetcher
	politeness *Politeness
	retry      RetryPolicy
	raw        RawStore
	hasher     Hasher
	clock      Clock
	headers    http.Header
	pause      pauseController
	logger     *zap.Logger
}

// CollectorDeps groups the collaborators of a Collector.
type CollectorDeps struct {
	Fetcher    Fetcher
	Politeness *Politeness
	Retry      RetryPolicy
	Raw        RawStore
	Hasher     Hasher
	Clock      Clock
	Headers    http.Header
	Logger     *zap.Logger
}

// NewCollector builds a Collector for one run.
func NewCollector(runID string, deps CollectorDeps) *Collector {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := deps.Retry
	if retry == nil {
		retry = NewExponentialRetryPolicy()
	}
	clock := deps.Clock
	if clock == nil {
		clock = system.New()
	}
	politeness := deps.Politeness
	if politeness == nil {
		politeness = NewPoliteness(PolitenessConfig{}, nil)
	}
	return &Collector{
		runID:      runID,
		fetcher:    deps.Fetcher,
		politeness: politeness,
		retry:      retry,
		raw:        deps.Raw,
		hasher:     deps.Hasher,
		clock:      clock,
		headers:    deps.Headers,
		pause:      &timerPauseController{},
		logger:     logger,
	}
}

// Collect fetches url and persists the capture. Failures after the retry
// budget come back as *catalog.FetchError.
func (c *Collector) Collect(ctx context.Context, url string, kind PageKind, pageNumber int) (RawPage, error) {
	resp, err := c.fetchWithRetry(ctx, url)
	if err != nil {
		metrics.ObservePage(url, string(kind), "error", 0)
		return RawPage{}, err
	}
	metrics.ObservePage(url, string(kind), strconv.Itoa(resp.StatusCode), len(resp.Body))

	page := RawPage{
		RunID:      c.runID,
		URL:        url,
		Kind:       kind,
		PageNumber: pageNumber,
		FetchedAt:  c.clock.Now(),
		StatusCode: resp.StatusCode,
		Content:    resp.Body,
	}
	if c.hasher != nil {
		hash, err := c.hasher.Hash(resp.Body)
		if err != nil {
			return RawPage{}, fmt.Errorf("hash body: %w", err)
		}
		page.ContentHash = hash
	}
	if c.raw != nil {
		if err := c.raw.SavePage(ctx, page); err != nil {
			return RawPage{}, fmt.Errorf("save raw page: %w", err)
		}
	}
	c.logger.Debug("page collected",
		zap.String("run_id", c.runID),
		zap.String("url", url),
		zap.String("kind", string(kind)),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
	)
	return page, nil
}

func (c *Collector) fetchWithRetry(ctx context.Context, url string) (FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := c.fetchOnce(ctx, url)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !c.retry.ShouldRetry(err, attempt) {
			return FetchResponse{}, fetchFailure(url, attempt, err)
		}
		delay := c.retry.Backoff(attempt)
		metrics.ObserveFetchRetry()
		c.logger.Warn("fetch failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		c.pause.Pause(ctx, delay)
	}
}

func (c *Collector) fetchOnce(ctx context.Context, url string) (FetchResponse, error) {
	release, err := c.politeness.Acquire(ctx, url)
	if err != nil {
		return FetchResponse{}, err
	}
	defer release()
	resp, err := c.fetcher.Fetch(ctx, FetchRequest{URL: url, Headers: c.headers})
	if err != nil {
		return FetchResponse{}, fmt.Errorf("fetch: %w", err)
	}
	return resp, nil
}

func fetchFailure(url string, attempts int, err error) error {
	out := &catalog.FetchError{URL: url, Attempts: attempts, Err: err}
	var inner *catalog.FetchError
	if errors.As(err, &inner) {
		out.Status = inner.Status
		if inner.Err != nil {
			out.Err = inner.Err
		}
	}
	return out
}
