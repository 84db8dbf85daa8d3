package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
	"github.com/JakeFAU/missilery-catalog/internal/clock/system"
	"github.com/JakeFAU/missilery-catalog/internal/extract"
)

// Config holds the settings of one crawl run.
type Config struct {
	StartURL       string
	AllowedDomains []string
	// Resume, when set, starts the index iteration at a previous checkpoint.
	Resume Checkpoint
	// Topic receives the run summary when a Publisher is configured.
	Topic string
}

// EngineDeps groups the collaborators of an Engine.
type EngineDeps struct {
	Politeness *Politeness
	Collector  *Collector
	Sink       ArtifactSink
	Publisher  Publisher
	Clock      Clock
	Logger     *zap.Logger
}

// Engine drives a crawl run: index pages in order, detail pages fanned out
// under the politeness controller, records handed to the artifact sink.
type Engine struct {
	runID      string
	cfg        Config
	politeness *Politeness
	collector  *Collector
	discoverer *Discoverer
	sink       ArtifactSink
	publisher  Publisher
	clock      Clock
	logger     *zap.Logger
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(runID string, cfg Config, deps EngineDeps) (*Engine, error) {
	if cfg.StartURL == "" && cfg.Resume.URL == "" {
		return nil, errors.New("crawler: start url is required")
	}
	if deps.Collector == nil {
		return nil, errors.New("crawler: collector is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("crawler: artifact sink is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = system.New()
	}
	politeness := deps.Politeness
	if politeness == nil {
		politeness = deps.Collector.politeness
	}
	return &Engine{
		runID:      runID,
		cfg:        cfg,
		politeness: politeness,
		collector:  deps.Collector,
		discoverer: NewDiscoverer(cfg.AllowedDomains),
		sink:       deps.Sink,
		publisher:  deps.Publisher,
		clock:      clock,
		logger:     logger,
	}, nil
}

// IndexIterator pulls index pages one at a time, following pagination.
// It never visits a page twice and stops when the page budget is spent.
type IndexIterator struct {
	engine  *Engine
	visited visitTracker
	next    Checkpoint
	done    bool
	stats   *statsRecorder
}

// Pages returns an iterator positioned at the configured start page.
func (e *Engine) Pages() *IndexIterator {
	return e.pages(&statsRecorder{})
}

func (e *Engine) pages(stats *statsRecorder) *IndexIterator {
	it := &IndexIterator{
		engine:  e,
		visited: newConcurrentVisitTracker(),
		stats:   stats,
	}
	if e.cfg.Resume.URL != "" {
		it.Resume(e.cfg.Resume)
	} else {
		it.Resume(Checkpoint{URL: e.cfg.StartURL, PageNumber: PageNumber(e.cfg.StartURL)})
	}
	return it
}

// Resume repositions the iterator.
func (it *IndexIterator) Resume(cp Checkpoint) {
	if cp.PageNumber < 1 {
		cp.PageNumber = PageNumber(cp.URL)
	}
	it.next = cp
	it.done = cp.URL == ""
}

// Checkpoint returns the page the next call to Next would fetch.
func (it *IndexIterator) Checkpoint() Checkpoint {
	return it.next
}

// Next fetches the next index page. ok is false once pagination ends, the
// page budget is spent or a page would be revisited. A fetch failure ends
// the iteration because the following page is unknown.
func (it *IndexIterator) Next(ctx context.Context) (RawPage, Discovery, bool, error) {
	if it.done {
		return RawPage{}, Discovery{}, false, nil
	}
	cp := it.next
	if !it.visited.MarkIfNew(canonical(cp.URL)) {
		it.done = true
		return RawPage{}, Discovery{}, false, nil
	}
	if !it.engine.politeness.ReservePage() {
		it.done = true
		return RawPage{}, Discovery{}, false, nil
	}

	page, err := it.engine.collector.Collect(ctx, cp.URL, KindIndex, cp.PageNumber)
	if err != nil {
		it.done = true
		return RawPage{}, Discovery{}, false, err
	}
	it.stats.update(func(s *CrawlStats) { s.IndexPages++ })

	disc, diag := it.engine.discoverer.Discover(cp.URL, cp.PageNumber, page.Content, it.visited.Seen)
	if diag != nil {
		it.stats.diagnose(diag)
		it.engine.logger.Warn("index page diagnostics",
			zap.String("url", cp.URL),
			zap.Int("page", cp.PageNumber),
			zap.Error(diag),
		)
	}
	if disc.Next == "" {
		it.done = true
		it.next = Checkpoint{}
	} else {
		it.next = Checkpoint{URL: disc.Next, PageNumber: PageNumber(disc.Next)}
	}
	it.stats.update(func(s *CrawlStats) { s.Checkpoint = it.next })
	return page, disc, true, nil
}

// Run crawls until pagination ends or a budget is spent. Per-page failures
// are recorded in the returned stats; the error is non-nil only when the run
// was canceled or the artifact sink failed.
func (e *Engine) Run(ctx context.Context) (CrawlStats, error) {
	stats := &statsRecorder{stats: CrawlStats{RunID: e.runID, StartedAt: e.clock.Now()}}
	it := e.pages(stats)
	details := newConcurrentVisitTracker()
	g, gctx := errgroup.WithContext(ctx)

	e.logger.Info("crawl started", zap.String("run_id", e.runID), zap.String("url", it.Checkpoint().URL))

	var runErr error
crawl:
	for !e.politeness.Exhausted() {
		page, disc, ok, err := it.Next(gctx)
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			stats.fail(it.Checkpoint().URL, err)
			e.logger.Error("index page failed", zap.String("url", it.Checkpoint().URL), zap.Error(err))
			break
		}
		if !ok {
			break
		}
		e.logger.Info("index page collected",
			zap.String("url", page.URL),
			zap.Int("page", page.PageNumber),
			zap.Int("listings", len(disc.Listings)),
		)
		for _, listing := range disc.Listings {
			if details.Seen(canonical(listing.DetailURL())) {
				continue
			}
			if !e.politeness.ReserveItem() {
				break crawl
			}
			if err := e.sink.AddBasic(gctx, listing); err != nil {
				runErr = fmt.Errorf("add basic record %s: %w", listing.DetailURL(), err)
				break crawl
			}
			details.MarkIfNew(canonical(listing.DetailURL()))
			stats.update(func(s *CrawlStats) { s.Items++ })
			g.Go(func() error {
				return e.collectDetail(gctx, listing, stats)
			})
		}
	}

	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = fmt.Errorf("crawl canceled: %w", ctx.Err())
	}
	stats.update(func(s *CrawlStats) { s.FinishedAt = e.clock.Now() })
	out := stats.snapshot()

	e.logger.Info("crawl finished",
		zap.String("run_id", e.runID),
		zap.Int("index_pages", out.IndexPages),
		zap.Int("detail_pages", out.DetailPages),
		zap.Int("items", out.Items),
		zap.Int("failed", len(out.Failed)),
	)
	e.publishSummary(ctx, out)
	return out, runErr
}

func (e *Engine) collectDetail(ctx context.Context, listing catalog.Record, stats *statsRecorder) error {
	url := listing.DetailURL()
	page, err := e.collector.Collect(ctx, url, KindDetail, listing.PageNumber())
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		stats.fail(url, err)
		e.logger.Warn("detail page failed", zap.String("detail_url", url), zap.Error(err))
		return nil
	}
	stats.update(func(s *CrawlStats) { s.DetailPages++ })

	detail, diag := extract.ExtractDetail(url, page.Content)
	if !detail.HasDetail {
		stats.fail(url, diag)
		e.logger.Warn("detail page not extractable", zap.String("detail_url", url), zap.Error(diag))
		return nil
	}
	stats.diagnose(diag)
	detail.ScrapedAt = page.FetchedAt

	if err := e.sink.AddDetailed(ctx, listing.Merge(detail)); err != nil {
		return fmt.Errorf("add detailed record %s: %w", url, err)
	}
	return nil
}

func (e *Engine) publishSummary(ctx context.Context, stats CrawlStats) {
	if e.publisher == nil || e.cfg.Topic == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	payload := map[string]any{
		"event":        "crawl_finished",
		"run_id":       stats.RunID,
		"index_pages":  stats.IndexPages,
		"detail_pages": stats.DetailPages,
		"items":        stats.Items,
		"failed":       len(stats.Failed),
		"checkpoint":   stats.Checkpoint,
		"finished_at":  stats.FinishedAt.Format(time.RFC3339),
	}
	id, err := e.publisher.Publish(pubCtx, e.cfg.Topic, payload)
	if err != nil {
		e.logger.Warn("publish crawl summary failed", zap.String("run_id", stats.RunID), zap.Error(err))
		return
	}
	e.logger.Info("crawl summary published", zap.String("run_id", stats.RunID), zap.String("message_id", id))
}
