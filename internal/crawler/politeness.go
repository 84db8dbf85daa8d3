package crawler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/missilery-catalog/internal/policy/ratelimit"
)

// PolitenessConfig bounds a crawl run. Zero budgets mean unbounded.
type PolitenessConfig struct {
	MaxItems    int
	MaxPages    int
	Delay       time.Duration
	Concurrency int
}

// HostLimiter spaces requests to one host.
type HostLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Politeness gates fetch issuance: a concurrency ceiling, a per-host delay,
// and the item and page budgets of the run.
type Politeness struct {
	cfg     PolitenessConfig
	sem     *semaphore.Weighted
	limiter HostLimiter
	items   atomic.Int64
	pages   atomic.Int64
}

// NewPoliteness builds a controller. A nil limiter spaces requests by cfg.Delay.
func NewPoliteness(cfg PolitenessConfig, limiter HostLimiter) *Politeness {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{MinInterval: cfg.Delay, DefaultBurst: 1})
	}
	return &Politeness{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter: limiter,
	}
}

// Acquire blocks until a fetch slot is free and the host delay has elapsed.
// The returned release func must be called once the fetch completes.
func (p *Politeness) Acquire(ctx context.Context, url string) (func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire fetch slot: %w", err)
	}
	if err := p.limiter.Wait(ctx, url); err != nil {
		p.sem.Release(1)
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { p.sem.Release(1) }) }, nil
}

// ReserveItem claims one item from the budget; false means the budget is spent.
func (p *Politeness) ReserveItem() bool {
	return reserve(&p.items, p.cfg.MaxItems)
}

// ReservePage claims one index page from the budget; false means the budget is spent.
func (p *Politeness) ReservePage() bool {
	return reserve(&p.pages, p.cfg.MaxPages)
}

// Exhausted reports whether either budget has been fully claimed.
func (p *Politeness) Exhausted() bool {
	return spent(&p.items, p.cfg.MaxItems) || spent(&p.pages, p.cfg.MaxPages)
}

// Reserved returns the claimed item and page counts.
func (p *Politeness) Reserved() (items, pages int) {
	return int(p.items.Load()), int(p.pages.Load())
}

func reserve(counter *atomic.Int64, limit int) bool {
	if limit <= 0 {
		counter.Add(1)
		return true
	}
	for {
		cur := counter.Load()
		if cur >= int64(limit) {
			return false
		}
		if counter.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func spent(counter *atomic.Int64, limit int) bool {
	return limit > 0 && counter.Load() >= int64(limit)
}

// visitTracker provides thread-safe visited URL tracking to prevent revisits.
type visitTracker interface {
	MarkIfNew(url string) bool
	Seen(url string) bool
}

type concurrentVisitTracker struct {
	seen sync.Map
}

func newConcurrentVisitTracker() *concurrentVisitTracker {
	return &concurrentVisitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *concurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// Seen reports whether url was marked.
func (t *concurrentVisitTracker) Seen(url string) bool {
	_, ok := t.seen.Load(url)
	return ok
}

// pauseController abstracts how the collector backs off between retries.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
