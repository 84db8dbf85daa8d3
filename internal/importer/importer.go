// Package importer loads extracted records into the relational catalog.
//
// Every record is written in its own transaction: the item row, its detail
// row and its owned collections commit together or not at all. References
// are resolved before the transaction opens, so a rolled-back record may
// still leave behind the reference rows it created.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
	"github.com/JakeFAU/missilery-catalog/internal/clock/system"
	"github.com/JakeFAU/missilery-catalog/internal/metrics"
	"github.com/JakeFAU/missilery-catalog/internal/resolver"
)

// Clock provides timestamps for sessions and rows.
type Clock interface {
	Now() time.Time
}

// Options tune an Importer.
type Options struct {
	// Workers bounds how many records are imported concurrently. Values
	// below one mean sequential import.
	Workers     int
	SessionName string
	Clock       Clock
	Logger      *zap.Logger
}

// Importer is the import/upsert engine.
type Importer struct {
	store   catalog.Store
	workers int
	name    string
	clock   Clock
	logger  *zap.Logger
}

// New builds an Importer writing to store.
func New(store catalog.Store, opts Options) *Importer {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		store:   store,
		workers: workers,
		name:    opts.SessionName,
		clock:   clock,
		logger:  logger,
	}
}

type outcome string

const (
	outcomeInserted outcome = "inserted"
	outcomeUpdated  outcome = "updated"
	outcomeSkipped  outcome = "skipped"
	outcomeFailed   outcome = "failed"
)

// Import writes records under mode and records an import session. Record
// level failures are counted in the returned stats; the error is non-nil
// only when the run was aborted.
func (im *Importer) Import(ctx context.Context, records []catalog.Record, mode catalog.ImportMode) (catalog.ImportStats, error) {
	mode, err := catalog.ParseMode(string(mode))
	if err != nil {
		return catalog.ImportStats{}, err
	}
	started := im.clock.Now()
	name := im.name
	if name == "" {
		name = fmt.Sprintf("import-%s", started.UTC().Format("20060102T150405Z"))
	}
	sessionID, err := im.store.BeginSession(ctx, name, mode, started)
	if err != nil {
		return catalog.ImportStats{}, fmt.Errorf("begin import session: %w", err)
	}
	im.logger.Info("import started",
		zap.Int64("session_id", sessionID),
		zap.String("mode", string(mode)),
		zap.Int("records", len(records)),
		zap.Int("workers", im.workers),
	)

	res := resolver.New(im.store, im.logger)
	agg := &aggregator{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for _, group := range groupByKey(records) {
		g.Go(func() error {
			for _, rec := range group {
				if err := im.importRecord(gctx, res, rec, mode, agg); err != nil {
					return err
				}
			}
			return nil
		})
	}
	runErr := g.Wait()

	stats := agg.snapshot()
	stats.References = res.Counts()
	stats.SortFailures()

	ended := im.clock.Now()
	session := catalog.ImportSession{
		ID:      sessionID,
		EndedAt: &ended,
		Stats:   stats,
		Status:  catalog.SessionCompleted,
		Notes:   fmt.Sprintf("%d records: %d inserted, %d updated, %d skipped, %d failed", stats.Total(), stats.Inserted, stats.Updated, stats.Skipped, stats.Failed),
	}
	if runErr != nil {
		session.Status = catalog.SessionFailed
		session.Notes = runErr.Error()
	}
	if err := im.store.FinishSession(context.WithoutCancel(ctx), session); err != nil {
		im.logger.Error("finish import session failed", zap.Int64("session_id", sessionID), zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("finish import session: %w", err)
		}
	}

	im.logger.Info("import finished",
		zap.Int64("session_id", sessionID),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", ended.Sub(started)),
	)
	return stats, runErr
}

// importRecord returns an error only for conditions that abort the run.
func (im *Importer) importRecord(ctx context.Context, res *resolver.Resolver, rec catalog.Record, mode catalog.ImportMode, agg *aggregator) error {
	start := time.Now()
	url := rec.DetailURL()

	if reason := rec.Validate(); reason != "" {
		im.recordFailure(agg, url, &catalog.ImportError{DetailURL: url, Err: errors.New(reason)}, start)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	refs, err := res.ResolveRecord(ctx, rec)
	if err != nil {
		if isFatal(ctx, err) {
			return fmt.Errorf("import %s: %w", url, err)
		}
		im.recordFailure(agg, url, &catalog.ImportError{DetailURL: url, Err: err}, start)
		return nil
	}

	var (
		result   outcome
		children catalog.ChildCounts
	)
	now := im.clock.Now()
	err = im.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		result, children = "", catalog.ChildCounts{}
		id, found, err := tx.FindItemByURL(ctx, url)
		if err != nil {
			return err
		}
		if found && mode == catalog.ModeCreate {
			result = outcomeSkipped
			return nil
		}

		item := catalog.ItemFromRecord(rec, refs, now)
		if found {
			item.ID = id
			if err := tx.UpdateItem(ctx, item); err != nil {
				return err
			}
			result = outcomeUpdated
		} else {
			if id, err = tx.InsertItem(ctx, item); err != nil {
				return err
			}
			result = outcomeInserted
		}

		if !rec.HasDetail {
			return nil
		}
		if err := tx.UpsertDetail(ctx, catalog.DetailFromRecord(id, rec, now)); err != nil {
			return err
		}
		children, err = tx.ReplaceChildren(ctx, id, rec)
		return err
	})
	if err != nil {
		if isFatal(ctx, err) {
			return fmt.Errorf("import %s: %w", url, err)
		}
		im.recordFailure(agg, url, &catalog.ImportError{DetailURL: url, Err: err}, start)
		return nil
	}

	agg.add(result, children)
	metrics.ObserveImportRecord(string(result), time.Since(start))
	im.logger.Debug("record imported",
		zap.String("detail_url", url),
		zap.String("outcome", string(result)),
	)
	return nil
}

func (im *Importer) recordFailure(agg *aggregator, url string, err *catalog.ImportError, start time.Time) {
	agg.fail(url, err.Err.Error())
	metrics.ObserveImportRecord(string(outcomeFailed), time.Since(start))
	im.logger.Warn("record import failed", zap.String("detail_url", url), zap.Error(err))
}

// isFatal reports errors after which no further record can succeed.
func isFatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, catalog.ErrResolutionConflict) ||
		errors.Is(err, catalog.ErrStoreUnavailable)
}

// groupByKey keeps records sharing a detail URL together and in input order
// so that they are applied sequentially.
func groupByKey(records []catalog.Record) [][]catalog.Record {
	index := make(map[string]int)
	var groups [][]catalog.Record
	for _, rec := range records {
		key := rec.DetailURL()
		if key == "" {
			groups = append(groups, []catalog.Record{rec})
			continue
		}
		if i, ok := index[key]; ok {
			groups[i] = append(groups[i], rec)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, []catalog.Record{rec})
	}
	return groups
}

type aggregator struct {
	mu    sync.Mutex
	stats catalog.ImportStats
}

func (a *aggregator) add(result outcome, children catalog.ChildCounts) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch result {
	case outcomeInserted:
		a.stats.Inserted++
	case outcomeUpdated:
		a.stats.Updated++
	case outcomeSkipped:
		a.stats.Skipped++
	}
	a.stats.Children.Add(children)
}

func (a *aggregator) fail(url, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.AddFailure(url, reason)
}

func (a *aggregator) snapshot() catalog.ImportStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.stats
	out.Failures = append([]catalog.Failure(nil), a.stats.Failures...)
	return out
}
