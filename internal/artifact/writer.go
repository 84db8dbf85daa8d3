package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
	"github.com/JakeFAU/missilery-catalog/internal/storage"
)

const jsonContentType = "application/json"

// Writer accumulates crawl output and persists the artifact set. Payload
// files are written as records arrive; the two index files are written by
// Flush.
type Writer struct {
	blobs  storage.BlobStore
	logger *zap.Logger

	mu       sync.Mutex
	basic    []basicEntry
	basicPos map[string]int
	detailed []detailedEntry
	detPos   map[string]int
	files    map[string]string // filename -> detail url
}

// NewWriter returns a Writer persisting to blobs.
func NewWriter(blobs storage.BlobStore, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		blobs:    blobs,
		logger:   logger,
		basicPos: make(map[string]int),
		detPos:   make(map[string]int),
		files:    make(map[string]string),
	}
}

// AddBasic records a card-level record. A repeated detail URL replaces the
// earlier entry in place.
func (w *Writer) AddBasic(_ context.Context, rec catalog.Record) error {
	entry := basicFromRecord(rec)
	if entry.DetailPageURL == "" {
		return fmt.Errorf("basic record %q has no detail url", entry.Name)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.putBasic(entry)
	return nil
}

func (w *Writer) putBasic(entry basicEntry) {
	if i, ok := w.basicPos[entry.DetailPageURL]; ok {
		w.basic[i] = entry
		return
	}
	w.basicPos[entry.DetailPageURL] = len(w.basic)
	w.basic = append(w.basic, entry)
}

func (w *Writer) putDetailed(entry detailedEntry) {
	if i, ok := w.detPos[entry.DetailPageURL]; ok {
		w.detailed[i] = entry
		return
	}
	w.detPos[entry.DetailPageURL] = len(w.detailed)
	w.detailed = append(w.detailed, entry)
}

// AddDetailed writes the payload file of rec and indexes it.
func (w *Writer) AddDetailed(ctx context.Context, rec catalog.Record) error {
	url := rec.DetailURL()
	if url == "" {
		return fmt.Errorf("detailed record %q has no detail url", rec.Name())
	}
	filename := w.reserveFilename(url, rec.Name())

	payload, err := json.MarshalIndent(payloadFromRecord(rec), "", "  ")
	if err != nil {
		return fmt.Errorf("encode payload %s: %w", filename, err)
	}
	if _, err := w.blobs.PutObject(ctx, DetailPath(filename), jsonContentType, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("write payload %s: %w", filename, err)
	}

	page := rec.PageNumber()
	entry := detailedEntry{
		Name:             rec.Name(),
		DetailPageURL:    url,
		IndexPageURL:     rec.Fields.Value(catalog.FieldIndexURL),
		PageNumber:       intPtr(page, page > 0),
		DetailedFilename: filename,
		ScrapedAt:        formatTime(rec.ScrapedAt),
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.putDetailed(entry)
	w.logger.Debug("detail payload written", zap.String("detail_url", url), zap.String("file", filename))
	return nil
}

// Preload buffers the index entries already present in the store so a
// resumed crawl extends the artifact set instead of replacing it. Entries
// that cannot be decoded are dropped with a warning. It returns the number
// of basic entries carried over; a store without indexes yields zero.
func (w *Writer) Preload(ctx context.Context) (int, error) {
	r := NewReader(w.blobs, w.logger)
	basic, err := r.readIndex(ctx, BasicIndexPath)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	detailed, err := r.readIndex(ctx, DetailedIndexPath)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for i, raw := range basic {
		var e basicEntry
		if err := json.Unmarshal(raw, &e); err != nil || e.DetailPageURL == "" {
			w.logger.Warn("dropping unusable basic entry", zap.Int("entry", i), zap.Error(err))
			continue
		}
		w.putBasic(e)
	}
	for i, raw := range detailed {
		var e detailedEntry
		if err := json.Unmarshal(raw, &e); err != nil || e.DetailPageURL == "" || e.DetailedFilename == "" {
			w.logger.Warn("dropping unusable detailed entry", zap.Int("entry", i), zap.Error(err))
			continue
		}
		w.putDetailed(e)
		w.files[e.DetailedFilename] = e.DetailPageURL
	}
	w.logger.Info("artifact indexes preloaded",
		zap.Int("basic", len(w.basic)),
		zap.Int("detailed", len(w.detailed)),
	)
	return len(w.basic), nil
}

// reserveFilename returns the payload name for url, stable across calls.
func (w *Writer) reserveFilename(url, name string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i, ok := w.detPos[url]; ok {
		return w.detailed[i].DetailedFilename
	}
	filename := BaseFilename(url, name)
	if owner, taken := w.files[filename]; taken && owner != url {
		filename = disambiguate(filename, url)
	}
	w.files[filename] = url
	return filename
}

// Counts reports how many basic and detailed entries are buffered.
func (w *Writer) Counts() (basic, detailed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.basic), len(w.detailed)
}

// Flush writes both index files. It may be called repeatedly; each call
// rewrites the indexes with everything seen so far.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	basic := append([]basicEntry{}, w.basic...)
	detailed := append([]detailedEntry{}, w.detailed...)
	w.mu.Unlock()

	if err := w.putJSON(ctx, BasicIndexPath, basic); err != nil {
		return err
	}
	if err := w.putJSON(ctx, DetailedIndexPath, detailed); err != nil {
		return err
	}
	w.logger.Info("artifact indexes written",
		zap.Int("basic", len(basic)),
		zap.Int("detailed", len(detailed)),
	)
	return nil
}

func (w *Writer) putJSON(ctx context.Context, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if _, err := w.blobs.PutObject(ctx, path, jsonContentType, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
