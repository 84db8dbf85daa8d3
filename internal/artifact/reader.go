package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
	"github.com/JakeFAU/missilery-catalog/internal/storage"
)

// Reader materializes records from an artifact set.
type Reader struct {
	blobs  storage.BlobStore
	logger *zap.Logger
}

// NewReader returns a Reader over blobs.
func NewReader(blobs storage.BlobStore, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{blobs: blobs, logger: logger}
}

// Load returns one record per detail URL, in basic index order followed by
// detailed entries that have no basic counterpart. Detailed entries are
// merged over their basic record. A missing or unparsable index file aborts
// with catalog.ErrArtifactMissing; an undecodable index entry or a missing
// payload only marks that record as defective.
func (r *Reader) Load(ctx context.Context) ([]catalog.Record, error) {
	basic, err := r.readIndex(ctx, BasicIndexPath)
	if err != nil {
		return nil, err
	}
	detailed, err := r.readIndex(ctx, DetailedIndexPath)
	if err != nil {
		return nil, err
	}

	records := make([]catalog.Record, 0, len(basic)+len(detailed))
	pos := make(map[string]int, len(basic))
	for i, raw := range basic {
		var e basicEntry
		var rec catalog.Record
		if err := json.Unmarshal(raw, &e); err != nil {
			rec = r.undecodable(BasicIndexPath, i, raw, err)
		} else {
			rec = e.record()
		}
		url := rec.DetailURL()
		if j, ok := pos[url]; ok && url != "" {
			records[j] = rec
			continue
		}
		if url != "" {
			pos[url] = len(records)
		}
		records = append(records, rec)
	}

	for i, raw := range detailed {
		var e detailedEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			bad := r.undecodable(DetailedIndexPath, i, raw, err)
			if j, ok := pos[bad.DetailURL()]; ok && bad.DetailURL() != "" {
				records[j].Defect = bad.Defect
				continue
			}
			records = append(records, bad)
			continue
		}
		rec, err := r.loadDetailed(ctx, e)
		if err != nil {
			return nil, err
		}
		if j, ok := pos[e.DetailPageURL]; ok {
			records[j] = records[j].Merge(rec)
			if rec.Defect != "" {
				records[j].Defect = rec.Defect
			}
			continue
		}
		base := catalog.NewRecord()
		base.Fields.Set(catalog.FieldName, e.Name)
		base.Fields.Set(catalog.FieldDetailURL, e.DetailPageURL)
		base.Fields.Set(catalog.FieldIndexURL, e.IndexPageURL)
		e.PageNumber.set(base.Fields, catalog.FieldPageNumber)
		merged := base.Merge(rec)
		merged.Defect = rec.Defect
		pos[e.DetailPageURL] = len(records)
		records = append(records, merged)
	}

	r.logger.Info("artifact set loaded",
		zap.Int("basic", len(basic)),
		zap.Int("detailed", len(detailed)),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// undecodable turns an index entry that does not match the schema into a
// defective record, keeping its name and detail URL when they are readable.
func (r *Reader) undecodable(path string, index int, raw json.RawMessage, err error) catalog.Record {
	rec := catalog.NewRecord()
	var loose map[string]any
	if json.Unmarshal(raw, &loose) == nil {
		if name, ok := loose["name"].(string); ok {
			rec.Fields.Set(catalog.FieldName, name)
		}
		if url, ok := loose["detail_page_url"].(string); ok {
			rec.Fields.Set(catalog.FieldDetailURL, url)
		}
	}
	rec.Defect = fmt.Sprintf("%s entry %d: %v", path, index, err)
	r.logger.Warn("artifact index entry unusable",
		zap.String("file", path),
		zap.Int("entry", index),
		zap.String("detail_url", rec.DetailURL()),
		zap.Error(err),
	)
	return rec
}

// loadDetailed reads one payload. Only context cancellation is returned as
// an error; every other problem becomes the record's defect.
func (r *Reader) loadDetailed(ctx context.Context, e detailedEntry) (catalog.Record, error) {
	defective := func(reason string) (catalog.Record, error) {
		r.logger.Warn("detail payload unusable",
			zap.String("detail_url", e.DetailPageURL),
			zap.String("file", e.DetailedFilename),
			zap.String("reason", reason),
		)
		return catalog.Record{Fields: make(catalog.Fields), Defect: reason}, nil
	}
	if e.DetailedFilename == "" {
		return defective("detailed entry has no payload file")
	}

	data, err := r.blobs.GetObject(ctx, DetailPath(e.DetailedFilename))
	if err != nil {
		if ctx.Err() != nil {
			return catalog.Record{}, ctx.Err()
		}
		if errors.Is(err, storage.ErrNotFound) {
			return defective(fmt.Sprintf("payload %s missing", e.DetailedFilename))
		}
		return defective(fmt.Sprintf("read payload %s: %v", e.DetailedFilename, err))
	}
	var payload detailPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return defective(fmt.Sprintf("decode payload %s: %v", e.DetailedFilename, err))
	}

	rec := payload.record()
	rec.DetailFile = e.DetailedFilename
	if t := parseTime(e.ScrapedAt); !t.IsZero() {
		rec.ScrapedAt = t
	}
	if rec.DetailURL() == "" {
		rec.Fields.Set(catalog.FieldDetailURL, e.DetailPageURL)
	}
	return rec, nil
}

func (r *Reader) readIndex(ctx context.Context, path string) ([]json.RawMessage, error) {
	data, err := r.blobs.GetObject(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s: %w", catalog.ErrArtifactMissing, path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", catalog.ErrArtifactMissing, path, err)
	}
	return entries, nil
}
