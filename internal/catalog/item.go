package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Item is the relational row for one catalog entry (a missile).
type Item struct {
	ID            int64
	Name          string
	DetailURL     string
	IndexURL      string
	PageNumber    int
	RangeKM       *int
	YearDeveloped *int
	Description   string
	References    ReferenceIDs
	HasDetail     bool
	ScrapedAt     time.Time
}

// ItemDetail is the one-to-one detailed specification row of an item.
type ItemDetail struct {
	ItemID     int64
	DetailFile string
	Specs      Fields
	ScrapedAt  time.Time
}

// ChildCounts reports how many owned rows were written for an item.
type ChildCounts struct {
	Characteristics int `json:"characteristics"`
	Blocks          int `json:"blocks"`
	Links           int `json:"links"`
	Media           int `json:"media"`
}

// Add accumulates other into c.
func (c *ChildCounts) Add(other ChildCounts) {
	c.Characteristics += other.Characteristics
	c.Blocks += other.Blocks
	c.Links += other.Links
	c.Media += other.Media
}

// ItemFromRecord builds the item row for rec using the resolved references.
func ItemFromRecord(rec Record, refs ReferenceIDs, scrapedAt time.Time) Item {
	item := Item{
		Name:        strings.TrimSpace(rec.Name()),
		DetailURL:   strings.TrimSpace(rec.DetailURL()),
		IndexURL:    rec.Fields.Value(FieldIndexURL),
		PageNumber:  rec.PageNumber(),
		Description: rec.Fields.Value(FieldDescription),
		References:  refs,
		HasDetail:   rec.HasDetail,
		ScrapedAt:   scrapedAt,
	}
	if !rec.ScrapedAt.IsZero() {
		item.ScrapedAt = rec.ScrapedAt
	}
	if n, ok := rec.Int(FieldRangeKM); ok {
		item.RangeKM = &n
	}
	if n, ok := rec.Int(FieldYearDeveloped); ok {
		item.YearDeveloped = &n
	}
	return item
}

// DetailFromRecord extracts the detail row for rec.
func DetailFromRecord(itemID int64, rec Record, scrapedAt time.Time) ItemDetail {
	specs := make(Fields)
	for _, f := range DetailFields {
		if v, ok := rec.Fields.Get(f); ok {
			specs[f] = v
		}
	}
	if !rec.ScrapedAt.IsZero() {
		scrapedAt = rec.ScrapedAt
	}
	return ItemDetail{
		ItemID:     itemID,
		DetailFile: rec.DetailFile,
		Specs:      specs,
		ScrapedAt:  scrapedAt,
	}
}

// SessionStatus is the lifecycle state of an import session.
type SessionStatus string

// Import session states.
const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// ImportSession is the append-only metadata row of one import run.
type ImportSession struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Mode      ImportMode    `json:"mode"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Stats     ImportStats   `json:"stats"`
	Status    SessionStatus `json:"status"`
	Notes     string        `json:"notes,omitempty"`
}

// ImportMode selects create-only or upsert behavior.
type ImportMode string

// Import modes.
const (
	ModeCreate ImportMode = "create"
	ModeUpdate ImportMode = "update"
)

// ParseMode validates a user-supplied mode string.
func ParseMode(s string) (ImportMode, error) {
	switch ImportMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeCreate:
		return ModeCreate, nil
	case ModeUpdate:
		return ModeUpdate, nil
	default:
		return "", fmt.Errorf("invalid import mode %q (want create or update)", s)
	}
}
