package catalog

import (
	"strconv"
	"strings"
	"time"
)

// MediaType classifies an image reference.
type MediaType string

// Media types found on detail pages.
const (
	MediaMain    MediaType = "main"
	MediaGallery MediaType = "gallery"
)

// Characteristic is a raw name/value pair from a specification table.
type Characteristic struct {
	Name  string
	Value string
}

// Link is an anchor embedded in a content block.
type Link struct {
	URL  string
	Text string
}

// ContentBlock is one ordered fragment of a detail page.
type ContentBlock struct {
	Name  string
	Label string
	Text  string
	Links []Link
}

// MediaRef points at an image attached to an item.
type MediaRef struct {
	URL     string
	Type    MediaType
	AltText string
}

// Record is the extracted, pre-import representation of one catalog item.
type Record struct {
	Fields          Fields
	Characteristics []Characteristic
	Blocks          []ContentBlock
	Media           []MediaRef
	HasDetail       bool
	DetailFile      string
	ScrapedAt       time.Time
	// Defect is set when the record could not be fully materialized from an
	// artifact set; such records are reported as failed by the importer.
	Defect string
}

// NewRecord returns an empty record ready for field assignment.
func NewRecord() Record {
	return Record{Fields: make(Fields)}
}

// Name returns the item name.
func (r Record) Name() string {
	return r.Fields.Value(FieldName)
}

// DetailURL returns the natural key of the record.
func (r Record) DetailURL() string {
	return r.Fields.Value(FieldDetailURL)
}

// PageNumber returns the index page the record was discovered on, or 0.
func (r Record) PageNumber() int {
	n, _ := r.Int(FieldPageNumber)
	return n
}

// Int parses f as an integer; ok is false when absent or not numeric.
func (r Record) Int(f Field) (int, bool) {
	v, present := r.Fields.Get(f)
	if !present {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Merge overlays a detail-page record onto a card-level record sharing the same detail URL.
func (r Record) Merge(detail Record) Record {
	out := r
	out.Fields = r.Fields.Clone()
	if out.Fields == nil {
		out.Fields = make(Fields)
	}
	for k, v := range detail.Fields {
		// Card-level reference values win; the detail page only fills gaps.
		if _, exists := out.Fields[k]; exists && k != FieldDescription {
			continue
		}
		out.Fields.Set(k, v)
	}
	out.Characteristics = append([]Characteristic(nil), detail.Characteristics...)
	out.Blocks = append([]ContentBlock(nil), detail.Blocks...)
	out.Media = append([]MediaRef(nil), detail.Media...)
	out.HasDetail = detail.HasDetail
	if detail.DetailFile != "" {
		out.DetailFile = detail.DetailFile
	}
	if !detail.ScrapedAt.IsZero() {
		out.ScrapedAt = detail.ScrapedAt
	}
	return out
}

// Validate reports the first structural problem preventing import, or "".
func (r Record) Validate() string {
	switch {
	case r.Defect != "":
		return r.Defect
	case strings.TrimSpace(r.DetailURL()) == "":
		return "missing detail url"
	case strings.TrimSpace(r.Name()) == "":
		return "missing name"
	}
	return ""
}
