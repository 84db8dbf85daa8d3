// Package artifact writes and reads the crawl artifact set: an ordered
// basic index, a detailed index and one payload file per detailed item.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

// Object paths within the blob store.
const (
	BasicIndexPath    = "missiles_basic.json"
	DetailedIndexPath = "missiles_detailed.json"
	DetailDir         = "detailed"
)

// DetailPath returns the blob path of a per-item payload file.
func DetailPath(filename string) string {
	return DetailDir + "/" + filename
}

// flexInt accepts a JSON number, a numeric string or null.
type flexInt struct {
	v     int
	valid bool
}

func intPtr(n int, ok bool) *flexInt {
	if !ok {
		return nil
	}
	return &flexInt{v: n, valid: true}
}

func (f flexInt) MarshalJSON() ([]byte, error) {
	if !f.valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(f.v)), nil
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = flexInt{}
		return nil
	}
	s := string(data)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
		if s == "" {
			*f = flexInt{}
			return nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %s", data)
	}
	*f = flexInt{v: n, valid: true}
	return nil
}

func (f *flexInt) set(fields catalog.Fields, field catalog.Field) {
	if f != nil && f.valid {
		fields.Set(field, strconv.Itoa(f.v))
	}
}

// basicEntry is one element of the basic index.
type basicEntry struct {
	Name           string   `json:"name"`
	DetailPageURL  string   `json:"detail_page_url"`
	IndexPageURL   string   `json:"index_page_url,omitempty"`
	PageNumber     *flexInt `json:"page_number,omitempty"`
	Base           string   `json:"base,omitempty"`
	Purpose        string   `json:"purpose,omitempty"`
	Warhead        string   `json:"warhead,omitempty"`
	GuidanceSystem string   `json:"guidance_system,omitempty"`
	Country        string   `json:"country,omitempty"`
	RangeKM        *flexInt `json:"range_km,omitempty"`
	YearDeveloped  *flexInt `json:"year_developed,omitempty"`
	Description    string   `json:"description,omitempty"`
}

func basicFromRecord(rec catalog.Record) basicEntry {
	page := rec.PageNumber()
	rangeKM, rangeOK := rec.Int(catalog.FieldRangeKM)
	year, yearOK := rec.Int(catalog.FieldYearDeveloped)
	return basicEntry{
		Name:           rec.Name(),
		DetailPageURL:  rec.DetailURL(),
		IndexPageURL:   rec.Fields.Value(catalog.FieldIndexURL),
		PageNumber:     intPtr(page, page > 0),
		Base:           rec.Fields.Value(catalog.FieldBase),
		Purpose:        rec.Fields.Value(catalog.FieldPurpose),
		Warhead:        rec.Fields.Value(catalog.FieldWarhead),
		GuidanceSystem: rec.Fields.Value(catalog.FieldGuidance),
		Country:        rec.Fields.Value(catalog.FieldCountry),
		RangeKM:        intPtr(rangeKM, rangeOK),
		YearDeveloped:  intPtr(year, yearOK),
		Description:    rec.Fields.Value(catalog.FieldDescription),
	}
}

func (e basicEntry) record() catalog.Record {
	rec := catalog.NewRecord()
	rec.Fields.Set(catalog.FieldName, e.Name)
	rec.Fields.Set(catalog.FieldDetailURL, e.DetailPageURL)
	rec.Fields.Set(catalog.FieldIndexURL, e.IndexPageURL)
	e.PageNumber.set(rec.Fields, catalog.FieldPageNumber)
	rec.Fields.Set(catalog.FieldBase, e.Base)
	rec.Fields.Set(catalog.FieldPurpose, e.Purpose)
	rec.Fields.Set(catalog.FieldWarhead, e.Warhead)
	rec.Fields.Set(catalog.FieldGuidance, e.GuidanceSystem)
	rec.Fields.Set(catalog.FieldCountry, e.Country)
	e.RangeKM.set(rec.Fields, catalog.FieldRangeKM)
	e.YearDeveloped.set(rec.Fields, catalog.FieldYearDeveloped)
	rec.Fields.Set(catalog.FieldDescription, e.Description)
	return rec
}

// detailedEntry is one element of the detailed index.
type detailedEntry struct {
	Name             string   `json:"name"`
	DetailPageURL    string   `json:"detail_page_url"`
	IndexPageURL     string   `json:"index_page_url,omitempty"`
	PageNumber       *flexInt `json:"page_number,omitempty"`
	DetailedFilename string   `json:"detailed_filename"`
	ScrapedAt        string   `json:"scraped_at,omitempty"`
}

type linkEntry struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

type blockEntry struct {
	Name  string      `json:"name"`
	Label string      `json:"label,omitempty"`
	Text  string      `json:"text,omitempty"`
	Links []linkEntry `json:"links,omitempty"`
}

// legacyBlock is the keyed block form: links are bare URLs.
type legacyBlock struct {
	Label string   `json:"label"`
	Text  string   `json:"text"`
	Links []string `json:"links"`
}

// structuredContent is written as an ordered array and also accepts the
// keyed object form, preserving key order.
type structuredContent []blockEntry

func (s *structuredContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = nil
		return nil
	case data[0] == '[':
		var blocks []blockEntry
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		*s = blocks
		return nil
	case data[0] == '{':
		return s.decodeKeyed(data)
	default:
		return fmt.Errorf("structured_content: unexpected %q", data[0])
	}
}

func (s *structuredContent) decodeKeyed(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	var out structuredContent
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("structured_content: key %v is not a string", tok)
		}
		var lb legacyBlock
		if err := dec.Decode(&lb); err != nil {
			return fmt.Errorf("structured_content %q: %w", name, err)
		}
		block := blockEntry{Name: name, Label: lb.Label, Text: lb.Text}
		for _, u := range lb.Links {
			block.Links = append(block.Links, linkEntry{URL: u})
		}
		out = append(out, block)
	}
	*s = out
	return nil
}

type characteristicEntry struct {
	FieldName  string `json:"field_name"`
	FieldValue string `json:"field_value"`
}

type mediaEntry struct {
	URL     string `json:"url"`
	Type    string `json:"type"`
	AltText string `json:"alt_text,omitempty"`
}

// detailPayload is the per-item payload file.
type detailPayload struct {
	Name                 string                `json:"name"`
	DetailPageURL        string                `json:"detail_page_url"`
	Description          string                `json:"description,omitempty"`
	StructuredContent    structuredContent     `json:"structured_content,omitempty"`
	CharacteristicsTable []characteristicEntry `json:"characteristics_table,omitempty"`
	Specifications       map[string]string     `json:"specifications,omitempty"`
	Media                []mediaEntry          `json:"media,omitempty"`
	ImageURLs            []string              `json:"image_urls,omitempty"`
	GalleryImages        []string              `json:"gallery_images,omitempty"`
	ScrapedAt            string                `json:"scraped_at,omitempty"`
}

func payloadFromRecord(rec catalog.Record) detailPayload {
	p := detailPayload{
		Name:          rec.Name(),
		DetailPageURL: rec.DetailURL(),
		Description:   rec.Fields.Value(catalog.FieldDescription),
		ScrapedAt:     formatTime(rec.ScrapedAt),
	}
	for _, b := range rec.Blocks {
		entry := blockEntry{Name: b.Name, Label: b.Label, Text: b.Text}
		for _, l := range b.Links {
			entry.Links = append(entry.Links, linkEntry(l))
		}
		p.StructuredContent = append(p.StructuredContent, entry)
	}
	for _, c := range rec.Characteristics {
		p.CharacteristicsTable = append(p.CharacteristicsTable, characteristicEntry{FieldName: c.Name, FieldValue: c.Value})
	}
	for _, f := range catalog.DetailFields {
		if v, ok := rec.Fields.Get(f); ok {
			if p.Specifications == nil {
				p.Specifications = make(map[string]string)
			}
			p.Specifications[string(f)] = v
		}
	}
	for _, m := range rec.Media {
		p.Media = append(p.Media, mediaEntry{URL: m.URL, Type: string(m.Type), AltText: m.AltText})
		if m.Type == catalog.MediaGallery {
			p.GalleryImages = append(p.GalleryImages, m.URL)
		} else {
			p.ImageURLs = append(p.ImageURLs, m.URL)
		}
	}
	return p
}

func (p detailPayload) record() catalog.Record {
	rec := catalog.NewRecord()
	rec.HasDetail = true
	rec.Fields.Set(catalog.FieldName, p.Name)
	rec.Fields.Set(catalog.FieldDetailURL, p.DetailPageURL)
	rec.Fields.Set(catalog.FieldDescription, p.Description)
	for k, v := range p.Specifications {
		rec.Fields.Set(catalog.Field(k), v)
	}
	for _, b := range p.StructuredContent {
		block := catalog.ContentBlock{Name: b.Name, Label: b.Label, Text: b.Text}
		for _, l := range b.Links {
			block.Links = append(block.Links, catalog.Link(l))
		}
		rec.Blocks = append(rec.Blocks, block)
	}
	for _, c := range p.CharacteristicsTable {
		if strings.TrimSpace(c.FieldName) == "" {
			continue
		}
		rec.Characteristics = append(rec.Characteristics, catalog.Characteristic{Name: c.FieldName, Value: c.FieldValue})
	}
	if len(p.Media) > 0 {
		for _, m := range p.Media {
			rec.Media = append(rec.Media, catalog.MediaRef{URL: m.URL, Type: catalog.MediaType(m.Type), AltText: m.AltText})
		}
	} else {
		for _, u := range p.ImageURLs {
			rec.Media = append(rec.Media, catalog.MediaRef{URL: u, Type: catalog.MediaMain})
		}
		for _, u := range p.GalleryImages {
			rec.Media = append(rec.Media, catalog.MediaRef{URL: u, Type: catalog.MediaGallery})
		}
	}
	rec.ScrapedAt = parseTime(p.ScrapedAt)
	return rec
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts RFC 3339 and zone-less ISO timestamps, the latter as UTC.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
