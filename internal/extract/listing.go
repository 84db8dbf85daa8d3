package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

var (
	rangePattern = regexp.MustCompile(`(\d+)\s*км\.`)
	yearPattern  = regexp.MustCompile(`(\d{4})\s*г\.`)
	pagePattern  = regexp.MustCompile(`[?&]page=(\d+)`)
)

// cardLabels maps the abbreviated card labels to record fields.
// The guidance label appears with both a Latin and a Cyrillic "C".
var cardLabels = map[string]catalog.Field{
	"Баз.": catalog.FieldBase,
	"Наз.": catalog.FieldPurpose,
	"Б/Ч.": catalog.FieldWarhead,
	"C/У.": catalog.FieldGuidance,
	"С/У.": catalog.FieldGuidance,
	"Стр.": catalog.FieldCountry,
}

// PageLink is a pagination anchor.
type PageLink struct {
	URL    string
	Number int
}

// IndexPage is the parsed content of one listing page.
type IndexPage struct {
	Listings []catalog.Record
	Pages    []PageLink
}

// ExtractIndex parses an index page once, returning its cards and pagination anchors.
func ExtractIndex(pageURL string, pageNumber int, content []byte) (IndexPage, error) {
	doc, base, err := parse(pageURL, content)
	if err != nil {
		return IndexPage{}, err
	}
	listings, err := listingsFrom(doc, base, pageURL, pageNumber)
	return IndexPage{Listings: listings, Pages: paginationFrom(doc, base)}, err
}

// ExtractListings parses the item cards of an index page, in page order.
// Cards repeating an already seen detail URL are dropped.
func ExtractListings(pageURL string, pageNumber int, content []byte) ([]catalog.Record, error) {
	page, err := ExtractIndex(pageURL, pageNumber, content)
	return page.Listings, err
}

func listingsFrom(doc *goquery.Document, base *url.URL, pageURL string, pageNumber int) ([]catalog.Record, error) {
	var (
		records []catalog.Record
		diags   []error
		seen    = make(map[string]struct{})
	)
	doc.Find(".card").Each(func(_ int, card *goquery.Selection) {
		anchor := card.Find("h2 a").First()
		if anchor.Length() == 0 {
			return
		}
		name := cleanText(anchor.Text())
		href, _ := anchor.Attr("href")
		detailURL := absolute(base, href)
		if name == "" || detailURL == "" {
			diags = append(diags, &catalog.ExtractionError{URL: pageURL, Reason: "card without name or detail link"})
			return
		}
		if _, dup := seen[detailURL]; dup {
			return
		}
		seen[detailURL] = struct{}{}

		rec := catalog.NewRecord()
		rec.Fields.Set(catalog.FieldName, name)
		rec.Fields.Set(catalog.FieldDetailURL, detailURL)
		rec.Fields.Set(catalog.FieldIndexURL, pageURL)
		rec.Fields.Set(catalog.FieldPageNumber, strconv.Itoa(pageNumber))
		extractCardFields(card, rec.Fields)
		records = append(records, rec)
	})

	if len(records) == 0 {
		diags = append(diags, &catalog.ExtractionError{URL: pageURL, Reason: "no item cards found"})
	}
	return records, joinDiagnostics(diags)
}

func extractCardFields(card *goquery.Selection, fields catalog.Fields) {
	body := card.Find("div.card-body").First()
	if body.Length() == 0 {
		body = card
	}
	body.Find("div.field-label").Each(func(_ int, label *goquery.Selection) {
		field, ok := cardLabels[cleanText(label.Text())]
		if !ok {
			return
		}
		items := label.NextAllFiltered("div.field-items").First()
		if items.Length() == 0 {
			return
		}
		var values []string
		items.Find("a").Each(func(_ int, a *goquery.Selection) {
			if v := cleanText(a.Text()); v != "" {
				values = append(values, v)
			}
		})
		if len(values) == 0 {
			// Some cards carry plain text instead of taxonomy links.
			values = append(values, cleanText(items.Text()))
		}
		fields.Set(field, strings.Join(values, ", "))
	})

	footer := card.Find("div.card-footer").First()
	if footer.Length() == 0 {
		return
	}
	footerText := cleanText(footer.Text())
	if m := rangePattern.FindStringSubmatch(footerText); m != nil {
		fields.Set(catalog.FieldRangeKM, m[1])
	}
	if m := yearPattern.FindStringSubmatch(footerText); m != nil {
		fields.Set(catalog.FieldYearDeveloped, m[1])
	}
}

// Pagination lists the page=N anchors of an index page in document order,
// deduplicated by URL.
func Pagination(pageURL string, content []byte) []PageLink {
	doc, base, err := parse(pageURL, content)
	if err != nil {
		return nil
	}
	return paginationFrom(doc, base)
}

func paginationFrom(doc *goquery.Document, base *url.URL) []PageLink {
	var (
		links []PageLink
		seen  = make(map[string]struct{})
	)
	doc.Find(`a[href*="page="]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		full := absolute(base, href)
		if full == "" {
			return
		}
		m := pagePattern.FindStringSubmatch(full)
		if m == nil {
			return
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}
		if _, dup := seen[full]; dup {
			return
		}
		seen[full] = struct{}{}
		links = append(links, PageLink{URL: full, Number: n})
	})
	return links
}
