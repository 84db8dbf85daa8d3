// Package extract turns raw catalog pages into sparse records.
//
// Every function here is a pure function of the page bytes and its URL:
// missing elements leave fields absent, and structural surprises are
// reported as *catalog.ExtractionError values alongside a usable record.
package extract

import (
	"bytes"
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

func parse(pageURL string, content []byte) (*goquery.Document, *url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, &catalog.ExtractionError{URL: pageURL, Reason: "invalid page url: " + err.Error()}
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, base, &catalog.ExtractionError{URL: pageURL, Reason: "empty page"}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, base, &catalog.ExtractionError{URL: pageURL, Reason: "parse html: " + err.Error()}
	}
	return doc, base, nil
}

// cleanText collapses runs of whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// absolute resolves href against base; "" when href is empty or unparsable.
func absolute(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String()
}

func joinDiagnostics(diags []error) error {
	if len(diags) == 0 {
		return nil
	}
	return errors.Join(diags...)
}
