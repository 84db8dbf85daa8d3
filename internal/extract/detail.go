package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

// structuralClasses are field-* classes that mark parts of a block rather than a block.
var structuralClasses = map[string]struct{}{
	"field-label":        {},
	"field-items":        {},
	"field-item":         {},
	"field-label-above":  {},
	"field-label-inline": {},
}

// ExtractDetail parses an item page into a record holding its description,
// content blocks, characteristics, media and the mapped specification fields.
// The returned record is usable even when err is non-nil.
func ExtractDetail(pageURL string, content []byte) (catalog.Record, error) {
	rec := catalog.NewRecord()
	rec.Fields.Set(catalog.FieldDetailURL, pageURL)

	doc, base, err := parse(pageURL, content)
	if err != nil {
		return rec, err
	}

	root := doc.Find("#page-content-inner").First()
	if root.Length() == 0 {
		return rec, &catalog.ExtractionError{URL: pageURL, Reason: "missing #page-content-inner"}
	}
	rec.HasDetail = true

	if title := cleanText(doc.Find("h1").First().Text()); title != "" {
		rec.Fields.Set(catalog.FieldName, title)
	}
	rec.Blocks = extractBlocks(root, base)
	rec.Fields.Set(catalog.FieldDescription, extractDescription(root))
	rec.Characteristics = extractCharacteristics(root)
	rec.Media = extractMedia(root, base)
	applySpecs(rec.Fields, rec.Characteristics)

	var diags []error
	if len(rec.Blocks) == 0 && len(rec.Characteristics) == 0 {
		diags = append(diags, &catalog.ExtractionError{URL: pageURL, Reason: "no content blocks or characteristics"})
	}
	return rec, joinDiagnostics(diags)
}

func extractBlocks(root *goquery.Selection, base *url.URL) []catalog.ContentBlock {
	var (
		blocks []catalog.ContentBlock
		seen   = make(map[string]struct{})
	)
	root.Find(`[class*="field-"]`).Each(func(_ int, el *goquery.Selection) {
		name := blockName(el)
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}

		label := cleanText(el.Find(".field-label").First().Text())
		if label == "" {
			label = cleanText(el.Find("label").First().Text())
		}
		block := catalog.ContentBlock{Name: name, Label: strings.TrimSuffix(label, ":")}

		items := el.Find(".field-items")
		if items.Length() == 0 {
			block.Text = cleanText(el.Text())
			blocks = append(blocks, block)
			return
		}
		block.Text = cleanText(items.Text())
		items.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if full := absolute(base, href); full != "" {
				block.Links = append(block.Links, catalog.Link{URL: full, Text: cleanText(a.Text())})
			}
		})
		blocks = append(blocks, block)
	})
	return blocks
}

// blockName derives the block name from the first field-* class, e.g.
// "field-missile-composition" becomes "missile_composition".
func blockName(el *goquery.Selection) string {
	class, _ := el.Attr("class")
	for _, c := range strings.Fields(class) {
		if !strings.HasPrefix(c, "field-") {
			continue
		}
		if _, structural := structuralClasses[c]; structural {
			return ""
		}
		return strings.ReplaceAll(strings.TrimPrefix(c, "field-"), "-", "_")
	}
	return ""
}

func extractDescription(root *goquery.Selection) string {
	var parts []string
	root.Find(".content-text p").Each(func(_ int, p *goquery.Selection) {
		if t := cleanText(p.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " ")
}

func extractCharacteristics(root *goquery.Selection) []catalog.Characteristic {
	var out []catalog.Characteristic
	root.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		name := cleanText(cells.Eq(0).Text())
		value := cleanText(cells.Eq(1).Text())
		if name == "" || value == "" {
			return
		}
		out = append(out, catalog.Characteristic{Name: strings.TrimSuffix(name, ":"), Value: value})
	})
	return out
}

func extractMedia(root *goquery.Selection, base *url.URL) []catalog.MediaRef {
	var (
		media []catalog.MediaRef
		seen  = make(map[string]struct{})
	)
	add := func(raw string, kind catalog.MediaType, alt string) {
		full := absolute(base, raw)
		if full == "" {
			return
		}
		key := string(kind) + "|" + full
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		media = append(media, catalog.MediaRef{URL: full, Type: kind, AltText: alt})
	}
	root.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		alt, _ := img.Attr("alt")
		add(src, catalog.MediaMain, cleanText(alt))
	})
	root.Find(".gallery-item a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		alt, _ := a.Attr("title")
		add(href, catalog.MediaGallery, cleanText(alt))
	})
	return media
}
