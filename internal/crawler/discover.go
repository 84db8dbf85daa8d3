package crawler

import "github.com/JakeFAU/missilery-catalog/internal/extract"

// Discoverer finds detail links and the next listing page on an index page.
type Discoverer struct {
	allowed []string
}

// NewDiscoverer returns a Discoverer restricted to the allowed hosts.
// An empty list allows every host.
func NewDiscoverer(allowedDomains []string) *Discoverer {
	return &Discoverer{allowed: allowedDomains}
}

// Discover parses an index page. Listings keep page order and hold one record
// per distinct in-site detail link. Next is the lowest numbered pagination
// target above pageNumber that visited does not report; "" ends the iteration.
// A non-nil error is a diagnostic; the Discovery is still usable.
func (d *Discoverer) Discover(pageURL string, pageNumber int, content []byte, visited func(string) bool) (Discovery, error) {
	page, err := extract.ExtractIndex(pageURL, pageNumber, content)

	var out Discovery
	for _, rec := range page.Listings {
		if !sameSite(rec.DetailURL(), d.allowed) {
			continue
		}
		out.Listings = append(out.Listings, rec)
	}

	best := 0
	for _, link := range page.Pages {
		if link.Number <= pageNumber || !sameSite(link.URL, d.allowed) {
			continue
		}
		if visited != nil && visited(canonical(link.URL)) {
			continue
		}
		if best == 0 || link.Number < best {
			best = link.Number
			out.Next = link.URL
		}
	}
	return out, err
}

// canonical normalizes u for visit tracking, falling back to u itself.
func canonical(u string) string {
	n, err := NormalizeURL(u)
	if err != nil {
		return u
	}
	return n
}
