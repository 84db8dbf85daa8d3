// Package crawler walks the catalog listing pages and collects item pages.
//
// A run is driven by Engine: index pages are pulled one by one through an
// IndexIterator, item pages are fanned out behind the Politeness controller,
// and every fetched page is captured verbatim through a RawStore before its
// records reach the ArtifactSink.
package crawler
