package catalog

import "sort"

// Failure records why one natural key failed to import.
type Failure struct {
	DetailURL string `json:"detail_url"`
	Reason    string `json:"reason"`
}

// ReferenceCounts tracks get-or-create outcomes for one family.
type ReferenceCounts struct {
	Created int `json:"created"`
	Reused  int `json:"reused"`
}

// ImportStats summarizes one import run.
type ImportStats struct {
	Inserted   int                        `json:"inserted"`
	Updated    int                        `json:"updated"`
	Skipped    int                        `json:"skipped"`
	Failed     int                        `json:"failed"`
	Failures   []Failure                  `json:"failures,omitempty"`
	Children   ChildCounts                `json:"children"`
	References map[Family]ReferenceCounts `json:"references,omitempty"`
}

// Total returns the number of records processed.
func (s ImportStats) Total() int {
	return s.Inserted + s.Updated + s.Skipped + s.Failed
}

// AddFailure counts a failed record.
func (s *ImportStats) AddFailure(detailURL, reason string) {
	s.Failed++
	s.Failures = append(s.Failures, Failure{DetailURL: detailURL, Reason: reason})
}

// SortFailures orders failures by natural key for stable reporting.
func (s *ImportStats) SortFailures() {
	sort.SliceStable(s.Failures, func(i, j int) bool {
		return s.Failures[i].DetailURL < s.Failures[j].DetailURL
	})
}

// Count is a labeled aggregate used by store statistics.
type Count struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// StoreStats aggregates the relational store for reporting.
type StoreStats struct {
	Tables             []Count         `json:"tables"`
	ByCountry          []Count         `json:"by_country"`
	ByPurpose          []Count         `json:"by_purpose"`
	RangeBuckets       []Count         `json:"range_buckets"`
	Decades            []Count         `json:"decades"`
	TopCharacteristics []Count         `json:"top_characteristics"`
	Sessions           []ImportSession `json:"sessions"`
}
