package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

// Reference is one stored reference row.
type Reference struct {
	ID   int64
	Name string
	Key  string
}

type catalogState struct {
	nextID   int64
	refs     map[catalog.Family]map[string]Reference
	items    map[int64]catalog.Item
	byURL    map[string]int64
	details  map[int64]catalog.ItemDetail
	children map[int64]catalog.Record
	sessions []catalog.ImportSession
}

func newCatalogState() *catalogState {
	st := &catalogState{
		refs:     make(map[catalog.Family]map[string]Reference),
		items:    make(map[int64]catalog.Item),
		byURL:    make(map[string]int64),
		details:  make(map[int64]catalog.ItemDetail),
		children: make(map[int64]catalog.Record),
	}
	for _, f := range catalog.Families {
		st.refs[f] = make(map[string]Reference)
	}
	return st
}

func (st *catalogState) id() int64 {
	st.nextID++
	return st.nextID
}

// clone copies everything a transaction may mutate. Records and rows are
// values, so a shallow copy of each map is enough.
func (st *catalogState) clone() *catalogState {
	out := &catalogState{
		nextID:   st.nextID,
		refs:     st.refs,
		items:    make(map[int64]catalog.Item, len(st.items)),
		byURL:    make(map[string]int64, len(st.byURL)),
		details:  make(map[int64]catalog.ItemDetail, len(st.details)),
		children: make(map[int64]catalog.Record, len(st.children)),
		sessions: st.sessions,
	}
	for k, v := range st.items {
		out.items[k] = v
	}
	for k, v := range st.byURL {
		out.byURL[k] = v
	}
	for k, v := range st.details {
		out.details[k] = v
	}
	for k, v := range st.children {
		out.children[k] = v
	}
	return out
}

// CatalogStore is an in-process catalog.Store. Transactions are serialized
// and applied only when they succeed. GetOrCreateReference must not be
// called from inside WithTx.
type CatalogStore struct {
	mu    sync.Mutex
	state *catalogState
}

var _ catalog.Store = (*CatalogStore)(nil)

// NewCatalogStore returns an empty store.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{state: newCatalogState()}
}

// GetOrCreateReference returns the row for (family, key), creating it on first use.
func (s *CatalogStore) GetOrCreateReference(_ context.Context, family catalog.Family, key, display string) (int64, bool, error) {
	if err := family.Validate(); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.state.refs[family]
	if ref, ok := rows[key]; ok {
		return ref.ID, false, nil
	}
	ref := Reference{ID: s.state.id(), Name: display, Key: key}
	rows[key] = ref
	return ref.ID, true, nil
}

// WithTx runs fn against a private copy of the state and publishes it on success.
func (s *CatalogStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx catalog.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(ctx, &memoryTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// BeginSession appends a running session.
func (s *CatalogStore) BeginSession(_ context.Context, name string, mode catalog.ImportMode, startedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := catalog.ImportSession{
		ID:        s.state.id(),
		Name:      name,
		Mode:      mode,
		StartedAt: startedAt,
		Status:    catalog.SessionRunning,
	}
	s.state.sessions = append(append([]catalog.ImportSession(nil), s.state.sessions...), sess)
	return sess.ID, nil
}

// FinishSession closes a running session; finished sessions are immutable.
func (s *CatalogStore) FinishSession(_ context.Context, session catalog.ImportSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := append([]catalog.ImportSession(nil), s.state.sessions...)
	for i := range sessions {
		if sessions[i].ID != session.ID {
			continue
		}
		if sessions[i].EndedAt != nil {
			return fmt.Errorf("import session %d is missing or already finished", session.ID)
		}
		ended := time.Now().UTC()
		if session.EndedAt != nil {
			ended = *session.EndedAt
		}
		sessions[i].EndedAt = &ended
		sessions[i].Status = session.Status
		sessions[i].Stats = session.Stats
		sessions[i].Notes = session.Notes
		s.state.sessions = sessions
		return nil
	}
	return fmt.Errorf("import session %d is missing or already finished", session.ID)
}

// Ping always succeeds.
func (s *CatalogStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *CatalogStore) Close() {}

// Item returns the stored row for detailURL.
func (s *CatalogStore) Item(detailURL string) (catalog.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.state.byURL[detailURL]
	if !ok {
		return catalog.Item{}, false
	}
	return s.state.items[id], true
}

// Detail returns the detail row of an item.
func (s *CatalogStore) Detail(itemID int64) (catalog.ItemDetail, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.state.details[itemID]
	return d, ok
}

// Children returns the owned collections of an item.
func (s *CatalogStore) Children(itemID int64) catalog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.children[itemID]
}

// References lists a family's rows ordered by id.
func (s *CatalogStore) References(family catalog.Family) []Reference {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reference, 0, len(s.state.refs[family]))
	for _, ref := range s.state.refs[family] {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ItemCount returns the number of stored items.
func (s *CatalogStore) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.items)
}

// Sessions returns a copy of every import session.
func (s *CatalogStore) Sessions() []catalog.ImportSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalog.ImportSession(nil), s.state.sessions...)
}

// Stats computes the same aggregates as the relational store.
func (s *CatalogStore) Stats(context.Context) (catalog.StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state

	var out catalog.StoreStats
	var chars, blocks, links, media int
	for _, rec := range st.children {
		chars += len(rec.Characteristics)
		blocks += len(rec.Blocks)
		media += len(rec.Media)
		for _, b := range rec.Blocks {
			links += len(b.Links)
		}
	}
	out.Tables = []catalog.Count{
		{Label: "missiles", Value: len(st.items)},
		{Label: "missile_details", Value: len(st.details)},
	}
	for _, f := range catalog.Families {
		out.Tables = append(out.Tables, catalog.Count{Label: f.Table(), Value: len(st.refs[f])})
	}
	out.Tables = append(out.Tables,
		catalog.Count{Label: "characteristics", Value: chars},
		catalog.Count{Label: "content_blocks", Value: blocks},
		catalog.Count{Label: "content_block_links", Value: links},
		catalog.Count{Label: "missile_media", Value: media},
		catalog.Count{Label: "import_sessions", Value: len(st.sessions)},
	)

	names := func(family catalog.Family) map[int64]string {
		m := make(map[int64]string, len(st.refs[family]))
		for _, ref := range st.refs[family] {
			m[ref.ID] = ref.Name
		}
		return m
	}
	countries, purposes := names(catalog.FamilyCountry), names(catalog.FamilyPurpose)
	byCountry := make(map[string]int)
	byPurpose := make(map[string]int)
	buckets := make(map[string]int)
	decades := make(map[string]int)
	for _, item := range st.items {
		byCountry[labelOr(countries[item.References[catalog.FamilyCountry]])]++
		byPurpose[labelOr(purposes[item.References[catalog.FamilyPurpose]])]++
		if item.RangeKM != nil {
			buckets[rangeBucket(*item.RangeKM)]++
		}
		if item.YearDeveloped != nil {
			decades[strconv.Itoa(*item.YearDeveloped/10*10)+"s"]++
		}
	}
	out.ByCountry = topCounts(byCountry, 15)
	out.ByPurpose = topCounts(byPurpose, 15)
	for _, label := range rangeBucketLabels {
		if n := buckets[label]; n > 0 {
			out.RangeBuckets = append(out.RangeBuckets, catalog.Count{Label: label, Value: n})
		}
	}
	out.Decades = sortedCounts(decades)

	charNames := make(map[string]int)
	for _, rec := range st.children {
		for _, c := range rec.Characteristics {
			charNames[c.Name]++
		}
	}
	out.TopCharacteristics = topCounts(charNames, 10)

	sessions := append([]catalog.ImportSession(nil), st.sessions...)
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].StartedAt.After(sessions[j].StartedAt) })
	if len(sessions) > 5 {
		sessions = sessions[:5]
	}
	out.Sessions = sessions
	return out, nil
}

var rangeBucketLabels = []string{"<100 km", "100-1000 km", "1000-5000 km", ">5000 km"}

func rangeBucket(km int) string {
	switch {
	case km < 100:
		return rangeBucketLabels[0]
	case km < 1000:
		return rangeBucketLabels[1]
	case km < 5000:
		return rangeBucketLabels[2]
	default:
		return rangeBucketLabels[3]
	}
}

func labelOr(name string) string {
	if name == "" {
		return catalog.UnknownReference
	}
	return name
}

// topCounts orders by count descending, then label, and keeps the first n.
func topCounts(m map[string]int, n int) []catalog.Count {
	out := make([]catalog.Count, 0, len(m))
	for k, v := range m {
		out = append(out, catalog.Count{Label: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Label < out[j].Label
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func sortedCounts(m map[string]int) []catalog.Count {
	out := make([]catalog.Count, 0, len(m))
	for k, v := range m {
		out = append(out, catalog.Count{Label: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

type memoryTx struct {
	st *catalogState
}

func (t *memoryTx) FindItemByURL(_ context.Context, detailURL string) (int64, bool, error) {
	id, ok := t.st.byURL[detailURL]
	return id, ok, nil
}

func (t *memoryTx) InsertItem(_ context.Context, item catalog.Item) (int64, error) {
	if _, exists := t.st.byURL[item.DetailURL]; exists {
		return 0, fmt.Errorf("insert missile: duplicate detail_url %q", item.DetailURL)
	}
	item.ID = t.st.id()
	item.References = cloneRefs(item.References)
	t.st.items[item.ID] = item
	t.st.byURL[item.DetailURL] = item.ID
	return item.ID, nil
}

func (t *memoryTx) UpdateItem(_ context.Context, item catalog.Item) error {
	prev, ok := t.st.items[item.ID]
	if !ok {
		return fmt.Errorf("update missile %d: no such row", item.ID)
	}
	if item.Description == "" {
		item.Description = prev.Description
	}
	item.HasDetail = item.HasDetail || prev.HasDetail
	item.References = cloneRefs(item.References)
	if prev.DetailURL != item.DetailURL {
		delete(t.st.byURL, prev.DetailURL)
		t.st.byURL[item.DetailURL] = item.ID
	}
	t.st.items[item.ID] = item
	return nil
}

func (t *memoryTx) UpsertDetail(_ context.Context, detail catalog.ItemDetail) error {
	if _, ok := t.st.items[detail.ItemID]; !ok {
		return fmt.Errorf("upsert missile detail %d: no such missile", detail.ItemID)
	}
	detail.Specs = detail.Specs.Clone()
	t.st.details[detail.ItemID] = detail
	return nil
}

func (t *memoryTx) ReplaceChildren(_ context.Context, itemID int64, rec catalog.Record) (catalog.ChildCounts, error) {
	if _, ok := t.st.items[itemID]; !ok {
		return catalog.ChildCounts{}, fmt.Errorf("replace children of %d: no such missile", itemID)
	}
	owned := catalog.Record{
		Characteristics: append([]catalog.Characteristic(nil), rec.Characteristics...),
		Media:           append([]catalog.MediaRef(nil), rec.Media...),
	}
	counts := catalog.ChildCounts{
		Characteristics: len(owned.Characteristics),
		Blocks:          len(rec.Blocks),
		Media:           len(owned.Media),
	}
	for _, b := range rec.Blocks {
		b.Links = append([]catalog.Link(nil), b.Links...)
		counts.Links += len(b.Links)
		owned.Blocks = append(owned.Blocks, b)
	}
	t.st.children[itemID] = owned
	return counts, nil
}

func cloneRefs(refs catalog.ReferenceIDs) catalog.ReferenceIDs {
	if refs == nil {
		return nil
	}
	out := make(catalog.ReferenceIDs, len(refs))
	for k, v := range refs {
		out[k] = v
	}
	return out
}
