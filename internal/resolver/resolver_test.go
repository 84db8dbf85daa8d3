package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
	"github.com/JakeFAU/missilery-catalog/internal/storage/memory"
)

type countingStore struct {
	inner *memory.CatalogStore
	calls atomic.Int64
	err   error
}

func (s *countingStore) GetOrCreateReference(ctx context.Context, family catalog.Family, key, display string) (int64, bool, error) {
	s.calls.Add(1)
	if s.err != nil {
		return 0, false, s.err
	}
	return s.inner.GetOrCreateReference(ctx, family, key, display)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		display string
		key     string
	}{
		{"  Россия ", "Россия", "россия"},
		{"РОССИЯ", "РОССИЯ", "россия"},
		{"Russia,\t USSR", "Russia, USSR", "russia, ussr"},
		{"", catalog.UnknownReference, "unknown"},
		{"   ", catalog.UnknownReference, "unknown"},
	}
	for _, tt := range tests {
		display, key := Normalize(tt.in)
		assert.Equal(t, tt.display, display, "display of %q", tt.in)
		assert.Equal(t, tt.key, key, "key of %q", tt.in)
	}
}

func TestResolveDeduplicatesCaseAndWhitespace(t *testing.T) {
	t.Parallel()

	store := &countingStore{inner: memory.NewCatalogStore()}
	r := New(store, nil)
	ctx := context.Background()

	a, err := r.Resolve(ctx, catalog.FamilyCountry, "Россия")
	require.NoError(t, err)
	b, err := r.Resolve(ctx, catalog.FamilyCountry, " россия  ")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, int64(1), store.calls.Load(), "second lookup is served from the cache")

	other, err := r.Resolve(ctx, catalog.FamilyPurpose, "Россия")
	require.NoError(t, err)
	assert.NotEqual(t, a, other, "families do not share rows")

	assert.Equal(t, catalog.ReferenceCounts{Created: 1, Reused: 1}, r.Counts()[catalog.FamilyCountry])
	require.Len(t, store.inner.References(catalog.FamilyCountry), 1)
}

func TestResolveEmptyUsesUnknownSentinel(t *testing.T) {
	t.Parallel()

	store := &countingStore{inner: memory.NewCatalogStore()}
	r := New(store, nil)

	a, err := r.Resolve(context.Background(), catalog.FamilyGuidance, "")
	require.NoError(t, err)
	b, err := r.Resolve(context.Background(), catalog.FamilyGuidance, "unknown")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	refs := store.inner.References(catalog.FamilyGuidance)
	require.Len(t, refs, 1)
	assert.Equal(t, catalog.UnknownReference, refs[0].Name)
}

func TestResolveConcurrentCallersShareOneRow(t *testing.T) {
	t.Parallel()

	store := &countingStore{inner: memory.NewCatalogStore()}
	r := New(store, nil)

	const workers = 32
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Resolve(context.Background(), catalog.FamilyCountry, "США")
			if assert.NoError(t, err) {
				ids[i] = id
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	require.Len(t, store.inner.References(catalog.FamilyCountry), 1)
	counts := r.Counts()[catalog.FamilyCountry]
	assert.Equal(t, 1, counts.Created)
	assert.Equal(t, workers-1, counts.Reused)
}

func TestResolveRecordCoversEveryFamily(t *testing.T) {
	t.Parallel()

	r := New(&countingStore{inner: memory.NewCatalogStore()}, nil)
	rec := catalog.NewRecord()
	rec.Fields.Set(catalog.FieldCountry, "Россия")
	rec.Fields.Set(catalog.FieldBase, "Мобильный")

	ids, err := r.ResolveRecord(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, ids, len(catalog.Families))
	for _, family := range catalog.Families {
		assert.NotZero(t, ids[family], family)
	}
	assert.Equal(t, ids[catalog.FamilyPurpose], mustResolve(t, r, catalog.FamilyPurpose, ""))
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	store := &countingStore{err: catalog.ErrResolutionConflict}
	r := New(store, nil)

	_, err := r.Resolve(context.Background(), catalog.FamilyCountry, "x")
	require.ErrorIs(t, err, catalog.ErrResolutionConflict)

	_, err = r.Resolve(context.Background(), catalog.Family("bogus"), "x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, catalog.ErrResolutionConflict))
}

func mustResolve(t *testing.T, r *Resolver, family catalog.Family, name string) int64 {
	t.Helper()
	id, err := r.Resolve(context.Background(), family, name)
	require.NoError(t, err)
	return id
}
