// Package resolver maps free-text reference values onto deduplicated
// reference rows.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
	"github.com/JakeFAU/missilery-catalog/internal/metrics"
)

var folder = cases.Fold()

// Normalize returns the display form and the comparison key of a reference
// name. Blank input yields the Unknown sentinel.
func Normalize(name string) (display, key string) {
	display = strings.Join(strings.Fields(norm.NFC.String(name)), " ")
	if display == "" {
		display = catalog.UnknownReference
	}
	return display, folder.String(display)
}

// Resolver caches reference ids and collapses concurrent lookups of the
// same key into one store round trip.
type Resolver struct {
	store  catalog.ReferenceStore
	logger *zap.Logger
	group  singleflight.Group

	mu     sync.RWMutex
	cache  map[catalog.Family]map[string]int64
	counts map[catalog.Family]catalog.ReferenceCounts
}

// New builds a Resolver over store.
func New(store catalog.ReferenceStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:  store,
		logger: logger,
		cache:  make(map[catalog.Family]map[string]int64),
		counts: make(map[catalog.Family]catalog.ReferenceCounts),
	}
}

// resolution is shared by every caller joined on one lookup; exactly one of
// them claims the creation.
type resolution struct {
	id      int64
	created bool
	claimed *atomic.Bool
}

// Resolve returns the id of the reference row for name in family.
func (r *Resolver) Resolve(ctx context.Context, family catalog.Family, name string) (int64, error) {
	if err := family.Validate(); err != nil {
		return 0, err
	}
	display, key := Normalize(name)

	r.mu.RLock()
	id, ok := r.cache[family][key]
	r.mu.RUnlock()
	if ok {
		r.count(family, false)
		return id, nil
	}

	v, err, _ := r.group.Do(string(family)+"|"+key, func() (any, error) {
		id, created, err := r.store.GetOrCreateReference(ctx, family, key, display)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.cache[family] == nil {
			r.cache[family] = make(map[string]int64)
		}
		r.cache[family][key] = id
		r.mu.Unlock()
		return resolution{id: id, created: created, claimed: new(atomic.Bool)}, nil
	})
	if err != nil {
		return 0, fmt.Errorf("resolve %s %q: %w", family, display, err)
	}
	res := v.(resolution)
	created := res.created && res.claimed.CompareAndSwap(false, true)
	r.count(family, created)
	if created {
		r.logger.Debug("reference created",
			zap.String("family", string(family)),
			zap.String("name", display),
			zap.Int64("id", res.id),
		)
	}
	return res.id, nil
}

// ResolveRecord resolves every reference family of rec.
func (r *Resolver) ResolveRecord(ctx context.Context, rec catalog.Record) (catalog.ReferenceIDs, error) {
	ids := make(catalog.ReferenceIDs, len(catalog.Families))
	for _, family := range catalog.Families {
		id, err := r.Resolve(ctx, family, rec.Fields.Value(family.Field()))
		if err != nil {
			return nil, err
		}
		ids[family] = id
	}
	return ids, nil
}

// Counts returns the created/reused tallies per family.
func (r *Resolver) Counts() map[catalog.Family]catalog.ReferenceCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[catalog.Family]catalog.ReferenceCounts, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

func (r *Resolver) count(family catalog.Family, created bool) {
	metrics.ObserveReference(string(family), created)
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counts[family]
	if created {
		c.Created++
	} else {
		c.Reused++
	}
	r.counts[family] = c
}
