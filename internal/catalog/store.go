package catalog

import (
	"context"
	"time"
)

// ReferenceStore performs the get-or-create primitive for reference rows.
// Implementations must guarantee at most one row per (family, key).
type ReferenceStore interface {
	GetOrCreateReference(ctx context.Context, family Family, key, display string) (id int64, created bool, err error)
}

// Tx is the per-record unit of work used by the importer.
type Tx interface {
	FindItemByURL(ctx context.Context, detailURL string) (id int64, found bool, err error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	UpsertDetail(ctx context.Context, detail ItemDetail) error
	// ReplaceChildren deletes the item's owned collections and writes rec's.
	ReplaceChildren(ctx context.Context, itemID int64, rec Record) (ChildCounts, error)
}

// Store is the relational catalog store.
type Store interface {
	ReferenceStore
	// WithTx runs fn in a transaction, committing only when fn returns nil.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	BeginSession(ctx context.Context, name string, mode ImportMode, startedAt time.Time) (int64, error)
	FinishSession(ctx context.Context, session ImportSession) error
	Stats(ctx context.Context) (StoreStats, error)
	Ping(ctx context.Context) error
	Close()
}
