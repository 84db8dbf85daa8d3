package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestGetOrCreateReferenceCreates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO countries").
		WithArgs("Россия", "россия").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, created, err := store.GetOrCreateReference(context.Background(), catalog.FamilyCountry, "россия", "Россия")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateReferenceReusesExisting(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO base_types").
		WithArgs("Мобильный", "мобильный").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT id FROM base_types").
		WithArgs("мобильный").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))

	id, created, err := store.GetOrCreateReference(context.Background(), catalog.FamilyPlatform, "мобильный", "Мобильный")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateReferenceConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO purposes").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT id FROM purposes").WillReturnError(pgx.ErrNoRows)

	_, _, err := store.GetOrCreateReference(context.Background(), catalog.FamilyPurpose, "x", "X")
	require.ErrorIs(t, err, catalog.ErrResolutionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateReferenceRejectsUnknownFamily(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	_, _, err := store.GetOrCreateReference(context.Background(), catalog.Family("rockets"), "x", "X")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM missiles WHERE detail_url").
		WithArgs("https://missilery.info/missile/a").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO missiles").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	var gotID int64
	err := store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		_, found, err := tx.FindItemByURL(ctx, "https://missilery.info/missile/a")
		if err != nil {
			return err
		}
		assert.False(t, found)
		gotID, err = tx.InsertItem(ctx, catalog.Item{Name: "A", DetailURL: "https://missilery.info/missile/a"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), gotID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.WithTx(context.Background(), func(context.Context, catalog.Tx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxBeginFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := store.WithTx(context.Background(), func(context.Context, catalog.Tx) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.ErrorIs(t, err, catalog.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "begin tx")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateItemMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE missiles SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		return tx.UpdateItem(ctx, catalog.Item{ID: 99, Name: "A", DetailURL: "u"})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such row")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDetailWritesEveryField(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	scraped := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	args := []any{int64(5), ptr("topol.json")}
	for _, f := range catalog.DetailFields {
		if f == catalog.FieldSpeed {
			args = append(args, ptr("3 М"))
			continue
		}
		args = append(args, (*string)(nil))
	}
	args = append(args, scraped)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO missile_details").
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		return tx.UpsertDetail(ctx, catalog.ItemDetail{
			ItemID:     5,
			DetailFile: "topol.json",
			Specs:      catalog.Fields{catalog.FieldSpeed: "3 М"},
			ScrapedAt:  scraped,
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceChildren(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := catalog.Record{
		Characteristics: []catalog.Characteristic{{Name: "Дальность", Value: "500 км"}, {Name: "Масса", Value: "3 т"}},
		Blocks: []catalog.ContentBlock{
			{Name: "developer", Text: "КБМ"},
			{Name: "composition", Label: "Состав", Links: []catalog.Link{{URL: "https://missilery.info/x", Text: "X"}}},
		},
		Media: []catalog.MediaRef{{URL: "https://missilery.info/a.jpg", Type: catalog.MediaMain}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM characteristics").WithArgs(int64(5)).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec("DELETE FROM content_blocks").WithArgs(int64(5)).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM missile_media").WithArgs(int64(5)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"characteristics"}, characteristicColumns).WillReturnResult(2)
	mock.ExpectQuery("INSERT INTO content_blocks").
		WithArgs(int64(5), 0, "developer", (*string)(nil), ptr("КБМ")).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(100)))
	mock.ExpectQuery("INSERT INTO content_blocks").
		WithArgs(int64(5), 1, "composition", ptr("Состав"), (*string)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(101)))
	mock.ExpectCopyFrom(pgx.Identifier{"content_block_links"}, linkColumns).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"missile_media"}, mediaColumns).WillReturnResult(1)
	mock.ExpectCommit()

	var counts catalog.ChildCounts
	err := store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		var err error
		counts, err = tx.ReplaceChildren(ctx, 5, rec)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.ChildCounts{Characteristics: 2, Blocks: 2, Links: 1, Media: 1}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceChildrenWithEmptyRecordOnlyClears(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM characteristics").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM content_blocks").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM missile_media").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		counts, err := tx.ReplaceChildren(ctx, 5, catalog.Record{})
		assert.Zero(t, counts)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)

	mock.ExpectQuery("INSERT INTO import_sessions").
		WithArgs("import-1", "update", start, "running").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("UPDATE import_sessions SET").
		WithArgs(int64(1), end, "completed", 4, 2, 1, 0, 1, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE import_sessions SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	id, err := store.BeginSession(ctx, "import-1", catalog.ModeUpdate, start)
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	sess := catalog.ImportSession{
		ID:      id,
		EndedAt: &end,
		Status:  catalog.SessionCompleted,
		Stats:   catalog.ImportStats{Inserted: 2, Updated: 1, Failed: 1},
	}
	require.NoError(t, store.FinishSession(ctx, sess))

	err = store.FinishSession(ctx, sess)
	require.Error(t, err, "a finished session is terminal")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	for _, family := range catalog.Families {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + family.Table()).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS missiles").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS missile_details").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS characteristics").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS import_sessions").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDetailsDDLHasEverySpecColumn(t *testing.T) {
	t.Parallel()

	ddl := detailsDDL()
	for _, f := range catalog.DetailFields {
		assert.Contains(t, ddl, string(f)+" TEXT")
	}
	assert.Contains(t, upsertDetailSQL, "ON CONFLICT (missile_id) DO UPDATE")
}

func TestReferenceDDLColumns(t *testing.T) {
	t.Parallel()

	for _, family := range catalog.Families {
		ddl := referenceDDL(family)
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS "+family.Table()+" (")
		assert.Contains(t, ddl, "\tdescription TEXT,\n", family)
		assert.Contains(t, ddl, "ALTER TABLE "+family.Table()+" ADD COLUMN IF NOT EXISTS description TEXT", family)
		if family == catalog.FamilyCountry {
			assert.Contains(t, ddl, "\tcode TEXT,\n")
			assert.Contains(t, ddl, "ADD COLUMN IF NOT EXISTS code TEXT")
		} else {
			assert.NotContains(t, ddl, "code TEXT", family)
		}
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ended := started.Add(time.Minute)

	tables := pgxmock.NewRows([]string{"label", "count"})
	for _, table := range statTables {
		tables.AddRow(table, int64(1))
	}
	mock.ExpectQuery("UNION ALL").WillReturnRows(tables)
	mock.ExpectQuery("LEFT JOIN countries").
		WillReturnRows(pgxmock.NewRows([]string{"label", "count"}).AddRow("Россия", int64(10)).AddRow("США", int64(4)))
	mock.ExpectQuery("LEFT JOIN purposes").
		WillReturnRows(pgxmock.NewRows([]string{"label", "count"}).AddRow("Unknown", int64(14)))
	mock.ExpectQuery("WHEN range_km").
		WillReturnRows(pgxmock.NewRows([]string{"label", "count"}).AddRow("<100 km", int64(2)).AddRow(">5000 km", int64(3)))
	mock.ExpectQuery("year_developed / 10").
		WillReturnRows(pgxmock.NewRows([]string{"label", "count"}).AddRow("1990s", int64(5)))
	mock.ExpectQuery("FROM characteristics").
		WillReturnRows(pgxmock.NewRows([]string{"label", "count"}).AddRow("Дальность", int64(9)))
	mock.ExpectQuery("FROM import_sessions").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "session_name", "mode", "start_time", "end_time", "status",
			"inserted", "updated", "skipped", "failed", "notes",
		}).AddRow(int64(1), "import-1", "update", started, &ended, "completed",
			int32(3), int32(1), int32(0), int32(1), ""))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Len(t, stats.Tables, len(statTables))
	assert.Equal(t, []catalog.Count{{Label: "Россия", Value: 10}, {Label: "США", Value: 4}}, stats.ByCountry)
	assert.Equal(t, "Unknown", stats.ByPurpose[0].Label)
	assert.Len(t, stats.RangeBuckets, 2)
	assert.Equal(t, "1990s", stats.Decades[0].Label)
	assert.Equal(t, 9, stats.TopCharacteristics[0].Value)
	require.Len(t, stats.Sessions, 1)
	assert.Equal(t, catalog.SessionCompleted, stats.Sessions[0].Status)
	assert.Equal(t, 5, stats.Sessions[0].Stats.Total())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsPropagatesQueryErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("UNION ALL").WillReturnError(errors.New("relation does not exist"))

	_, err := store.Stats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table counts")
}

func TestPingWrapsUnavailable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(errors.New("dial tcp: refused"))

	err = store.Ping(context.Background())
	require.ErrorIs(t, err, catalog.ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func ptr(s string) *string { return &s }
