package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
}

// txStore implements catalog.Tx on an open transaction.
type txStore struct {
	q querier
}

var _ catalog.Tx = (*txStore)(nil)

var (
	characteristicColumns = []string{"missile_id", "position", "field_name", "field_value"}
	linkColumns           = []string{"block_id", "position", "url", "text"}
	mediaColumns          = []string{"missile_id", "position", "url", "media_type", "alt_text"}
)

var upsertDetailSQL = buildUpsertDetailSQL()

func (t *txStore) FindItemByURL(ctx context.Context, detailURL string) (int64, bool, error) {
	var id int64
	err := t.q.QueryRow(ctx, `SELECT id FROM missiles WHERE detail_url = $1`, detailURL).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify(fmt.Errorf("find missile: %w", err))
	}
	return id, true, nil
}

func (t *txStore) InsertItem(ctx context.Context, item catalog.Item) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `
INSERT INTO missiles (
	name,
	detail_url,
	index_url,
	page_number,
	range_km,
	year_developed,
	description,
	country_id,
	purpose_id,
	base_type_id,
	warhead_type_id,
	guidance_system_id,
	has_detail,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) RETURNING id`, itemArgs(item)...).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert missile: %w", err)
	}
	return id, nil
}

// UpdateItem overwrites the card-level columns of an existing row. A
// basic-only record never clears detail data already stored for the item.
func (t *txStore) UpdateItem(ctx context.Context, item catalog.Item) error {
	args := append([]any{item.ID}, itemArgs(item)...)
	tag, err := t.q.Exec(ctx, `
UPDATE missiles SET
	name = $2,
	detail_url = $3,
	index_url = $4,
	page_number = $5,
	range_km = $6,
	year_developed = $7,
	description = COALESCE($8, description),
	country_id = $9,
	purpose_id = $10,
	base_type_id = $11,
	warhead_type_id = $12,
	guidance_system_id = $13,
	has_detail = has_detail OR $14,
	scraped_at = $15,
	updated_at = now()
WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update missile %d: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update missile %d: no such row", item.ID)
	}
	return nil
}

func itemArgs(item catalog.Item) []any {
	var pageNumber *int
	if item.PageNumber > 0 {
		pageNumber = &item.PageNumber
	}
	return []any{
		item.Name,
		item.DetailURL,
		nullString(item.IndexURL),
		pageNumber,
		item.RangeKM,
		item.YearDeveloped,
		nullString(item.Description),
		referenceArg(item.References, catalog.FamilyCountry),
		referenceArg(item.References, catalog.FamilyPurpose),
		referenceArg(item.References, catalog.FamilyPlatform),
		referenceArg(item.References, catalog.FamilyPayload),
		referenceArg(item.References, catalog.FamilyGuidance),
		item.HasDetail,
		item.ScrapedAt,
	}
}

func referenceArg(refs catalog.ReferenceIDs, family catalog.Family) *int64 {
	id, ok := refs[family]
	if !ok || id == 0 {
		return nil
	}
	return &id
}

func (t *txStore) UpsertDetail(ctx context.Context, detail catalog.ItemDetail) error {
	args := make([]any, 0, len(catalog.DetailFields)+3)
	args = append(args, detail.ItemID, nullString(detail.DetailFile))
	for _, f := range catalog.DetailFields {
		args = append(args, nullString(detail.Specs.Value(f)))
	}
	args = append(args, detail.ScrapedAt)
	if _, err := t.q.Exec(ctx, upsertDetailSQL, args...); err != nil {
		return fmt.Errorf("upsert missile detail %d: %w", detail.ItemID, err)
	}
	return nil
}

func buildUpsertDetailSQL() string {
	cols := []string{"missile_id", "detailed_filename"}
	for _, f := range catalog.DetailFields {
		cols = append(cols, string(f))
	}
	cols = append(cols, "scraped_at")

	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if c != "missile_id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	updates = append(updates, "updated_at = now()")
	return fmt.Sprintf(
		"INSERT INTO missile_details (%s) VALUES (%s) ON CONFLICT (missile_id) DO UPDATE SET %s",
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
}

// ReplaceChildren deletes the item's owned rows and writes rec's collections
// in source order. Block links go away with their blocks.
func (t *txStore) ReplaceChildren(ctx context.Context, itemID int64, rec catalog.Record) (catalog.ChildCounts, error) {
	var counts catalog.ChildCounts
	for _, table := range []string{"characteristics", "content_blocks", "missile_media"} {
		if _, err := t.q.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE missile_id = $1`, table), itemID); err != nil {
			return counts, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if len(rec.Characteristics) > 0 {
		rows := make([][]any, 0, len(rec.Characteristics))
		for i, c := range rec.Characteristics {
			rows = append(rows, []any{itemID, i, c.Name, c.Value})
		}
		n, err := t.q.CopyFrom(ctx, pgx.Identifier{"characteristics"}, characteristicColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return counts, fmt.Errorf("copy characteristics: %w", err)
		}
		counts.Characteristics = int(n)
	}

	var links [][]any
	for i, block := range rec.Blocks {
		var blockID int64
		err := t.q.QueryRow(ctx,
			`INSERT INTO content_blocks (missile_id, position, name, label, text) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			itemID, i, block.Name, nullString(block.Label), nullString(block.Text),
		).Scan(&blockID)
		if err != nil {
			return counts, fmt.Errorf("insert content block %q: %w", block.Name, err)
		}
		counts.Blocks++
		for j, l := range block.Links {
			links = append(links, []any{blockID, j, l.URL, nullString(l.Text)})
		}
	}
	if len(links) > 0 {
		n, err := t.q.CopyFrom(ctx, pgx.Identifier{"content_block_links"}, linkColumns, pgx.CopyFromRows(links))
		if err != nil {
			return counts, fmt.Errorf("copy content block links: %w", err)
		}
		counts.Links = int(n)
	}

	if len(rec.Media) > 0 {
		rows := make([][]any, 0, len(rec.Media))
		for i, m := range rec.Media {
			rows = append(rows, []any{itemID, i, m.URL, string(m.Type), nullString(m.AltText)})
		}
		n, err := t.q.CopyFrom(ctx, pgx.Identifier{"missile_media"}, mediaColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return counts, fmt.Errorf("copy media: %w", err)
		}
		counts.Media = int(n)
	}
	return counts, nil
}
