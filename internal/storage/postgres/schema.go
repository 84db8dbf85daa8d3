package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

// referenceColumns maps each family to its foreign key column on missiles.
var referenceColumns = map[catalog.Family]string{
	catalog.FamilyCountry:  "country_id",
	catalog.FamilyPurpose:  "purpose_id",
	catalog.FamilyPlatform: "base_type_id",
	catalog.FamilyPayload:  "warhead_type_id",
	catalog.FamilyGuidance: "guidance_system_id",
}

const missilesDDL = `
CREATE TABLE IF NOT EXISTS missiles (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	detail_url TEXT NOT NULL UNIQUE,
	index_url TEXT,
	page_number INTEGER,
	range_km INTEGER,
	year_developed INTEGER,
	description TEXT,
	country_id BIGINT REFERENCES countries(id),
	purpose_id BIGINT REFERENCES purposes(id),
	base_type_id BIGINT REFERENCES base_types(id),
	warhead_type_id BIGINT REFERENCES warhead_types(id),
	guidance_system_id BIGINT REFERENCES guidance_systems(id),
	has_detail BOOLEAN NOT NULL DEFAULT false,
	scraped_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const childrenDDL = `
CREATE TABLE IF NOT EXISTS characteristics (
	id BIGSERIAL PRIMARY KEY,
	missile_id BIGINT NOT NULL REFERENCES missiles(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	field_name TEXT NOT NULL,
	field_value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS characteristics_missile_idx ON characteristics (missile_id);
CREATE TABLE IF NOT EXISTS content_blocks (
	id BIGSERIAL PRIMARY KEY,
	missile_id BIGINT NOT NULL REFERENCES missiles(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	label TEXT,
	text TEXT
);
CREATE INDEX IF NOT EXISTS content_blocks_missile_idx ON content_blocks (missile_id);
CREATE TABLE IF NOT EXISTS content_block_links (
	id BIGSERIAL PRIMARY KEY,
	block_id BIGINT NOT NULL REFERENCES content_blocks(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	url TEXT NOT NULL,
	text TEXT
);
CREATE TABLE IF NOT EXISTS missile_media (
	id BIGSERIAL PRIMARY KEY,
	missile_id BIGINT NOT NULL REFERENCES missiles(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	url TEXT NOT NULL,
	media_type TEXT NOT NULL,
	alt_text TEXT
);
CREATE INDEX IF NOT EXISTS missile_media_missile_idx ON missile_media (missile_id)`

const sessionsDDL = `
CREATE TABLE IF NOT EXISTS import_sessions (
	id BIGSERIAL PRIMARY KEY,
	session_name TEXT NOT NULL,
	mode TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ,
	status TEXT NOT NULL,
	total_records INTEGER NOT NULL DEFAULT 0,
	inserted INTEGER NOT NULL DEFAULT 0,
	updated INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	notes TEXT
)`

// Migrate creates the catalog schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return classify(fmt.Errorf("migrate: %w", err))
		}
	}
	return nil
}

func schemaStatements() []string {
	stmts := make([]string, 0, len(catalog.Families)+4)
	for _, family := range catalog.Families {
		stmts = append(stmts, referenceDDL(family))
	}
	return append(stmts, missilesDDL, detailsDDL(), childrenDDL, sessionsDDL)
}

// referenceDDL creates one lookup table. The ALTERs bring tables created
// before description and code existed up to date.
func referenceDDL(family catalog.Family) string {
	table := family.Table()
	var b strings.Builder
	fmt.Fprintf(&b, `
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL UNIQUE,
	description TEXT,
`, table)
	if family == catalog.FamilyCountry {
		b.WriteString("\tcode TEXT,\n")
	}
	b.WriteString("\tcreated_at TIMESTAMPTZ NOT NULL DEFAULT now()\n);\n")
	fmt.Fprintf(&b, "ALTER TABLE %s ADD COLUMN IF NOT EXISTS description TEXT", table)
	if family == catalog.FamilyCountry {
		fmt.Fprintf(&b, ";\nALTER TABLE %s ADD COLUMN IF NOT EXISTS code TEXT", table)
	}
	return b.String()
}

func detailsDDL() string {
	var b strings.Builder
	b.WriteString(`
CREATE TABLE IF NOT EXISTS missile_details (
	id BIGSERIAL PRIMARY KEY,
	missile_id BIGINT NOT NULL UNIQUE REFERENCES missiles(id) ON DELETE CASCADE,
	detailed_filename TEXT,
`)
	for _, f := range catalog.DetailFields {
		fmt.Fprintf(&b, "\t%s TEXT,\n", f)
	}
	b.WriteString("\tscraped_at TIMESTAMPTZ,\n\tupdated_at TIMESTAMPTZ NOT NULL DEFAULT now()\n)")
	return b.String()
}
