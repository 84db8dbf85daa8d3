package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

var statTables = []string{
	"missiles",
	"missile_details",
	"countries",
	"purposes",
	"base_types",
	"warhead_types",
	"guidance_systems",
	"characteristics",
	"content_blocks",
	"content_block_links",
	"missile_media",
	"import_sessions",
}

const (
	byCountryQuery = `
SELECT COALESCE(c.name, 'Unknown'), count(*)
FROM missiles m LEFT JOIN countries c ON c.id = m.country_id
GROUP BY 1 ORDER BY 2 DESC, 1 LIMIT 15`

	byPurposeQuery = `
SELECT COALESCE(p.name, 'Unknown'), count(*)
FROM missiles m LEFT JOIN purposes p ON p.id = m.purpose_id
GROUP BY 1 ORDER BY 2 DESC, 1 LIMIT 15`

	rangeBucketsQuery = `
SELECT CASE
	WHEN range_km < 100 THEN '<100 km'
	WHEN range_km < 1000 THEN '100-1000 km'
	WHEN range_km < 5000 THEN '1000-5000 km'
	ELSE '>5000 km'
END, count(*)
FROM missiles WHERE range_km IS NOT NULL
GROUP BY 1 ORDER BY min(range_km)`

	decadesQuery = `
SELECT ((year_developed / 10) * 10)::text || 's', count(*)
FROM missiles WHERE year_developed IS NOT NULL
GROUP BY 1 ORDER BY 1`

	topCharacteristicsQuery = `
SELECT field_name, count(*) FROM characteristics
GROUP BY 1 ORDER BY 2 DESC, 1 LIMIT 10`

	recentSessionsQuery = `
SELECT id, session_name, mode, start_time, end_time, status, inserted, updated, skipped, failed, COALESCE(notes, '')
FROM import_sessions ORDER BY start_time DESC, id DESC LIMIT 5`
)

func tableCountsQuery() string {
	parts := make([]string, len(statTables))
	for i, t := range statTables {
		parts[i] = fmt.Sprintf("SELECT '%s', count(*) FROM %s", t, t)
	}
	return strings.Join(parts, " UNION ALL ")
}

// Stats aggregates the catalog for reporting.
func (s *Store) Stats(ctx context.Context) (catalog.StoreStats, error) {
	var (
		out catalog.StoreStats
		err error
	)
	steps := []struct {
		name  string
		query string
		dst   *[]catalog.Count
	}{
		{"table counts", tableCountsQuery(), &out.Tables},
		{"by country", byCountryQuery, &out.ByCountry},
		{"by purpose", byPurposeQuery, &out.ByPurpose},
		{"range buckets", rangeBucketsQuery, &out.RangeBuckets},
		{"decades", decadesQuery, &out.Decades},
		{"top characteristics", topCharacteristicsQuery, &out.TopCharacteristics},
	}
	for _, step := range steps {
		if *step.dst, err = s.counts(ctx, step.query); err != nil {
			return catalog.StoreStats{}, classify(fmt.Errorf("stats %s: %w", step.name, err))
		}
	}
	if out.Sessions, err = s.recentSessions(ctx); err != nil {
		return catalog.StoreStats{}, classify(fmt.Errorf("stats sessions: %w", err))
	}
	return out, nil
}

func (s *Store) counts(ctx context.Context, query string) ([]catalog.Count, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Count
	for rows.Next() {
		var (
			c     catalog.Count
			value int64
		)
		if err := rows.Scan(&c.Label, &value); err != nil {
			return nil, err
		}
		c.Value = int(value)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) recentSessions(ctx context.Context) ([]catalog.ImportSession, error) {
	rows, err := s.pool.Query(ctx, recentSessionsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.ImportSession
	for rows.Next() {
		var (
			sess   catalog.ImportSession
			mode   string
			status string
			ended  *time.Time
			counts [4]int32
		)
		if err := rows.Scan(&sess.ID, &sess.Name, &mode, &sess.StartedAt, &ended, &status,
			&counts[0], &counts[1], &counts[2], &counts[3], &sess.Notes); err != nil {
			return nil, err
		}
		sess.Mode = catalog.ImportMode(mode)
		sess.Status = catalog.SessionStatus(status)
		sess.EndedAt = ended
		sess.Stats = catalog.ImportStats{
			Inserted: int(counts[0]),
			Updated:  int(counts[1]),
			Skipped:  int(counts[2]),
			Failed:   int(counts[3]),
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
